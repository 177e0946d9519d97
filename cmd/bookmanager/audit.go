package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"bookmanager/internal/audit"
)

func newAuditCmd(flags *rootFlags) *cobra.Command {
	var (
		remote remoteFlags
		output string
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Run the consistency checks and print a report",
		Long: `Runs the circulation consistency checks once. With --server the checks
run on a live instance through its API, otherwise against the configured
database. Exits non-zero when any check fails.`,
		Example: `  # Against the configured database
  bookmanager audit

  # Against a running server
  bookmanager audit --server http://localhost:8080 --username admin --password secret1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var report *audit.Report
			if remote.server != "" {
				c, err := remote.client(cmd.Context())
				if err != nil {
					return err
				}
				if report, err = c.Audit(cmd.Context()); err != nil {
					return err
				}
			} else {
				cfg, logger, err := flags.load()
				if err != nil {
					return err
				}
				if cfg.Database.URL == "" {
					return fmt.Errorf("database.url is required without --server")
				}
				a, err := newApp(cmd.Context(), cfg, logger)
				if err != nil {
					return err
				}
				defer a.Close()
				report = a.audit.Run(cmd.Context())
			}

			var err error
			switch output {
			case "yaml":
				err = audit.WriteReport(cmd.OutOrStdout(), report)
			case "json":
				err = printJSON(cmd.OutOrStdout(), report)
			default:
				err = fmt.Errorf("unknown output format %q", output)
			}
			if err != nil {
				return err
			}
			if n := len(report.Violations()); n > 0 {
				return fmt.Errorf("%d audit checks failed", n)
			}
			return nil
		},
	}
	remote.register(cmd, false)
	cmd.Flags().StringVarP(&output, "output", "o", "yaml", "Report format: yaml or json")
	return cmd
}

// remoteFlags select and authenticate against a running server.
type remoteFlags struct {
	server   string
	username string
	password string
	token    string
}

func (f *remoteFlags) register(cmd *cobra.Command, defaultServer bool) {
	server := ""
	if defaultServer {
		server = envOr("BOOKMANAGER_SERVER", "http://localhost:8080")
	}
	cmd.Flags().StringVar(&f.server, "server", server, "Base URL of a running bookmanager")
	cmd.Flags().StringVar(&f.username, "username", os.Getenv("BOOKMANAGER_USERNAME"), "Login username")
	cmd.Flags().StringVar(&f.password, "password", os.Getenv("BOOKMANAGER_PASSWORD"), "Login password")
	cmd.Flags().StringVar(&f.token, "token", os.Getenv("BOOKMANAGER_TOKEN"), "Bearer token, instead of username and password")
}
