package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"bookmanager/internal/config"
	"bookmanager/internal/logging"
)

type rootFlags struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:   "bookmanager",
		Short: "Library catalog, membership and circulation service",
		Long: `bookmanager runs the library HTTP API and offers admin commands for
migrations, consistency audits, admin accounts and loan operations.

Settings come from defaults, an optional YAML file (--config) and
BOOKMANAGER_* environment variables. A .env file is loaded when present.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			_ = godotenv.Load()
		},
	}
	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to a YAML config file")

	cmd.AddCommand(
		newServeCmd(flags),
		newMigrateCmd(flags),
		newAuditCmd(flags),
		newAdminCmd(flags),
		newLoanCmd(),
	)
	return cmd
}

// load reads the configuration and installs the process logger.
func (f *rootFlags) load() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, nil, err
	}
	logger := logging.Init(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	return cfg, logger, nil
}
