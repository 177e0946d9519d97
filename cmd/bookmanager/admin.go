package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newAdminCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage admin accounts",
	}
	cmd.AddCommand(newAdminCreateCmd(flags))
	return cmd
}

func newAdminCreateCmd(flags *rootFlags) *cobra.Command {
	var username, name, password string

	cmd := &cobra.Command{
		Use:     "create",
		Short:   "Create an admin account in the configured database",
		Example: `  bookmanager admin create --username admin --name "Head Librarian" --password secret1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := flags.load()
			if err != nil {
				return err
			}
			if cfg.Database.URL == "" {
				return errors.New("database.url is required")
			}
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			admin, err := a.membership.CreateAdmin(cmd.Context(), username, name, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created admin %s (id %d)\n", admin.Username, admin.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "Login name")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&password, "password", "", "Password, at least 6 characters")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}
