package main

import (
	"errors"

	"github.com/spf13/cobra"

	"bookmanager/internal/store/postgres"
)

func newMigrateCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the Postgres schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := flags.load()
			if err != nil {
				return err
			}
			if cfg.Database.URL == "" {
				return errors.New("database.url is required")
			}
			db, err := postgres.Open(cmd.Context(), cfg.Database.URL, 1, 1)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := postgres.Migrate(cmd.Context(), db); err != nil {
				return err
			}
			logger.Info("schema up to date")
			return nil
		},
	}
}
