package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"bookmanager/internal/telemetry"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	var (
		port          int
		adminUser     string
		adminPassword string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Starts the HTTP API under /api/v1 with /healthz and /metrics.

Without database.url the service keeps everything in memory. Use
--admin-user to create an admin account at startup in that mode.`,
		Example: `  # Start on the configured port against Postgres
  BOOKMANAGER_DATABASE_URL=postgres://localhost/library bookmanager serve

  # In-memory demo with an admin account
  bookmanager serve --admin-user admin --admin-password secret1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := flags.load()
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Server.Port = port
			}

			ctx := cmd.Context()
			shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
				ServiceName: cfg.Telemetry.ServiceName,
				Endpoint:    cfg.Telemetry.OTLPEndpoint,
				SampleRate:  cfg.Telemetry.SampleRate,
				Insecure:    cfg.Telemetry.Insecure,
			})
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
				defer cancel()
				if err := shutdownTracing(shutdownCtx); err != nil {
					logger.Error("tracer shutdown failed", "error", err)
				}
			}()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.bootstrapAdmin(ctx, adminUser, adminPassword); err != nil {
				return fmt.Errorf("failed to create admin account: %w", err)
			}

			if cfg.Audit.Interval > 0 {
				go a.audit.Schedule(ctx, cfg.Audit.Interval)
			}

			addr := fmt.Sprintf(":%d", cfg.Server.Port)
			server := &http.Server{
				Addr:         addr,
				Handler:      a.router(),
				ReadTimeout:  cfg.Server.ReadTimeout,
				WriteTimeout: cfg.Server.WriteTimeout,
			}

			serverErr := make(chan error, 1)
			go func() {
				logger.Info("bookmanager listening", "addr", addr)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
			}()

			select {
			case <-ctx.Done():
				logger.Info("shutting down server")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					logger.Error("server shutdown failed", "error", err)
					return err
				}
				logger.Info("server stopped")
				return nil
			case err := <-serverErr:
				return err
			}
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port to listen on (overrides server.port)")
	cmd.Flags().StringVar(&adminUser, "admin-user", "", "Create this admin account at startup if missing")
	cmd.Flags().StringVar(&adminPassword, "admin-password", "", "Password for --admin-user")
	return cmd
}
