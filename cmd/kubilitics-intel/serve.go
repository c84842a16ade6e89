package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-intel/internal/server"
)

func serveCmd(g *globalFlags) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the REST, WebSocket and gRPC health server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig(ctx, g)
			if err != nil {
				return err
			}
			if port > 0 {
				cfg.Server.Port = port
			}

			a, err := newApp(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer a.Close()

			opts := []server.Option{
				server.WithLogger(a.logger),
				server.WithAuditLogger(a.auditLog),
				server.WithLLM(a.router),
			}
			if a.archive != nil {
				opts = append(opts, server.WithArchive(a.archive))
			}
			if a.cache != nil {
				opts = append(opts, server.WithCache(a.cache))
			}
			if a.nats != nil {
				opts = append(opts, server.WithHealthCheck("events", func(context.Context) error {
					if !a.nats.Connected() {
						return errors.New("nats disconnected")
					}
					return nil
				}))
			}

			srv, err := server.NewServer(cfg, a.orch, opts...)
			if err != nil {
				return err
			}
			a.logger.Info("starting "+appName,
				zap.String("version", Version),
				zap.String("llm_provider", string(a.router.Provider())),
				zap.Bool("llm_configured", a.router.Configured()),
				zap.Bool("database", cfg.Database.Enabled))

			err = srv.Run(ctx)
			a.logger.Info("shutdown complete")
			return err
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Override the configured HTTP port")
	return cmd
}
