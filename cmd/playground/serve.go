package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/playground/internal/infrastructure/server"
	perrors "github.com/GriffinCanCode/playground/internal/shared/errors"
)

func newServeCmd(opts *options) *cobra.Command {
	var (
		port    string
		host    string
		backend string
		catalog string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("backend") {
				cfg.Sandbox.Backend = backend
			}
			if cmd.Flags().Changed("catalog") {
				cfg.Catalog.Dir = catalog
			}
			if err := cfg.Validate(); err != nil {
				return perrors.ConfigError("serve", err)
			}

			logger, err := server.NewLogger(cfg.Logging)
			if err != nil {
				return perrors.ConfigError("logger", err)
			}

			ctx, stop := signal.NotifyContext(contextOrBackground(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv, err := server.NewServer(ctx, cfg, logger)
			if err != nil {
				return err
			}
			return srv.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&port, "port", "8000", "Listen port (overrides PORT)")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "Listen host (overrides HOST)")
	cmd.Flags().StringVar(&backend, "backend", "jsvm", "Sandbox backend: jsvm or local (overrides SANDBOX_BACKEND)")
	cmd.Flags().StringVar(&catalog, "catalog", "", "Catalog directory (overrides CATALOG_DIR)")
	return cmd
}

// contextOrBackground guards commands executed without a context
func contextOrBackground(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
