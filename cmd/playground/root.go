package main

import (
	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/playground/internal/infrastructure/config"
	perrors "github.com/GriffinCanCode/playground/internal/shared/errors"
)

// options are the persistent flags shared by every command
type options struct {
	logLevel string
	dev      bool
	cfg      *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "playground",
		Short: "Interactive tutorial workspace server",
		Long: `playground serves tutorial workspaces: each workspace boots a sandbox,
exposes its files of interest for editing and streams its terminal.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return perrors.ConfigError("load config", err)
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Logging.Level = opts.logLevel
			}
			if cmd.Flags().Changed("dev") {
				cfg.Logging.Development = opts.dev
			}
			opts.cfg = cfg
			return nil
		},
	}

	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&opts.dev, "dev", false, "Colored console logs and gin debug mode")
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(newServeCmd(opts), newCatalogCmd(opts))
	return root
}
