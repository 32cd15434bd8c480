package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/playground/internal/infrastructure/server"
)

func newCatalogCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect workspace descriptors",
	}
	cmd.AddCommand(newCatalogListCmd(opts), newCatalogValidateCmd(opts))
	return cmd
}

func newCatalogListCmd(opts *options) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workspaces with their files of interest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("dir") {
				dir = opts.cfg.Catalog.Dir
			}
			catalog, err := server.LoadCatalog(contextOrBackground(cmd), dir)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tFILES\tFILES OF INTEREST")
			for _, d := range catalog.List() {
				fmt.Fprintf(w, "%s\t%d\t%s\n", d.Name(), len(d.MountSet()), strings.Join(d.FilesOfInterest(), ", "))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Catalog directory (default CATALOG_DIR, else built-in)")
	return cmd
}

func newCatalogValidateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [dir]",
		Short: "Load every descriptor in a directory and report the first error",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := opts.cfg.Catalog.Dir
			if len(args) == 1 {
				dir = args[0]
			}
			catalog, err := server.LoadCatalog(contextOrBackground(cmd), dir)
			if err != nil {
				return err
			}

			source := dir
			if source == "" {
				source = "built-in catalog"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d workspace(s) valid\n", source, catalog.Len())
			return nil
		},
	}
}
