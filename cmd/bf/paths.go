package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kmajdoub/botfleet/internal/catalog"
	"github.com/kmajdoub/botfleet/internal/config"
	"github.com/kmajdoub/botfleet/internal/db"
)

func newPathsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "paths",
		Short: "Manage the farm path catalog",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "botfleet.yaml", "path to Botfleet config file")

	cmd.AddCommand(&cobra.Command{
		Use:   "import <file>",
		Short: "Import path definitions from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := openCatalog(configPath)
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open %s: %w", args[0], err)
			}
			defer f.Close()
			n, err := cat.ImportPaths(f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d paths.\n", n)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored paths",
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := openCatalog(configPath)
			if err != nil {
				return err
			}
			paths, err := cat.ListPaths()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tSTART MAP")
			for _, p := range paths {
				start := "-"
				if p.StartVertex != nil {
					start = fmt.Sprintf("%.0f", p.StartVertex.MapID)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", p.ID, p.Type, start)
			}
			return w.Flush()
		},
	})

	return cmd
}

// openCatalog loads config, connects and migrates, and returns the catalog.
func openCatalog(configPath string) (*catalog.Catalog, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	conn, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(conn); err != nil {
		return nil, err
	}
	return catalog.New(conn), nil
}
