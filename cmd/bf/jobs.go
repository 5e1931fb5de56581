package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newJobsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Manage the job catalog",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "botfleet.yaml", "path to Botfleet config file")

	cmd.AddCommand(&cobra.Command{
		Use:   "import <file>",
		Short: "Import job definitions from a JSON file",
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
			n, err := cat.ImportJobs(f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d jobs.\n", n)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored jobs and their resources",
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := openCatalog(configPath)
			if err != nil {
				return err
			}
			jobs, err := cat.ListJobs()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tRESOURCES")
			for _, j := range jobs {
				fmt.Fprintf(w, "%d\t%s\t%d\n", j.ID, j.Name, len(j.Resources))
			}
			return w.Flush()
		},
	})

	return cmd
}
