package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kmajdoub/botfleet/internal/session"
)

func newSessionsCmd() *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage running sessions",
	}
	cmd.PersistentFlags().StringVar(&serverURL, "server", defaultServerURL, "control API base URL")

	cmd.AddCommand(newSessionsCreateCmd(&serverURL))
	cmd.AddCommand(newSessionsListCmd(&serverURL))
	cmd.AddCommand(newSessionsShowCmd(&serverURL))
	return cmd
}

func newSessionsCreateCmd(serverURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   "create <descriptor.json>",
		Short: "Create a session from a descriptor file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			var d session.Descriptor
			if err := json.Unmarshal(data, &d); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}

			var sess session.Session
			if err := newClient(*serverURL).post("/api/sessions", d, &sess); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session %s created (%s, leader %s)\n",
				sess.ID, sess.Type, sess.Leader.Name)
			return nil
		},
	}
}

func newSessionsListCmd(serverURL *string) *cobra.Command {
	var (
		status     string
		sessType   string
		activeOnly bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			query := "?"
			if status != "" {
				query += "status=" + status + "&"
			}
			if sessType != "" {
				query += "type=" + sessType + "&"
			}
			if activeOnly {
				query += "active=true"
			}

			var body struct {
				Sessions []session.Session `json:"sessions"`
			}
			if err := newClient(*serverURL).get("/api/sessions"+query, &body); err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tLEADER\tTYPE\tSTATUS\tKAMAS\tFIGHTS\tRUNTIME")
			for _, s := range body.Sessions {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
					s.ID, s.Leader.Name, s.Type, s.Status,
					formatKamas(s.Metrics.EarnedKamas), s.Metrics.NbrFightsDone,
					formatRuntime(s.Metrics.TotalRunTime))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&sessType, "type", "", "filter by session type")
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only non-terminal sessions")
	return cmd
}

func newSessionsShowCmd(serverURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show one session as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var sess session.Session
			if err := newClient(*serverURL).get("/api/sessions/"+args[0], &sess); err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(sess)
		},
	}
}
