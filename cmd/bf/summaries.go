package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kmajdoub/botfleet/internal/session"
)

func newSummariesCmd() *cobra.Command {
	var (
		serverURL string
		leader    string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "summaries",
		Short: "List archived run summaries",
		RunE: func(cmd *cobra.Command, args []string) error {
			query := "?limit=" + strconv.Itoa(limit)
			if leader != "" {
				query += "&leader=" + leader
			}

			var body struct {
				Summaries []session.RunSummary `json:"summaries"`
			}
			if err := newClient(serverURL).get("/api/summaries"+query, &body); err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION\tLEADER\tSTATUS\tRUNTIME\tKAMAS\tFIGHTS\tENDED")
			for _, s := range body.Summaries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
					s.SessionID, s.Leader, s.Status,
					formatRuntime(s.TotalRunTime), formatKamas(s.EarnedKamas),
					s.NbrFightsDone, s.EndedAt.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", defaultServerURL, "control API base URL")
	cmd.Flags().StringVar(&leader, "leader", "", "filter by leader login")
	cmd.Flags().IntVar(&limit, "limit", 50, "max summaries to fetch")
	return cmd
}
