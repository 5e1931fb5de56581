package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStopCmd() *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "stop <session-id>",
		Short: "Gracefully stop a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient(serverURL).post("/api/sessions/"+args[0]+"/stop", nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stop requested for %s.\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", defaultServerURL, "control API base URL")
	return cmd
}
