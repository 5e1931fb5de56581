package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newLogsCmd() *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "logs <session-id>",
		Short: "Stream a session's log lines",
		Long:  "Attaches to the session's live log stream. Only lines produced after attaching are shown.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogs(cmd, serverURL, args[0])
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", defaultServerURL, "control API base URL")
	return cmd
}

func runLogs(cmd *cobra.Command, serverURL, id string) error {
	body, err := newClient(serverURL).stream("/api/sessions/" + id + "/logs")
	if err != nil {
		return err
	}
	defer body.Close()

	out := cmd.OutOrStdout()
	scanner := bufio.NewScanner(body)
	var event string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data := strings.TrimPrefix(line, "data: ")
			switch event {
			case "logs":
				var payload struct {
					Lines []string `json:"lines"`
				}
				if err := json.Unmarshal([]byte(data), &payload); err != nil {
					continue
				}
				for _, l := range payload.Lines {
					fmt.Fprintln(out, l)
				}
			case "end":
				fmt.Fprintf(out, "-- session %s ended --\n", id)
				return nil
			}
		}
	}
	return scanner.Err()
}
