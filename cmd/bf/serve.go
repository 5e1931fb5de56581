package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kmajdoub/botfleet/internal/api"
	"github.com/kmajdoub/botfleet/internal/catalog"
	"github.com/kmajdoub/botfleet/internal/config"
	"github.com/kmajdoub/botfleet/internal/db"
	"github.com/kmajdoub/botfleet/internal/logstream"
	"github.com/kmajdoub/botfleet/internal/notify"
	"github.com/kmajdoub/botfleet/internal/reaper"
	"github.com/kmajdoub/botfleet/internal/registry"
	"github.com/kmajdoub/botfleet/internal/supervisor"
	"github.com/kmajdoub/botfleet/internal/workerproc"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Botfleet orchestrator",
		Long:  "Starts the control API, worker supervisor and session reaper. Blocks until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "botfleet.yaml", "path to Botfleet config file")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	conn, err := db.Connect(cfg.Database)
	if err != nil {
		return err
	}
	if err := db.Migrate(conn); err != nil {
		return err
	}

	hub := logstream.New(cfg.Logs.BufferLines, cfg.Logs.SubscriberTimeout.Duration)
	reg := registry.New()
	cat := catalog.New(conn)
	archive := catalog.NewArchive(conn)

	notifier, err := buildNotifier(cfg.Notify)
	if err != nil {
		return err
	}

	sup, err := supervisor.New(supervisor.Opts{
		Registry: reg,
		Spawner: &workerproc.Spawner{
			Binary:        cfg.Worker.Binary,
			Args:          cfg.Worker.Args,
			WorkDir:       cfg.Worker.WorkDir,
			BatchInterval: cfg.Logs.FlushInterval.Duration,
		},
		Hub:             hub,
		Archive:         archive,
		Notifier:        notifier,
		SpawnTimeout:    cfg.Worker.SpawnTimeout.Duration,
		StopTimeout:     cfg.Worker.StopTimeout.Duration,
		DisconnectGrace: cfg.Worker.DisconnectGrace.Duration,
		MaxRestarts:     cfg.Worker.MaxRestarts,
	})
	if err != nil {
		return err
	}

	reap, err := reaper.New(reg, hub, cfg.Reaper.Schedule, cfg.Reaper.Retention.Duration)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go reap.Run(ctx)

	return api.Start(ctx, api.StartOpts{
		Service: api.NewService(reg, sup, cat),
		Catalog: cat,
		Archive: archive,
		Hub:     hub,
		Port:    cfg.Server.Port,
		Out:     cmd.OutOrStdout(),
	})
}

// buildNotifier assembles the configured chat notifiers. Returns nil
// when none are configured.
func buildNotifier(cfg config.NotifyConfig) (supervisor.Notifier, error) {
	var multi notify.Multi
	if cfg.Discord.Token != "" {
		d, err := notify.NewDiscord(notify.DiscordOpts{
			BotToken:  cfg.Discord.Token,
			ChannelID: cfg.Discord.ChannelID,
		})
		if err != nil {
			return nil, fmt.Errorf("notify: %w", err)
		}
		multi = append(multi, d)
	}
	if cfg.Slack.Token != "" {
		s, err := notify.NewSlack(notify.SlackOpts{
			BotToken: cfg.Slack.Token,
			Channel:  cfg.Slack.Channel,
		})
		if err != nil {
			return nil, fmt.Errorf("notify: %w", err)
		}
		multi = append(multi, s)
	}
	if len(multi) == 0 {
		return nil, nil
	}
	return multi, nil
}
