// Package config provides YAML-based configuration loading for Botfleet.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values can be written as "30s".
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config: parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config is the top-level Botfleet configuration, loaded from config.yaml.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Worker   WorkerConfig   `yaml:"worker"`
	Logs     LogsConfig     `yaml:"logs"`
	Reaper   ReaperConfig   `yaml:"reaper"`
	Notify   NotifyConfig   `yaml:"notify"`
}

// ServerConfig holds the control API listener settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// DatabaseConfig holds catalog/archive storage settings. The sqlite
// driver needs only a path; mysql needs host, port and database.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "sqlite" or "mysql"
	Path     string `yaml:"path"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// WorkerConfig holds worker process settings and supervisor timeouts.
type WorkerConfig struct {
	Binary          string   `yaml:"binary"`
	Args            []string `yaml:"args"`
	WorkDir         string   `yaml:"work_dir"`
	SpawnTimeout    Duration `yaml:"spawn_timeout"`
	StopTimeout     Duration `yaml:"stop_timeout"`
	DisconnectGrace Duration `yaml:"disconnect_grace"`
	MaxRestarts     int      `yaml:"max_restarts"`
}

// LogsConfig bounds the log fan-out buffers.
type LogsConfig struct {
	BufferLines       int      `yaml:"buffer_lines"`
	FlushInterval     Duration `yaml:"flush_interval"`
	SubscriberTimeout Duration `yaml:"subscriber_timeout"`
}

// ReaperConfig controls removal of ended sessions from the registry.
type ReaperConfig struct {
	Schedule  string   `yaml:"schedule"` // 5-field cron expression
	Retention Duration `yaml:"retention"`
}

// NotifyConfig holds optional chat notification targets.
type NotifyConfig struct {
	Discord DiscordConfig `yaml:"discord"`
	Slack   SlackConfig   `yaml:"slack"`
}

// DiscordConfig configures crash/termination notices over Discord.
type DiscordConfig struct {
	Token     string `yaml:"token"`
	ChannelID string `yaml:"channel_id"`
}

// SlackConfig configures crash/termination notices over Slack.
type SlackConfig struct {
	Token   string `yaml:"token"`
	Channel string `yaml:"channel"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8077
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "botfleet.db"
	}
	if c.Database.Driver == "mysql" {
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
	}
	if c.Worker.SpawnTimeout.Duration == 0 {
		c.Worker.SpawnTimeout.Duration = 30 * time.Second
	}
	if c.Worker.StopTimeout.Duration == 0 {
		c.Worker.StopTimeout.Duration = 15 * time.Second
	}
	if c.Worker.DisconnectGrace.Duration == 0 {
		c.Worker.DisconnectGrace.Duration = 2 * time.Minute
	}
	if c.Logs.BufferLines == 0 {
		c.Logs.BufferLines = 300
	}
	if c.Logs.FlushInterval.Duration == 0 {
		c.Logs.FlushInterval.Duration = 500 * time.Millisecond
	}
	if c.Logs.SubscriberTimeout.Duration == 0 {
		c.Logs.SubscriberTimeout.Duration = 2 * time.Minute
	}
	if c.Reaper.Schedule == "" {
		c.Reaper.Schedule = "*/5 * * * *"
	}
	if c.Reaper.Retention.Duration == 0 {
		c.Reaper.Retention.Duration = 10 * time.Minute
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Worker.Binary == "" {
		errs = append(errs, "worker.binary is required")
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			errs = append(errs, "database.path is required for sqlite")
		}
	case "mysql":
		if c.Database.Database == "" {
			errs = append(errs, "database.database is required for mysql")
		}
	default:
		errs = append(errs, fmt.Sprintf("database.driver must be sqlite or mysql, got %q", c.Database.Driver))
	}
	if c.Worker.MaxRestarts < 0 {
		errs = append(errs, "worker.max_restarts must not be negative")
	}
	if c.Notify.Discord.Token != "" && c.Notify.Discord.ChannelID == "" {
		errs = append(errs, "notify.discord.channel_id is required when a token is set")
	}
	if c.Notify.Slack.Token != "" && c.Notify.Slack.Channel == "" {
		errs = append(errs, "notify.slack.channel is required when a token is set")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
