// Package config loads daemon configuration: defaults, then an optional
// YAML file, then environment overrides (secrets are env-only).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Game     GameConfig     `yaml:"game"`
	RCON     RCONConfig     `yaml:"rcon"`
	Roster   RosterConfig   `yaml:"roster"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Commands CommandConfig  `yaml:"commands"`
	Store    StoreConfig    `yaml:"store"`
	OTel     OTelConfig     `yaml:"otel"`
	Discord  DiscordConfig  `yaml:"discord"`
}

type GameConfig struct {
	LogPath         string        `yaml:"log_path" env:"URT30T_GAMES_LOG"`
	ReadDelay       time.Duration `yaml:"read_delay" env:"URT30T_LOG_READ_DELAY"`
	MaxReadErrors   int           `yaml:"max_read_errors" env:"URT30T_LOG_MAX_READ_ERRORS"`
	ReplayFromStart bool          `yaml:"replay_from_start" env:"URT30T_LOG_REPLAY_FROM_START"`
}

type RCONConfig struct {
	Host     string `yaml:"host" env:"URT30T_RCON_HOST"`
	Port     string `yaml:"port" env:"URT30T_RCON_PORT"`
	Password string `yaml:"-" env:"URT30T_RCON_PASSWORD"` // env only
}

type RosterConfig struct {
	Interval    time.Duration `yaml:"interval" env:"URT30T_ROSTER_INTERVAL"`
	MaxFailures int           `yaml:"max_failures" env:"URT30T_ROSTER_MAX_FAILURES"`
}

type DispatchConfig struct {
	HandlerTimeout time.Duration `yaml:"handler_timeout" env:"URT30T_HANDLER_TIMEOUT"`
	QueueSize      int           `yaml:"queue_size" env:"URT30T_EVENT_QUEUE_SIZE"`
}

type CommandConfig struct {
	Marker        string        `yaml:"marker" env:"URT30T_COMMAND_MARKER"`
	Cooldown      time.Duration `yaml:"cooldown" env:"URT30T_COMMAND_COOLDOWN"`
	MessagePrefix string        `yaml:"message_prefix" env:"URT30T_MESSAGE_PREFIX"`
}

type StoreConfig struct {
	Path string `yaml:"path" env:"URT30T_DB_PATH"`
}

type OTelConfig struct {
	Enabled     bool   `yaml:"enabled" env:"URT30T_OTEL_ENABLED"`
	ServiceName string `yaml:"service_name" env:"URT30T_OTEL_SERVICE_NAME"`
}

type DiscordConfig struct {
	Enabled   bool     `yaml:"enabled"`
	BotToken  string   `yaml:"-" env:"DISCORD_BOT_TOKEN"`  // env only
	ChannelID string   `yaml:"-" env:"DISCORD_CHANNEL_ID"` // env only
	Events    []string `yaml:"events"`
}

func Default() Config {
	return Config{
		Game: GameConfig{
			ReadDelay:     250 * time.Millisecond,
			MaxReadErrors: 10,
		},
		RCON: RCONConfig{
			Host: "127.0.0.1",
			Port: "27960",
		},
		Roster: RosterConfig{
			Interval:    3 * time.Second,
			MaxFailures: 5,
		},
		Dispatch: DispatchConfig{
			HandlerTimeout: 5 * time.Second,
			QueueSize:      100,
		},
		Commands: CommandConfig{
			Marker:   "!",
			Cooldown: 2 * time.Second,
		},
		Store: StoreConfig{
			Path: "urt30t.db",
		},
		OTel: OTelConfig{
			Enabled:     true,
			ServiceName: "urt30t",
		},
		Discord: DiscordConfig{
			Enabled: true,
			Events:  []string{"all"},
		},
	}
}

// Load builds the effective configuration. The config file is optional; a
// missing file is not an error.
func Load() (Config, error) {
	cfg := Default()

	path := envOr("URT30T_CONFIG_PATH", "/etc/urt30t/config.yaml")
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}

	if cfg.Game.LogPath == "" {
		return cfg, fmt.Errorf("URT30T_GAMES_LOG (game.log_path) is required")
	}
	if cfg.RCON.Password == "" {
		return cfg, fmt.Errorf("URT30T_RCON_PASSWORD env is required")
	}
	if len(cfg.Commands.Marker) != 1 {
		return cfg, fmt.Errorf("command marker must be a single character, got %q", cfg.Commands.Marker)
	}

	if cfg.Discord.BotToken != "" && cfg.Discord.ChannelID == "" {
		return cfg, fmt.Errorf("DISCORD_CHANNEL_ID is required when DISCORD_BOT_TOKEN is set")
	}
	if cfg.Discord.BotToken == "" {
		cfg.Discord.Enabled = false
	}

	return cfg, nil
}

// DiscordEventAllowed reports whether an event kind should be mirrored to
// Discord.
func (c *Config) DiscordEventAllowed(kind string) bool {
	if !c.Discord.Enabled {
		return false
	}
	for _, e := range c.Discord.Events {
		if e == "all" || e == kind {
			return true
		}
	}
	return false
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
