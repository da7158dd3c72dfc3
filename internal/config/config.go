package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Game     GameConfig     `yaml:"game"`
	Stats    StatsConfig    `yaml:"stats"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	HTTPPort   int    `yaml:"http_port"`
	LogLevel   string `yaml:"log_level"`
}

// DatabaseConfig holds SQLite settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// GameConfig describes the monitored Quake 3 server
type GameConfig struct {
	Address      string        `yaml:"address"`  // UDP address for live status queries
	LogPath      string        `yaml:"log_path"` // games.log to tail
	QueryTimeout time.Duration `yaml:"query_timeout"`
	TailInterval time.Duration `yaml:"tail_interval"`
	TailBackoff  time.Duration `yaml:"tail_backoff"` // respawn delay after the follower dies
}

// Seed persistence modes: what to do with events replayed from
// pre-existing log content at startup.
const (
	SeedPersistFresh  = "fresh" // persist only when the frags table is empty
	SeedPersistAlways = "always"
	SeedPersistNever  = "never"
)

// StatsConfig holds statistics policies
type StatsConfig struct {
	BotNames      []string      `yaml:"bot_names"`    // display names never counted as humans
	SeedPersist   string        `yaml:"seed_persist"` // fresh, always, never
	CountSuicides bool          `yaml:"count_suicides"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if cfg.Game.LogPath == "" && cfg.Game.Address == "" {
		return nil, fmt.Errorf("config: at least one of game.log_path or game.address is required")
	}

	switch cfg.Stats.SeedPersist {
	case SeedPersistFresh, SeedPersistAlways, SeedPersistNever:
	default:
		return nil, fmt.Errorf("config: invalid seed_persist %q", cfg.Stats.SeedPersist)
	}

	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = "127.0.0.1"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "/var/lib/fragwatch/fragwatch.db"
	}
	if cfg.Game.QueryTimeout == 0 {
		cfg.Game.QueryTimeout = time.Second
	}
	if cfg.Game.TailInterval == 0 {
		cfg.Game.TailInterval = 250 * time.Millisecond
	}
	if cfg.Game.TailBackoff == 0 {
		cfg.Game.TailBackoff = 2 * time.Second
	}
	if cfg.Stats.SeedPersist == "" {
		cfg.Stats.SeedPersist = SeedPersistFresh
	}
	if cfg.Stats.CacheTTL == 0 {
		cfg.Stats.CacheTTL = 2 * time.Second
	}
}
