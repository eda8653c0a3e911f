// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig marks configuration errors that are fatal at startup.
// The exporter refuses to start half-configured rather than run a tick
// loop that can never succeed.
var ErrInvalidConfig = errors.New("config: invalid configuration")

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Postgres PostgresConfig `yaml:"postgres"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Remote   RemoteConfig   `yaml:"remote"`
	WalG     WalGConfig     `yaml:"walg"`
}

type ServerConfig struct {
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// ArchiveConfig locates pg_wal/archive_status and paces the tick loop.
type ArchiveConfig struct {
	StatusDir         string        `yaml:"status_dir"`
	RefreshInterval   time.Duration `yaml:"refresh_interval"`
	ArchiverStatusTTL time.Duration `yaml:"archiver_status_ttl"`
}

// RemoteConfig describes the object store holding archived segments.
type RemoteConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	Region       string  `yaml:"region"`
	Bucket       string  `yaml:"bucket"`
	Prefix       string  `yaml:"prefix"`
	AccessKey    string  `yaml:"access_key"`
	SecretKey    string  `yaml:"secret_key"`
	PathStyle    bool    `yaml:"path_style"`
	ListPageRate float64 `yaml:"list_page_rate"`
}

type WalGConfig struct {
	Binary  string        `yaml:"binary"`
	Timeout time.Duration `yaml:"timeout"`
}

// Default returns the configuration the original exporter shipped with.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     9351,
			LogLevel: "info",
		},
		Postgres: PostgresConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Database: "postgres",
			SSLMode:  "disable",
		},
		Archive: ArchiveConfig{
			RefreshInterval:   15 * time.Minute,
			ArchiverStatusTTL: time.Second,
		},
		Remote: RemoteConfig{
			Region:       "us-east-1",
			Prefix:       "wal_005",
			ListPageRate: 10,
		},
		WalG: WalGConfig{
			Binary:  "wal-g",
			Timeout: 5 * time.Minute,
		},
	}
}

// Load reads a yaml config file over the defaults. An empty path is not
// an error: the exporter can run from environment variables alone.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path) // #nosec G304 - operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate enforces the settings without which no tick can succeed.
func (c *Config) Validate() error {
	if c.Archive.StatusDir == "" {
		return fmt.Errorf("%w: archive status_dir is required", ErrInvalidConfig)
	}
	if c.Remote.Bucket == "" {
		return fmt.Errorf("%w: remote bucket is required", ErrInvalidConfig)
	}
	if c.Remote.Prefix == "" {
		return fmt.Errorf("%w: remote prefix is required", ErrInvalidConfig)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server port %d out of range", ErrInvalidConfig, c.Server.Port)
	}
	if c.Archive.RefreshInterval <= 0 {
		return fmt.Errorf("%w: refresh_interval must be positive", ErrInvalidConfig)
	}
	if c.Archive.ArchiverStatusTTL <= 0 {
		return fmt.Errorf("%w: archiver_status_ttl must be positive", ErrInvalidConfig)
	}
	return nil
}
