// Package config loads process configuration for catalogd. Grounded on
// the teacher's internal/config: a TOML file layered with environment
// variable overrides, env always winning, with sane built-in defaults so
// the file itself is optional.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config holds all process configuration for catalogd.
type Config struct {
	Registry RegistryConfig `toml:"registry"`
	Store    StoreConfig    `toml:"store"`
	Server   ServerConfig   `toml:"server"`
	Log      LogConfig      `toml:"log"`
	Session  SessionConfig  `toml:"session"`
}

// RegistryConfig locates the declarative Registry document.
type RegistryConfig struct {
	Path string `toml:"path"`
}

// StoreConfig selects the relational backend.
type StoreConfig struct {
	Driver string `toml:"driver"` // "mysql", "postgres", or "sqlite"
	DSN    string `toml:"dsn"`
}

// ServerConfig holds process metadata and the health-check listen
// address.
type ServerConfig struct {
	Name         string `toml:"name"`
	HealthAddr   string `toml:"health_addr"`
	MetricsAddr  string `toml:"metrics_addr"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `toml:"level"` // debug, info, warn, error
}

// SessionConfig tunes the Session Coordinator's pool and retry policy.
type SessionConfig struct {
	MaxConcurrent int `toml:"max_concurrent"`
	MaxAttempts   int `toml:"max_attempts"`
}

// Load builds a Config by layering a .env file, a TOML config file, and
// environment variables, in that order, with environment variables always
// winning. configPath may be empty, in which case CATALOGD_CONFIG and
// ./catalogd.toml are tried in turn; the file itself is optional.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load() // optional: populate process env from ./.env if present

	cfg := &Config{
		Registry: RegistryConfig{Path: "registry.yaml"},
		Store:    StoreConfig{Driver: "sqlite", DSN: "catalog.db"},
		Server:   ServerConfig{Name: "catalogd", HealthAddr: ":8080", MetricsAddr: ":9090"},
		Log:      LogConfig{Level: "info"},
		Session:  SessionConfig{MaxConcurrent: 16, MaxAttempts: 5},
	}

	if err := cfg.loadFile(configPath); err != nil {
		return nil, err
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(configPath string) error {
	path := resolveConfigPath(configPath)
	if path == "" {
		return nil
	}
	if _, err := toml.DecodeFile(path, c); err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	return nil
}

func resolveConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p := os.Getenv("CATALOGD_CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat("catalogd.toml"); err == nil {
		return "catalogd.toml"
	}
	return ""
}

func (c *Config) applyEnv() {
	envOverride("CATALOGD_REGISTRY_PATH", &c.Registry.Path)
	envOverride("CATALOGD_STORE_DRIVER", &c.Store.Driver)
	envOverride("CATALOGD_STORE_DSN", &c.Store.DSN)
	envOverride("CATALOGD_SERVER_NAME", &c.Server.Name)
	envOverride("CATALOGD_HEALTH_ADDR", &c.Server.HealthAddr)
	envOverride("CATALOGD_METRICS_ADDR", &c.Server.MetricsAddr)
	envOverride("CATALOGD_LOG_LEVEL", &c.Log.Level)

	if v := os.Getenv("CATALOGD_SESSION_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Session.MaxConcurrent = n
		}
	}
	if v := os.Getenv("CATALOGD_SESSION_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Session.MaxAttempts = n
		}
	}
}

// Validate checks invariants Load's defaults/overlays can't guarantee on
// their own.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("config: invalid store driver %q (must be mysql, postgres, or sqlite)", c.Store.Driver)
	}
	if c.Registry.Path == "" {
		return fmt.Errorf("config: registry.path is required")
	}
	if c.Session.MaxConcurrent <= 0 {
		return fmt.Errorf("config: session.max_concurrent must be positive")
	}
	return nil
}

func envOverride(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
