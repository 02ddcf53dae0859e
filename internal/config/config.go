// Package config provides configuration management for interviewsim.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultPort is the port the worker service listens on.
	DefaultPort = 8787

	// DefaultInferenceEndpoint is where prompts are sent for a reply.
	DefaultInferenceEndpoint = "http://localhost:8000/gemini-rag"

	// DefaultMaxConns is the default database connection pool size.
	DefaultMaxConns = 4
)

// Database configures the backing document store.
type Database struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver"`
	// Path is the SQLite database file (sqlite driver only).
	Path string `yaml:"path,omitempty"`
	// DSN is the connection string (postgres driver only).
	DSN      string `yaml:"dsn,omitempty"`
	MaxConns int    `yaml:"max_conns"`
}

// Inference configures the remote inference endpoint.
type Inference struct {
	Endpoint string `yaml:"endpoint"`
	// Token is attached as a Bearer header when non-empty. Leaving it empty is
	// only acceptable for a local backend; any shared deployment must set it.
	Token       string `yaml:"token,omitempty"`
	MaxRetries  int    `yaml:"max_retries"`
	BaseDelayMS int    `yaml:"base_delay_ms"`
	TimeoutSec  int    `yaml:"timeout_sec"`
}

// Config holds all runtime settings.
type Config struct {
	Port      int       `yaml:"port"`
	Database  Database  `yaml:"database"`
	Inference Inference `yaml:"inference"`
	// TokenTTLMinutes bounds the lifetime of issued auth tokens.
	TokenTTLMinutes int `yaml:"token_ttl_minutes"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Port: DefaultPort,
		Database: Database{
			Driver:   "sqlite",
			Path:     DBPath(),
			MaxConns: DefaultMaxConns,
		},
		Inference: Inference{
			Endpoint:    DefaultInferenceEndpoint,
			MaxRetries:  3,
			BaseDelayMS: 1000,
			TimeoutSec:  60,
		},
		TokenTTLMinutes: 12 * 60,
	}
}

// DataDir returns the data directory (~/.interviewsim).
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".interviewsim")
}

// DBPath returns the default SQLite database path.
func DBPath() string {
	return filepath.Join(DataDir(), "interviewsim.db")
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), "settings.yaml")
}

// EnsureDataDir creates the data directory if missing.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0o755)
}

// EnsureSettings writes a default settings file if none exists.
func EnsureSettings() error {
	path := SettingsPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return Default().Save()
}

// EnsureAll prepares the data directory and settings file.
func EnsureAll() error {
	if err := EnsureDataDir(); err != nil {
		return fmt.Errorf("ensure data dir: %w", err)
	}
	return EnsureSettings()
}

// Load reads settings from disk, filling unset fields with defaults.
func Load() (*Config, error) {
	data, err := os.ReadFile(SettingsPath())
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}

	if cfg.Port <= 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = DefaultMaxConns
	}
	if cfg.Inference.MaxRetries < 0 {
		cfg.Inference.MaxRetries = 0
	}
	if cfg.Inference.BaseDelayMS <= 0 {
		cfg.Inference.BaseDelayMS = 1000
	}
	return cfg, nil
}

// Save writes the configuration to the settings file.
func (c *Config) Save() error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	return os.WriteFile(SettingsPath(), data, 0o644)
}
