// Package config loads the octavia command line configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the settings that can be stored in a YAML file. Command line
// flags override them.
//
// The database password is not part of it: it comes from the -password
// flag or the OCTAVIA_PASSWORD environment variable.
type Config struct {
	// DataDir is the database directory.
	DataDir string `yaml:"data_dir"`

	// LogLevel is one of debug, info, warn or error.
	LogLevel string `yaml:"log_level"`

	// Format selects the output encoding, json or yaml.
	Format string `yaml:"format"`

	// Plain opens entities unencrypted.
	Plain bool `yaml:"plain"`

	// AutoCommit is the background commit interval. 0 disables it.
	AutoCommit time.Duration `yaml:"auto_commit"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		DataDir:    "./data",
		LogLevel:   "info",
		Format:     "json",
		AutoCommit: 10 * time.Second,
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	switch c.Format {
	case "json", "yaml":
	default:
		return fmt.Errorf("unknown format %q", c.Format)
	}
	if c.AutoCommit < 0 {
		return errors.New("auto_commit must be non-negative")
	}
	return nil
}

// Load reads path on top of Default. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return &cfg, nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is provided by the user on purpose
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}
	return &cfg, nil
}
