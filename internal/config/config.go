// Package config handles loading and parsing the server's configuration.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/docker/go-units"

	"github.com/ASHISH26940/jsondb/internal/conflict"
)

// Config holds all configuration for the server.
// We use struct tags to explicitly map TOML keys to struct fields.
type Config struct {
	Host            string `toml:"host"`
	Port            int    `toml:"port"`
	RandomPort      bool   `toml:"random_port"` // Bind port 0 and let the OS pick
	DataDir         string `toml:"data_dir"`    // One subdirectory per key lives here
	Policy          string `toml:"policy"`      // "version-control" or "last-write-wins"
	Debug           bool   `toml:"debug"`
	MaxBodySize     string `toml:"max_body_size"`    // Human readable, e.g. "10MB"
	ShutdownTimeout string `toml:"shutdown_timeout"` // Go duration, e.g. "5s"
	MetricsAddr     string `toml:"metrics_addr"`     // Empty disables the metrics listener

	LogFile       string `toml:"log_file"` // Empty logs to stderr
	LogMaxSizeMB  int    `toml:"log_max_size_mb"`
	LogMaxBackups int    `toml:"log_max_backups"`
	LogMaxAgeDays int    `toml:"log_max_age_days"`
}

// New returns a new Config with default values.
func New() *Config {
	return &Config{
		Host:            "localhost",
		Port:            2000,
		DataDir:         "db",
		Policy:          string(conflict.VersionControl),
		MaxBodySize:     "10MB",
		ShutdownTimeout: "5s",
		LogMaxSizeMB:    100,
		LogMaxBackups:   3,
		LogMaxAgeDays:   28,
	}
}

// Load reads a configuration file from the given path and populates the Config struct.
func (c *Config) Load(path string) error {
	_, err := toml.DecodeFile(path, c)
	return err
}

// Validate reports the first setting that cannot be used to start a server.
func (c *Config) Validate() error {
	if _, err := conflict.ParsePolicy(c.Policy); err != nil {
		return err
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if _, err := c.BodyLimit(); err != nil {
		return err
	}
	if _, err := c.GracePeriod(); err != nil {
		return err
	}
	return nil
}

// ListenAddr returns the address the HTTP server binds to.
func (c *Config) ListenAddr() string {
	port := c.Port
	if c.RandomPort {
		port = 0
	}
	return fmt.Sprintf("%s:%d", c.Host, port)
}

// ConflictPolicy returns the parsed conflict policy.
func (c *Config) ConflictPolicy() conflict.Policy {
	p, err := conflict.ParsePolicy(c.Policy)
	if err != nil {
		return conflict.VersionControl
	}
	return p
}

// BodyLimit returns max_body_size in bytes.
func (c *Config) BodyLimit() (int64, error) {
	n, err := units.RAMInBytes(c.MaxBodySize)
	if err != nil {
		return 0, fmt.Errorf("invalid max_body_size %q: %v", c.MaxBodySize, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("max_body_size must be positive, got %q", c.MaxBodySize)
	}
	return n, nil
}

// GracePeriod returns shutdown_timeout as a duration.
func (c *Config) GracePeriod() (time.Duration, error) {
	d, err := time.ParseDuration(c.ShutdownTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid shutdown_timeout %q: %v", c.ShutdownTimeout, err)
	}
	return d, nil
}
