// ABOUTME: Configuration loading for the matrix adapter
// ABOUTME: TOML with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the adapter's full configuration.
type Config struct {
	Matrix   MatrixConfig   `toml:"matrix"`
	Pool     PoolConfig     `toml:"pool"`
	Breaker  BreakerConfig  `toml:"breaker"`
	Timeline TimelineConfig `toml:"timeline"`
	API      APIConfig      `toml:"api"`
	Logging  LoggingConfig  `toml:"logging"`
}

// MatrixConfig covers the homeserver connection and account material.
type MatrixConfig struct {
	Homeserver string `toml:"homeserver"`
	// ServerName qualifies email-derived identities, e.g. "matrix.local".
	ServerName string `toml:"server_name"`
	// AdminEmail names the elevated account used for administration.
	AdminEmail string `toml:"admin_email"`
	// PasswordSecret seeds every derived account password.
	PasswordSecret    string `toml:"password_secret"`
	AllowRegistration bool   `toml:"allow_registration"`
}

// PoolConfig bounds the session pool.
type PoolConfig struct {
	Capacity         int    `toml:"capacity"`
	TTLRaw           string `toml:"ttl"`
	SweepIntervalRaw string `toml:"sweep_interval"`

	TTL           time.Duration `toml:"-"`
	SweepInterval time.Duration `toml:"-"`
}

// BreakerConfig tunes the room-peek circuit breaker.
type BreakerConfig struct {
	FailureThreshold       int    `toml:"failure_threshold"`
	InitialResetTimeoutRaw string `toml:"initial_reset_timeout"`
	MaxResetTimeoutRaw     string `toml:"max_reset_timeout"`

	InitialResetTimeout time.Duration `toml:"-"`
	MaxResetTimeout     time.Duration `toml:"-"`
}

// TimelineConfig tunes history pagination.
type TimelineConfig struct {
	BatchSize int `toml:"batch_size"`
}

// APIConfig covers the HTTP surface.
type APIConfig struct {
	Addr      string `toml:"addr"`
	JWTSecret string `toml:"jwt_secret"`
}

// LoggingConfig selects the log level.
type LoggingConfig struct {
	Level string `toml:"level"`
}

// Load reads config from the given path, expanding ${VAR} environment
// references, applying defaults and parsing duration strings.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if _, err := toml.Decode(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()
	if err := parseDurations(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Pool.Capacity == 0 {
		c.Pool.Capacity = 100
	}
	if c.Breaker.FailureThreshold == 0 {
		c.Breaker.FailureThreshold = 5
	}
	if c.Timeline.BatchSize == 0 {
		c.Timeline.BatchSize = 1000
	}
	if c.API.Addr == "" {
		c.API.Addr = ":4006"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// parseDurations converts the raw duration strings into time.Duration
// values, filling in defaults for absent fields.
func parseDurations(cfg *Config) error {
	var err error
	cfg.Pool.TTL, err = parseDuration(cfg.Pool.TTLRaw, 15*time.Minute)
	if err != nil {
		return fmt.Errorf("pool.ttl: %w", err)
	}
	cfg.Pool.SweepInterval, err = parseDuration(cfg.Pool.SweepIntervalRaw, 2*time.Second)
	if err != nil {
		return fmt.Errorf("pool.sweep_interval: %w", err)
	}
	cfg.Breaker.InitialResetTimeout, err = parseDuration(cfg.Breaker.InitialResetTimeoutRaw, time.Second)
	if err != nil {
		return fmt.Errorf("breaker.initial_reset_timeout: %w", err)
	}
	cfg.Breaker.MaxResetTimeout, err = parseDuration(cfg.Breaker.MaxResetTimeoutRaw, time.Minute)
	if err != nil {
		return fmt.Errorf("breaker.max_reset_timeout: %w", err)
	}
	return nil
}

func parseDuration(raw string, fallback time.Duration) (time.Duration, error) {
	if raw == "" {
		return fallback, nil
	}
	return time.ParseDuration(raw)
}

// Validate checks that required config fields are present and valid.
func (c *Config) Validate() error {
	if c.Matrix.Homeserver == "" {
		return fmt.Errorf("matrix.homeserver is required")
	}
	u, err := url.Parse(c.Matrix.Homeserver)
	if err != nil {
		return fmt.Errorf("matrix.homeserver is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("matrix.homeserver must use http or https scheme")
	}
	if c.Matrix.ServerName == "" {
		return fmt.Errorf("matrix.server_name is required")
	}
	if c.Matrix.AdminEmail == "" {
		return fmt.Errorf("matrix.admin_email is required")
	}
	if c.Matrix.PasswordSecret == "" {
		return fmt.Errorf("matrix.password_secret is required")
	}
	if c.Pool.Capacity < 2 {
		return fmt.Errorf("pool.capacity must be at least 2")
	}
	if c.Breaker.MaxResetTimeout < c.Breaker.InitialResetTimeout {
		return fmt.Errorf("breaker.max_reset_timeout must not be below breaker.initial_reset_timeout")
	}
	return nil
}
