// Package config loads the PnL engine's runtime configuration from an
// optional YAML file, then applies environment overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the runtime configuration.
type Config struct {
	Port           string        `yaml:"port"`
	DatabaseURL    string        `yaml:"databaseURL"`
	RedisURL       string        `yaml:"redisURL"`
	CacheTTL       time.Duration `yaml:"cacheTTL"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
	LogLevel       string        `yaml:"logLevel"`
	// DefaultCurrency is used when a portfolio is registered without one.
	DefaultCurrency string `yaml:"defaultCurrency"`
	// WSBuffer is the number of ledger events queued for WebSocket clients
	// before new ones are dropped.
	WSBuffer int `yaml:"wsBuffer"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Port:            "8080",
		CacheTTL:        30 * time.Second,
		RequestTimeout:  30 * time.Second,
		LogLevel:        "info",
		DefaultCurrency: "USD",
		WSBuffer:        256,
	}
}

// Load reads YAML config from path, if non-empty, on top of Default, then
// applies environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CACHE_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid CACHE_TTL: %w", err)
		}
		cfg.CacheTTL = ttl
	}
	return nil
}

// Validate rejects configurations the server cannot run with.
func (c Config) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}
	if c.RedisURL != "" && c.DatabaseURL == "" {
		return errors.New("redisURL requires databaseURL")
	}
	if c.CacheTTL <= 0 {
		return errors.New("cacheTTL must be positive")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("requestTimeout must be positive")
	}
	if c.WSBuffer <= 0 {
		return errors.New("wsBuffer must be positive")
	}
	if c.DefaultCurrency == "" {
		return errors.New("defaultCurrency is required")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel maps LogLevel to a slog level.
func (c Config) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown logLevel %q", c.LogLevel)
	}
}
