// Package config loads the engine's YAML configuration with environment
// overrides for the deployment-shape concerns: which cache backend runs,
// where Redis and Postgres live, how hard the price provider may be driven.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full engine configuration.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Cache    CacheConfig    `yaml:"cache"`
	Provider ProviderConfig `yaml:"provider"`
	Postgres PostgresConfig `yaml:"postgres"`
	Monitor  MonitorConfig  `yaml:"monitor"`
}

// LogConfig controls zerolog.
type LogConfig struct {
	Level string `yaml:"level"` // trace|debug|info|warn|error
}

// CacheConfig selects and tunes the cache backend.
type CacheConfig struct {
	Backend   string `yaml:"backend"` // memory|redis
	RedisAddr string `yaml:"redis_addr"`
}

// ProviderConfig tunes the quote API client.
type ProviderConfig struct {
	BaseURL           string   `yaml:"base_url"`
	UserAgent         string   `yaml:"user_agent"`
	RequestsPerSecond float64  `yaml:"rps"`
	Burst             int      `yaml:"burst"`
	MaxRetries        int      `yaml:"max_retries"`
	BackoffBaseMS     int      `yaml:"backoff_base_ms"`
	BackoffMaxMS      int      `yaml:"backoff_max_ms"`
	TimeoutMS         int      `yaml:"timeout_ms"`
	ExcludedSymbols   []string `yaml:"excluded_symbols"`
}

// PostgresConfig points at the application's database.
type PostgresConfig struct {
	DSN       string `yaml:"dsn"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

// MonitorConfig tunes the diagnostics server.
type MonitorConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Log:   LogConfig{Level: "info"},
		Cache: CacheConfig{Backend: "memory"},
		Provider: ProviderConfig{
			RequestsPerSecond: 5,
			Burst:             10,
			MaxRetries:        3,
			BackoffBaseMS:     250,
			BackoffMaxMS:      30000,
			TimeoutMS:         10000,
		},
		Postgres: PostgresConfig{TimeoutMS: 5000},
		Monitor:  MonitorConfig{Host: "127.0.0.1", Port: 8090},
	}
}

// Load reads the configuration file, layers environment overrides on top and
// validates the result. An empty path loads defaults plus overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyEnv layers deployment-shape overrides over the file values.
func (c *Config) applyEnv() {
	if v := os.Getenv("PEERFOLIO_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("PEERFOLIO_CACHE_BACKEND"); v != "" {
		c.Cache.Backend = v
	}
	if v := os.Getenv("PEERFOLIO_REDIS_ADDR"); v != "" {
		c.Cache.RedisAddr = v
		if os.Getenv("PEERFOLIO_CACHE_BACKEND") == "" {
			c.Cache.Backend = "redis"
		}
	}
	if v := os.Getenv("PEERFOLIO_POSTGRES_DSN"); v != "" {
		c.Postgres.DSN = v
	}
}

// Validate rejects configurations the engine cannot run under.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log level must be one of trace|debug|info|warn|error, got %q", c.Log.Level)
	}

	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("cache backend redis requires redis_addr")
		}
	default:
		return fmt.Errorf("cache backend must be memory or redis, got %q", c.Cache.Backend)
	}

	if c.Provider.RequestsPerSecond <= 0 {
		return fmt.Errorf("provider rps must be positive, got %v", c.Provider.RequestsPerSecond)
	}
	if c.Provider.Burst <= 0 {
		return fmt.Errorf("provider burst must be positive, got %d", c.Provider.Burst)
	}
	if c.Provider.MaxRetries < 0 {
		return fmt.Errorf("provider max_retries must not be negative, got %d", c.Provider.MaxRetries)
	}
	if c.Provider.BackoffBaseMS <= 0 || c.Provider.BackoffMaxMS < c.Provider.BackoffBaseMS {
		return fmt.Errorf("provider backoff window [%d, %d] ms is not a valid range",
			c.Provider.BackoffBaseMS, c.Provider.BackoffMaxMS)
	}
	if c.Provider.TimeoutMS <= 0 {
		return fmt.Errorf("provider timeout_ms must be positive, got %d", c.Provider.TimeoutMS)
	}

	if c.Postgres.TimeoutMS <= 0 {
		return fmt.Errorf("postgres timeout_ms must be positive, got %d", c.Postgres.TimeoutMS)
	}

	if c.Monitor.Port <= 0 || c.Monitor.Port > 65535 {
		return fmt.Errorf("monitor port must be in [1, 65535], got %d", c.Monitor.Port)
	}
	return nil
}

// ProviderTimeout is the per-request timeout for the quote API.
func (c *Config) ProviderTimeout() time.Duration {
	return time.Duration(c.Provider.TimeoutMS) * time.Millisecond
}

// ProviderBackoffBase is the first retry delay for the quote API.
func (c *Config) ProviderBackoffBase() time.Duration {
	return time.Duration(c.Provider.BackoffBaseMS) * time.Millisecond
}

// ProviderBackoffMax caps quote API retry delays.
func (c *Config) ProviderBackoffMax() time.Duration {
	return time.Duration(c.Provider.BackoffMaxMS) * time.Millisecond
}

// PostgresTimeout bounds each lot store query.
func (c *Config) PostgresTimeout() time.Duration {
	return time.Duration(c.Postgres.TimeoutMS) * time.Millisecond
}

// MonitorAddr is the diagnostics server's listen address.
func (c *Config) MonitorAddr() string {
	return fmt.Sprintf("%s:%d", c.Monitor.Host, c.Monitor.Port)
}
