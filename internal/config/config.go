// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New(ctx) to build a Config with defaults.
// - Load layers a YAML file and environment variables over those defaults.
// - Validation failures wrap ErrInvalidConfig.
package config

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects text, json or console output.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// StoreDriver selects the persistent store: memory or postgres.
	StoreDriver string `koanf:"store_driver"`

	// DatabaseURL is the lib/pq connection string for the postgres driver.
	DatabaseURL string `koanf:"database_url"`

	// DBMaxOpenConns and DBMaxIdleConns size the connection pool.
	DBMaxOpenConns int `koanf:"db_max_open_conns"`
	DBMaxIdleConns int `koanf:"db_max_idle_conns"`

	// DBMigrate applies the embedded schema on start.
	DBMigrate bool `koanf:"db_migrate"`

	// StoreTimeoutMS bounds every store call.
	StoreTimeoutMS int `koanf:"store_timeout_ms"`

	// RedisAddr enables the prediction feed when set.
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`

	// FeedStream names the Redis stream predictions are published to.
	FeedStream string `koanf:"feed_stream"`

	// FeedMaxLen approximately caps the stream length.
	FeedMaxLen int64 `koanf:"feed_max_len"`

	// FeedQueueSize bounds the in-memory feed queue.
	FeedQueueSize int `koanf:"feed_queue_size"`

	// FeedWorkerCount sets the number of feed publishers.
	FeedWorkerCount int `koanf:"feed_worker_count"`

	// DedupeSize sets the number of producer event ids remembered.
	DedupeSize int `koanf:"dedupe_size"`

	// MaxHistoryLimit caps GET /patients/{id}/history?limit.
	MaxHistoryLimit int `koanf:"max_history_limit"`

	// SeniorAge and ElderlyAge are the age thresholds used by the scorer.
	SeniorAge  int `koanf:"senior_age"`
	ElderlyAge int `koanf:"elderly_age"`

	// ConditionWeights maps known high-risk conditions to their weight.
	ConditionWeights map[string]float64 `koanf:"condition_weights"`

	// ConditionCap bounds the combined condition contribution.
	ConditionCap float64 `koanf:"condition_cap"`
}

// New creates a Config with defaults. Context is accepted first to follow
// the project-wide convention.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:        "info",
		LogFormat:       "text",
		Addr:            ":9080",
		StoreDriver:     StoreMemory,
		DBMaxOpenConns:  20,
		DBMaxIdleConns:  5,
		DBMigrate:       true,
		StoreTimeoutMS:  2000,
		FeedStream:      "vitalrisk:predictions",
		FeedMaxLen:      10_000,
		FeedQueueSize:   10_000,
		FeedWorkerCount: runtime.NumCPU(),
		DedupeSize:      100_000,
		MaxHistoryLimit: 1000,
		SeniorAge:       65,
		ElderlyAge:      75,
		ConditionCap:    0.15,
	}
}

// StoreTimeout returns StoreTimeoutMS as a duration.
func (c *Config) StoreTimeout() time.Duration {
	return time.Duration(c.StoreTimeoutMS) * time.Millisecond
}

// FeedEnabled reports whether the prediction feed should run.
func (c *Config) FeedEnabled() bool {
	return strings.TrimSpace(c.RedisAddr) != ""
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.StoreDriver != StoreMemory && c.StoreDriver != StorePostgres:
		return fmt.Errorf("%w: unknown store_driver %q", ErrInvalidConfig, c.StoreDriver)
	case c.StoreDriver == StorePostgres && strings.TrimSpace(c.DatabaseURL) == "":
		return fmt.Errorf("%w: database_url is required for the postgres driver", ErrInvalidConfig)
	case c.StoreTimeoutMS <= 0:
		return fmt.Errorf("%w: store_timeout_ms must be positive", ErrInvalidConfig)
	case c.MaxHistoryLimit <= 0:
		return fmt.Errorf("%w: max_history_limit must be positive", ErrInvalidConfig)
	case c.FeedEnabled() && (c.FeedQueueSize <= 0 || c.FeedWorkerCount <= 0):
		return fmt.Errorf("%w: feed_queue_size and feed_worker_count must be positive", ErrInvalidConfig)
	case c.FeedEnabled() && strings.TrimSpace(c.FeedStream) == "":
		return fmt.Errorf("%w: feed_stream must not be empty", ErrInvalidConfig)
	case c.ElderlyAge <= c.SeniorAge:
		return fmt.Errorf("%w: elderly_age must exceed senior_age", ErrInvalidConfig)
	}
	return nil
}
