// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// OverflowPolicy selects what happens when a subscriber queue is full.
type OverflowPolicy string

const (
	// OverflowDropOldest evicts the oldest queued frame and inserts the new
	// one. Delivery stays at-most-once and favors recency.
	OverflowDropOldest OverflowPolicy = "drop_oldest"

	// OverflowDisconnect emits a SLOW_CONSUMER error and closes the
	// subscriber's transport instead of dropping.
	OverflowDisconnect OverflowPolicy = "disconnect"
)

// Config holds all server configuration.
// Tags:
//
//	env: Environment variable name
//	envDefault: Default value if not set
type Config struct {
	// Server basics
	Host string `env:"PUBSUB_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"PUBSUB_PORT" envDefault:"8080"`

	// Broker core
	MaxQueueSize   int            `env:"PUBSUB_MAX_QUEUE_SIZE" envDefault:"100"` // per-subscriber queue capacity (Q)
	HistorySize    int            `env:"PUBSUB_HISTORY_SIZE" envDefault:"100"`   // per-topic replay ring capacity (H)
	OverflowPolicy OverflowPolicy `env:"PUBSUB_OVERFLOW_POLICY" envDefault:"drop_oldest"`
	ShutdownDrain  time.Duration  `env:"PUBSUB_SHUTDOWN_DRAIN" envDefault:"2s"` // drain window for pumps on shutdown

	// WebSocket keepalive
	PingInterval time.Duration `env:"PUBSUB_WS_PING_INTERVAL" envDefault:"30s"`
	PongTimeout  time.Duration `env:"PUBSUB_WS_PING_TIMEOUT" envDefault:"10s"`

	// Inbound frame rate limiting per connection
	FrameRate  float64 `env:"PUBSUB_RATE_LIMIT" envDefault:"50"` // sustained frames/sec, 0 disables
	FrameBurst int     `env:"PUBSUB_RATE_BURST" envDefault:"100"`

	// Monitoring
	MetricsInterval time.Duration `env:"PUBSUB_METRICS_INTERVAL" envDefault:"15s"`

	// Logging
	LogLevel  string `env:"PUBSUB_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"PUBSUB_LOG_FORMAT" envDefault:"json"`
}

// Load reads configuration from .env file and environment variables.
// Priority: ENV vars > .env file > defaults.
//
// Optional logger parameter for structured logging. If nil, loading is silent.
func Load(logger *zerolog.Logger) (*Config, error) {
	// .env is a development convenience; in containers the environment is
	// set directly and the file is absent.
	if err := godotenv.Load(); err == nil && logger != nil {
		logger.Info().Msg("Loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PUBSUB_PORT must be 1-65535, got %d", c.Port)
	}
	if c.MaxQueueSize < 1 {
		return fmt.Errorf("PUBSUB_MAX_QUEUE_SIZE must be > 0, got %d", c.MaxQueueSize)
	}
	if c.HistorySize < 1 {
		return fmt.Errorf("PUBSUB_HISTORY_SIZE must be > 0, got %d", c.HistorySize)
	}
	if c.ShutdownDrain < 0 {
		return fmt.Errorf("PUBSUB_SHUTDOWN_DRAIN must be >= 0, got %s", c.ShutdownDrain)
	}
	if c.FrameRate < 0 {
		return fmt.Errorf("PUBSUB_RATE_LIMIT must be >= 0, got %.1f", c.FrameRate)
	}
	if c.FrameRate > 0 && c.FrameBurst < 1 {
		return fmt.Errorf("PUBSUB_RATE_BURST must be > 0 when rate limiting is enabled, got %d", c.FrameBurst)
	}

	switch c.OverflowPolicy {
	case OverflowDropOldest, OverflowDisconnect:
	default:
		return fmt.Errorf("PUBSUB_OVERFLOW_POLICY must be one of: drop_oldest, disconnect (got: %s)", c.OverflowPolicy)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("PUBSUB_LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}

	validLogFormats := map[string]bool{"json": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("PUBSUB_LOG_FORMAT must be one of: json, pretty (got: %s)", c.LogFormat)
	}

	return nil
}

// LogConfig logs configuration using structured logging.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("addr", c.Addr()).
		Int("max_queue_size", c.MaxQueueSize).
		Int("history_size", c.HistorySize).
		Str("overflow_policy", string(c.OverflowPolicy)).
		Dur("shutdown_drain", c.ShutdownDrain).
		Dur("ping_interval", c.PingInterval).
		Float64("frame_rate_limit", c.FrameRate).
		Int("frame_rate_burst", c.FrameBurst).
		Dur("metrics_interval", c.MetricsInterval).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("Server configuration loaded")
}
