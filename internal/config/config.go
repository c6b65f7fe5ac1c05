package config

import (
	"fmt"
	"time"

	pkgconfig "github.com/holdbay/stockhold/pkg/config"
)

// Config holds all configuration for the stockhold service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"STOCKHOLD_HTTP_PORT" envDefault:"8010"`

	// PostgreSQL (durable stock store)
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"stockhold"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"stockhold_secret"`
	PostgresDB   string `env:"STOCKHOLD_DB_NAME" envDefault:"stockhold_db"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Database pool
	DBMaxConns            int32 `env:"DB_MAX_CONNS" envDefault:"25"`
	DBMinConns            int32 `env:"DB_MIN_CONNS" envDefault:"5"`
	DBMaxConnLifetimeMins int   `env:"DB_MAX_CONN_LIFETIME_MINUTES" envDefault:"60"`
	DBMaxConnIdleTimeMins int   `env:"DB_MAX_CONN_IDLE_TIME_MINUTES" envDefault:"30"`

	// Redis (atomic counter store)
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Kafka
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// Hold lifecycle
	HoldTTLSecondsDefault int  `env:"HOLD_TTL_SECONDS_DEFAULT" envDefault:"600"`
	ReaperIntervalMs      int  `env:"REAPER_INTERVAL_MS" envDefault:"1000"`
	ReaperBatch           int  `env:"REAPER_BATCH" envDefault:"128"`
	StrictIDValidation    bool `env:"STRICT_ID_VALIDATION" envDefault:"true"`

	// Lifecycle event log
	EventsEnabled    bool   `env:"EVENTS_ENABLED" envDefault:"true"`
	EventsStreamName string `env:"EVENTS_STREAM_NAME" envDefault:"inv:events"`

	// Mirror bootstrap
	SeedFromDBOnStartup bool `env:"SEED_FROM_DB_ON_STARTUP" envDefault:"true"`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// Slow query logging
	SlowQueryThresholdMs int `env:"LOG_SLOW_QUERY_MS" envDefault:"500"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load stockhold config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.PostgresHost == "" {
		return fmt.Errorf("POSTGRES_HOST is required")
	}
	if c.PostgresUser == "" {
		return fmt.Errorf("POSTGRES_USER is required")
	}
	if len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required")
	}
	if c.HoldTTLSecondsDefault <= 0 {
		return fmt.Errorf("HOLD_TTL_SECONDS_DEFAULT must be > 0, got %d", c.HoldTTLSecondsDefault)
	}
	if c.ReaperIntervalMs <= 0 {
		return fmt.Errorf("REAPER_INTERVAL_MS must be > 0, got %d", c.ReaperIntervalMs)
	}
	if c.ReaperBatch <= 0 {
		return fmt.Errorf("REAPER_BATCH must be > 0, got %d", c.ReaperBatch)
	}
	if c.EventsEnabled && c.EventsStreamName == "" {
		return fmt.Errorf("EVENTS_STREAM_NAME is required when events are enabled")
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}
	return nil
}

// PostgresDSN returns the PostgreSQL connection string.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.PostgresUser, c.PostgresPass, c.PostgresHost, c.PostgresPort, c.PostgresDB, c.PostgresSSL,
	)
}

// HoldTTL returns the default hold TTL as a duration.
func (c *Config) HoldTTL() time.Duration {
	return time.Duration(c.HoldTTLSecondsDefault) * time.Second
}

// ReaperInterval returns the sweep interval as a duration.
func (c *Config) ReaperInterval() time.Duration {
	return time.Duration(c.ReaperIntervalMs) * time.Millisecond
}

// StreamName returns the lifecycle event stream name, empty when events are
// disabled.
func (c *Config) StreamName() string {
	if !c.EventsEnabled {
		return ""
	}
	return c.EventsStreamName
}
