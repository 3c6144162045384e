package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the rehabtrack server.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Processing ProcessingConfig
	Poller     PollerConfig
	Analytics  AnalyticsConfig
	Events     EventsConfig
}

type ServerConfig struct {
	Port               int
	Env                string
	MaxUploadBytes     int64
	RateLimitPerMinute int
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL            string
	ResultCacheTTL time.Duration
}

// ProcessingConfig points at the remote video analysis service.
type ProcessingConfig struct {
	BaseURL string
	Timeout time.Duration
}

type PollerConfig struct {
	Interval     time.Duration
	MaxAttempts  int
	ScanInterval time.Duration
}

type AnalyticsConfig struct {
	MaxSpanDays int
	Timezone    string
	Location    *time.Location
}

// EventsConfig is optional; an empty AMQPURL disables event publishing.
type EventsConfig struct {
	AMQPURL  string
	Exchange string
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:               envInt("REHAB_PORT", 8080),
			Env:                envString("REHAB_ENV", "development"),
			MaxUploadBytes:     int64(envInt("MAX_UPLOAD_BYTES", 200<<20)),
			RateLimitPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 60),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL:            os.Getenv("REDIS_URL"),
			ResultCacheTTL: envDuration("RESULT_CACHE_TTL", 30*time.Minute),
		},
		Processing: ProcessingConfig{
			BaseURL: strings.TrimRight(os.Getenv("PROCESSING_BASE_URL"), "/"),
			Timeout: envDuration("PROCESSING_TIMEOUT", 2*time.Minute),
		},
		Poller: PollerConfig{
			Interval:     envDuration("POLL_INTERVAL", 3*time.Second),
			MaxAttempts:  envInt("POLL_MAX_ATTEMPTS", 200),
			ScanInterval: envDuration("POLL_SCAN_INTERVAL", time.Minute),
		},
		Analytics: AnalyticsConfig{
			MaxSpanDays: envInt("ANALYTICS_MAX_SPAN_DAYS", 10),
			Timezone:    envString("ANALYTICS_TIMEZONE", "UTC"),
		},
		Events: EventsConfig{
			AMQPURL:  os.Getenv("AMQP_URL"),
			Exchange: envString("AMQP_EXCHANGE", "rehab.jobs"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Processing.BaseURL == "" {
		return fmt.Errorf("PROCESSING_BASE_URL is required")
	}
	if !strings.HasPrefix(c.Processing.BaseURL, "http://") && !strings.HasPrefix(c.Processing.BaseURL, "https://") {
		return fmt.Errorf("PROCESSING_BASE_URL must start with http:// or https://, got %q", c.Processing.BaseURL)
	}

	if c.Poller.Interval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive, got %s", c.Poller.Interval)
	}
	if c.Poller.MaxAttempts < 1 {
		return fmt.Errorf("POLL_MAX_ATTEMPTS must be at least 1, got %d", c.Poller.MaxAttempts)
	}

	if c.Analytics.MaxSpanDays < 1 {
		return fmt.Errorf("ANALYTICS_MAX_SPAN_DAYS must be at least 1, got %d", c.Analytics.MaxSpanDays)
	}
	loc, err := time.LoadLocation(c.Analytics.Timezone)
	if err != nil {
		return fmt.Errorf("ANALYTICS_TIMEZONE %q is not a valid IANA zone: %w", c.Analytics.Timezone, err)
	}
	c.Analytics.Location = loc

	if c.Events.AMQPURL != "" && !strings.HasPrefix(c.Events.AMQPURL, "amqp://") && !strings.HasPrefix(c.Events.AMQPURL, "amqps://") {
		return fmt.Errorf("AMQP_URL must start with amqp:// or amqps://, got %q", c.Events.AMQPURL)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
