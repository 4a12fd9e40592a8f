// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory audit store if not set)

	// Decision pipeline
	RuleVersion       string        // Rule-set version tag stamped on every decision
	CacheOpTimeout    time.Duration // Per-operation timeout on cache reads/writes
	ProfileTTL        time.Duration // Cached profile freshness bound
	VelocityRetention time.Duration // Sliding-window retention horizon

	// Publishing
	PublishTopic      string // Logical topic for decision results
	PublishWebhookURL string // Outbound webhook endpoint (empty = publishing disabled)
	PublishSecret     string // HMAC secret for signing published payloads

	// Ingestion
	Workers int // Concurrent evaluation workers

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint (empty = tracing disabled)

	// Security
	RateLimitRPM int
}

// Defaults
const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultRuleVersion       = "v1"
	DefaultCacheOpTimeout    = 50 * time.Millisecond
	DefaultProfileTTL        = time.Hour
	DefaultVelocityRetention = 10 * time.Minute
	DefaultPublishTopic      = "decision-results"
	DefaultWorkers           = 8
	DefaultRateLimit         = 300
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		Env:               getEnv("ENV", DefaultEnv),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:       os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		RuleVersion:       getEnv("RULE_VERSION", DefaultRuleVersion),
		CacheOpTimeout:    getEnvDuration("CACHE_OP_TIMEOUT", DefaultCacheOpTimeout),
		ProfileTTL:        getEnvDuration("PROFILE_TTL", DefaultProfileTTL),
		VelocityRetention: getEnvDuration("VELOCITY_RETENTION", DefaultVelocityRetention),
		PublishTopic:      getEnv("PUBLISH_TOPIC", DefaultPublishTopic),
		PublishWebhookURL: os.Getenv("PUBLISH_WEBHOOK_URL"),
		PublishSecret:     os.Getenv("PUBLISH_SECRET"),
		Workers:           int(getEnvInt64("WORKERS", DefaultWorkers)),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		RateLimitRPM:      int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimit)),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is coherent
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT must not be empty")
	}
	if c.RuleVersion == "" {
		return fmt.Errorf("RULE_VERSION must not be empty")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("WORKERS must be positive, got %d", c.Workers)
	}
	if c.CacheOpTimeout <= 0 {
		return fmt.Errorf("CACHE_OP_TIMEOUT must be positive, got %s", c.CacheOpTimeout)
	}
	if c.VelocityRetention < 5*time.Minute {
		return fmt.Errorf("VELOCITY_RETENTION must cover the 5m rule window, got %s", c.VelocityRetention)
	}
	if c.PublishWebhookURL != "" && c.PublishSecret == "" {
		return fmt.Errorf("PUBLISH_SECRET is required when PUBLISH_WEBHOOK_URL is set")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
