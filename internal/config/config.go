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
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Redis (optional fast-path idempotency cache)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Payment provider
	Provider      string // "mock" or "stripe"
	StripeAPIKey  string
	PlatformEntity string // entity ID credited on capture

	// Idempotency TTLs
	IdempotencyTTL        time.Duration // general dedupe window
	PaymentCommandTTL     time.Duration // short window for authorize-class commands
	IdempotencyRetention  int           // days kept before cleanup-older-than

	// Event delivery
	WebhookURL    string // optional lifecycle event sink
	WebhookSecret string

	// Verifier
	VerifyInterval time.Duration // 0 disables the periodic verifier

	// Observability
	OTLPEndpoint string
}

// Defaults
const (
	DefaultPort           = "8080"
	DefaultEnv            = "development"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"
	DefaultProvider       = "mock"
	DefaultPlatformEntity = "platform"
	DefaultIdempotencyTTL = 24 * time.Hour
	DefaultPaymentTTL     = time.Hour
	DefaultRetentionDays  = 30
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", DefaultPort),
		Env:                  getEnv("ENV", DefaultEnv),
		LogLevel:             getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:            getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:          os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		RedisAddr:            os.Getenv("REDIS_ADDR"),   // Optional, uses in-process cache if not set
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		RedisDB:              int(getEnvInt64("REDIS_DB", 0)),
		Provider:             getEnv("PAYMENT_PROVIDER", DefaultProvider),
		StripeAPIKey:         os.Getenv("STRIPE_API_KEY"),
		PlatformEntity:       getEnv("PLATFORM_ENTITY", DefaultPlatformEntity),
		IdempotencyTTL:       getEnvDuration("IDEMPOTENCY_TTL", DefaultIdempotencyTTL),
		PaymentCommandTTL:    getEnvDuration("PAYMENT_COMMAND_TTL", DefaultPaymentTTL),
		IdempotencyRetention: int(getEnvInt64("IDEMPOTENCY_RETENTION_DAYS", DefaultRetentionDays)),
		WebhookURL:           os.Getenv("EVENT_WEBHOOK_URL"),
		WebhookSecret:        os.Getenv("EVENT_WEBHOOK_SECRET"),
		VerifyInterval:       getEnvDuration("VERIFY_INTERVAL", 0),
		OTLPEndpoint:         os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	switch c.Provider {
	case "mock":
	case "stripe":
		if c.StripeAPIKey == "" {
			return fmt.Errorf("STRIPE_API_KEY is required when PAYMENT_PROVIDER=stripe")
		}
	default:
		return fmt.Errorf("unknown PAYMENT_PROVIDER %q (want mock or stripe)", c.Provider)
	}

	if c.PaymentCommandTTL <= 0 || c.IdempotencyTTL <= 0 {
		return fmt.Errorf("idempotency TTLs must be positive")
	}
	if c.PaymentCommandTTL > c.IdempotencyTTL {
		return fmt.Errorf("PAYMENT_COMMAND_TTL must not exceed IDEMPOTENCY_TTL")
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
