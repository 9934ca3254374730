// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Token settings
	SignupGrant string // Tokens granted to a newly created account (e.g. "100")

	// Escrow expiry sweep. A zero TTL disables the sweep; expiry then has
	// to come from an external caller invoking Cancel.
	EscrowTTL     time.Duration
	SweepInterval time.Duration

	// Security
	RateLimitRPS int

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint for traces (optional)
}

// Defaults.
const (
	DefaultPort          = "8080"
	DefaultEnv           = "development"
	DefaultLogLevel      = "info"
	DefaultSignupGrant   = "100"
	DefaultSweepInterval = 30 * time.Second
	DefaultRateLimit     = 100
)

// Load reads configuration from environment variables.
// It loads a .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:          getEnv("PORT", DefaultPort),
		Env:           getEnv("ENV", DefaultEnv),
		LogLevel:      getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:   os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		SignupGrant:   getEnv("SIGNUP_GRANT", DefaultSignupGrant),
		EscrowTTL:     getEnvDuration("ESCROW_TTL", 0),
		SweepInterval: getEnvDuration("SWEEP_INTERVAL", DefaultSweepInterval),
		RateLimitRPS:  int(getEnvInt64("RATE_LIMIT_RPS", int64(DefaultRateLimit))),
		OTLPEndpoint:  os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	grant, err := decimal.NewFromString(c.SignupGrant)
	if err != nil {
		return fmt.Errorf("SIGNUP_GRANT must be a decimal number: %w", err)
	}
	if grant.IsNegative() {
		return fmt.Errorf("SIGNUP_GRANT must not be negative")
	}

	if c.EscrowTTL < 0 {
		return fmt.Errorf("ESCROW_TTL must not be negative")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive")
	}

	return nil
}

// SignupGrantAmount returns the signup grant as a decimal.
// Validate must have been called first.
func (c *Config) SignupGrantAmount() decimal.Decimal {
	grant, _ := decimal.NewFromString(c.SignupGrant)
	return grant
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
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
