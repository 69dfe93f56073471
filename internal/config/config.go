// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
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

	// Sanctions screening (Range risk API). An empty key runs the screener in demo mode.
	RangeAPIKey      string
	RangeAPIURL      string
	ScreeningTimeout time.Duration

	// Compliance gate pacing
	GateIdentityDelay      time.Duration
	GateScreeningDelay     time.Duration
	GateAccreditationDelay time.Duration

	// Security
	AdminSecret  string   // Guards the settlement console when set
	RateLimitRPM int
	CORSOrigins  []string // Empty allows every origin

	// Tracing
	OTLPEndpoint string
}

const (
	DefaultPort             = "8080"
	DefaultEnv              = "development"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
	DefaultRangeAPIURL      = "https://api.range.org"
	DefaultScreeningTimeout = 10 * time.Second
	DefaultIdentityDelay    = 1000 * time.Millisecond
	DefaultScreeningDelay   = 1200 * time.Millisecond
	DefaultAccreditDelay    = 1200 * time.Millisecond
	DefaultRateLimitRPM     = 120
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                   getEnv("PORT", DefaultPort),
		Env:                    getEnv("ENV", DefaultEnv),
		LogLevel:               getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:              getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		RangeAPIKey:            os.Getenv("RANGE_API_KEY"),
		RangeAPIURL:            getEnv("RANGE_API_URL", DefaultRangeAPIURL),
		ScreeningTimeout:       getEnvDuration("SCREENING_TIMEOUT", DefaultScreeningTimeout),
		GateIdentityDelay:      getEnvDuration("GATE_IDENTITY_DELAY", DefaultIdentityDelay),
		GateScreeningDelay:     getEnvDuration("GATE_SCREENING_DELAY", DefaultScreeningDelay),
		GateAccreditationDelay: getEnvDuration("GATE_ACCREDITATION_DELAY", DefaultAccreditDelay),
		AdminSecret:            os.Getenv("ADMIN_SECRET"),
		RateLimitRPM:           int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
		OTLPEndpoint:           os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		CORSOrigins:            getEnvList("CORS_ORIGINS"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is usable.
// A missing RANGE_API_KEY is valid: the screener runs in demo mode.
func (c *Config) Validate() error {
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("PORT must be numeric, got %q", c.Port)
	}
	if c.RangeAPIURL == "" {
		return fmt.Errorf("RANGE_API_URL is required")
	}
	if c.ScreeningTimeout <= 0 {
		return fmt.Errorf("SCREENING_TIMEOUT must be positive")
	}
	if c.GateIdentityDelay < 0 || c.GateScreeningDelay < 0 || c.GateAccreditationDelay < 0 {
		return fmt.Errorf("gate delays must not be negative")
	}
	if c.RateLimitRPM <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPM must be positive")
	}
	return nil
}

// ScreeningConfigured reports whether a sanctions API key is present.
func (c *Config) ScreeningConfigured() bool {
	return c.RangeAPIKey != ""
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

// getEnvDuration accepts Go durations ("1.5s") or bare milliseconds ("1500").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping empty entries.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
