package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	EventStore EventStoreConfig
	Auth       AuthConfig
	Scoring    ScoringConfig
	Billing    BillingConfig
	RateLimit  RateLimitConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// EventStoreConfig holds configuration for EventStoreDB (domain event streams).
type EventStoreConfig struct {
	Host     string
	Port     int
	Insecure bool
	Username string
	Password string
}

type AuthConfig struct {
	// JWTSecret signs/verifies human session tokens.
	JWTSecret string
	// ServiceAuthToken is the shared secret expected in the X-Service-Auth
	// header. A bearer token is never accepted as a SYSTEM identity.
	ServiceAuthToken string
}

// ScoringConfig holds configuration for the external risk-scoring service.
type ScoringConfig struct {
	URL     string
	Enabled bool
	// Timeout bounds the scoring call; on expiry the stub scorer takes over.
	Timeout time.Duration
}

// BillingConfig holds configuration for the legacy billing (MSSQL) feed.
type BillingConfig struct {
	Enabled      bool
	DSN          string
	PollInterval time.Duration
	SourceSystem string
}

type RateLimitConfig struct {
	IngestPerSecond int
	IngestBurst     int
}

func Load() (*Config, error) {
	return &Config{
		Server: ServerConfig{
			Port: getEnvInt("SERVER_PORT", 8080),
			Env:  getEnv("ENV", "development"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "controltower"),
			Password: getEnv("DB_PASSWORD", "controltower"),
			Database: getEnv("DB_NAME", "controltower"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		EventStore: EventStoreConfig{
			Host:     getEnv("EVENTSTORE_HOST", "localhost"),
			Port:     getEnvInt("EVENTSTORE_PORT", 2113),
			Insecure: getEnvBool("EVENTSTORE_INSECURE", true),
			Username: getEnv("EVENTSTORE_USERNAME", ""),
			Password: getEnv("EVENTSTORE_PASSWORD", ""),
		},
		Auth: AuthConfig{
			JWTSecret:        getEnv("JWT_SECRET", "dev-secret-change-in-prod"),
			ServiceAuthToken: getEnv("SERVICE_AUTH_TOKEN", ""),
		},
		Scoring: ScoringConfig{
			URL:     getEnv("SCORING_SERVICE_URL", "http://localhost:5000"),
			Enabled: getEnvBool("SCORING_ENABLED", true),
			Timeout: getEnvDuration("SCORING_TIMEOUT", 3*time.Second),
		},
		Billing: BillingConfig{
			Enabled:      getEnvBool("BILLING_FEED_ENABLED", false),
			DSN:          getEnv("BILLING_MSSQL_DSN", ""),
			PollInterval: getEnvDuration("BILLING_POLL_INTERVAL", 15*time.Minute),
			SourceSystem: getEnv("BILLING_SOURCE_SYSTEM", "LEGACY_BILLING"),
		},
		RateLimit: RateLimitConfig{
			IngestPerSecond: getEnvInt("INGEST_RATE_PER_SECOND", 20),
			IngestBurst:     getEnvInt("INGEST_RATE_BURST", 40),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
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
