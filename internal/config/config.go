// Package config loads service configuration from environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Config holds all settings for the service. It is loaded once at startup and
// passed into constructors; nothing in this package is mutated afterwards.
type Config struct {
	// Postgres
	DBHost     string
	DBPort     string
	DBName     string
	DBUser     string
	DBPassword string

	// S3 / MinIO
	S3EndpointURL string // empty for AWS
	S3Bucket      string
	AWSAccessKey  string
	AWSSecretKey  string
	AWSRegion     string

	// Redis result cache
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration
	CacheEnabled  bool

	// LLM
	AnthropicAPIKey string
	RouterModel     string
	SQLModel        string
	MaxTokens       int64

	// SMTP delivery
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string

	// Pipeline
	MaxSQLAttempts int
	QueryTimeout   time.Duration

	// HTTP
	ListenAddr  string
	MetricsAddr string
	CORSOrigins []string
}

// Load reads configuration from the environment, applying defaults for
// anything optional. It returns an error when a required value is missing.
func Load() (*Config, error) {
	cfg := &Config{
		DBHost:     envOr("DB_HOST", "localhost"),
		DBPort:     envOr("DB_PORT", "5432"),
		DBName:     envOr("DB_NAME", "analytics"),
		DBUser:     envOr("DB_USER", "analytics"),
		DBPassword: os.Getenv("DB_PASSWORD"),

		S3EndpointURL: os.Getenv("S3_ENDPOINT_URL"),
		S3Bucket:      envOr("S3_BUCKET_NAME", "rag-reports"),
		AWSAccessKey:  os.Getenv("AWS_ACCESS_KEY_ID"),
		AWSSecretKey:  os.Getenv("AWS_SECRET_ACCESS_KEY"),
		AWSRegion:     envOr("AWS_REGION", "us-east-1"),

		RedisAddr:     envOr("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		RouterModel:     envOr("ROUTER_MODEL", "claude-3-5-haiku-latest"),
		SQLModel:        envOr("SQL_MODEL", "claude-sonnet-4-5"),

		SMTPHost:     envOr("SMTP_HOST", "smtp.gmail.com"),
		SMTPUser:     os.Getenv("SMTP_USER"),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),

		ListenAddr:  envOr("LISTEN_ADDR", ":8001"),
		MetricsAddr: envOr("METRICS_ADDR", ":2112"),
	}

	if cfg.AnthropicAPIKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is required")
	}

	var err error
	if cfg.RedisDB, err = envInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	ttlSeconds, err := envInt("REDIS_CACHE_TTL", 86400)
	if err != nil {
		return nil, err
	}
	cfg.CacheTTL = time.Duration(ttlSeconds) * time.Second

	cfg.CacheEnabled, err = envBool("ENABLE_CACHE", true)
	if err != nil {
		return nil, err
	}

	if cfg.MaxSQLAttempts, err = envInt("SQL_RETRY_MAX", 3); err != nil {
		return nil, err
	}
	if cfg.MaxSQLAttempts < 1 {
		return nil, fmt.Errorf("SQL_RETRY_MAX must be at least 1, got %d", cfg.MaxSQLAttempts)
	}

	timeoutSeconds, err := envInt("QUERY_TIMEOUT", 30)
	if err != nil {
		return nil, err
	}
	cfg.QueryTimeout = time.Duration(timeoutSeconds) * time.Second

	maxTokens, err := envInt("ANTHROPIC_MAX_TOKENS", 1024)
	if err != nil {
		return nil, err
	}
	cfg.MaxTokens = int64(maxTokens)

	if cfg.SMTPPort, err = envInt("SMTP_PORT", 587); err != nil {
		return nil, err
	}

	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.CORSOrigins = []string{origins}
	} else {
		cfg.CORSOrigins = []string{"http://localhost:5173"}
	}

	return cfg, nil
}

// DatabaseURL builds the Postgres connection string for pgxpool.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		url.QueryEscape(c.DBUser), url.QueryEscape(c.DBPassword),
		c.DBHost, c.DBPort, c.DBName)
}

// DeliveryEnabled reports whether SMTP credentials are configured.
func (c *Config) DeliveryEnabled() bool {
	return c.SMTPUser != "" && c.SMTPPassword != ""
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean, got %q", key, v)
	}
	return b, nil
}
