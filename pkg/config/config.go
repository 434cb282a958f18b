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
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	NATS      NATSConfig
	Sentry    SentryConfig
	Directory DirectoryConfig
	Referral  ReferralConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Port         string
	Environment  string
	ServiceName  string
	ReadTimeout  int
	WriteTimeout int
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host          string
	Port          string
	User          string
	Password      string
	DBName        string
	SSLMode       string
	MaxConns      int
	MinConns      int
	MigrationsDir string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// NATSConfig holds event bus configuration
type NATSConfig struct {
	URL        string
	StreamName string
	Enabled    bool
}

// SentryConfig holds error tracking configuration
type SentryConfig struct {
	DSN         string
	Environment string
	Release     string
	Enabled     bool
}

// DirectoryConfig holds the user-directory client configuration
type DirectoryConfig struct {
	BaseURL        string
	TimeoutSeconds int
}

// ReferralConfig holds referral-program policy defaults
type ReferralConfig struct {
	DefaultCurrency      string
	MaxCodeUses          int
	RedeemRetryAttempts  int
	SweepBatchSize       int
	PayoutDetailsKey     string // 32-byte hex key for AES-GCM payout detail encryption
	DefaultEstimatedDays int
}

// RateLimitConfig holds token-bucket rate limiting configuration
type RateLimitConfig struct {
	Enabled        bool
	DefaultLimit   int // requests per window for gateway-authenticated actors
	DefaultBurst   int
	AnonymousLimit int // requests per window for unauthenticated callers
	AnonymousBurst int
	WindowSeconds  int
	RedisPrefix    string
}

// Window returns the rate limiting window as a duration.
func (c *RateLimitConfig) Window() time.Duration {
	if c.WindowSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.WindowSeconds) * time.Second
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			Environment:  getEnv("ENVIRONMENT", "development"),
			ServiceName:  serviceName,
			ReadTimeout:  getEnvAsInt("READ_TIMEOUT", 10),
			WriteTimeout: getEnvAsInt("WRITE_TIMEOUT", 10),
		},
		Database: DatabaseConfig{
			Host:          getEnv("DB_HOST", "localhost"),
			Port:          getEnv("DB_PORT", "5432"),
			User:          getEnv("DB_USER", "postgres"),
			Password:      getEnv("DB_PASSWORD", "postgres"),
			DBName:        getEnv("DB_NAME", "referrals"),
			SSLMode:       getEnv("DB_SSLMODE", "disable"),
			MaxConns:      getEnvAsInt("DB_MAX_CONNS", 25),
			MinConns:      getEnvAsInt("DB_MIN_CONNS", 5),
			MigrationsDir: getEnv("DB_MIGRATIONS_DIR", "migrations"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		NATS: NATSConfig{
			URL:        getEnv("NATS_URL", "nats://localhost:4222"),
			StreamName: getEnv("NATS_STREAM", "REFERRALS"),
			Enabled:    getEnvAsBool("NATS_ENABLED", false),
		},
		Sentry: SentryConfig{
			DSN:         getEnv("SENTRY_DSN", ""),
			Environment: getEnv("SENTRY_ENVIRONMENT", getEnv("ENVIRONMENT", "development")),
			Release:     getEnv("SENTRY_RELEASE", "referral-service@dev"),
			Enabled:     getEnv("SENTRY_DSN", "") != "",
		},
		Directory: DirectoryConfig{
			BaseURL:        getEnv("DIRECTORY_BASE_URL", "http://localhost:8081"),
			TimeoutSeconds: getEnvAsInt("DIRECTORY_TIMEOUT_SECONDS", 5),
		},
		Referral: ReferralConfig{
			DefaultCurrency:      getEnv("REFERRAL_CURRENCY", "INR"),
			MaxCodeUses:          getEnvAsInt("REFERRAL_MAX_CODE_USES", 1000),
			RedeemRetryAttempts:  getEnvAsInt("REFERRAL_REDEEM_RETRIES", 3),
			SweepBatchSize:       getEnvAsInt("REFERRAL_SWEEP_BATCH_SIZE", 500),
			PayoutDetailsKey:     getEnv("PAYOUT_DETAILS_KEY", ""),
			DefaultEstimatedDays: getEnvAsInt("PAYOUT_DEFAULT_ESTIMATED_DAYS", 7),
		},
		RateLimit: RateLimitConfig{
			Enabled:        getEnvAsBool("RATE_LIMIT_ENABLED", false),
			DefaultLimit:   getEnvAsInt("RATE_LIMIT_DEFAULT", 300),
			DefaultBurst:   getEnvAsInt("RATE_LIMIT_BURST", 50),
			AnonymousLimit: getEnvAsInt("RATE_LIMIT_ANONYMOUS", 60),
			AnonymousBurst: getEnvAsInt("RATE_LIMIT_ANONYMOUS_BURST", 10),
			WindowSeconds:  getEnvAsInt("RATE_LIMIT_WINDOW_SECONDS", 60),
			RedisPrefix:    getEnv("RATE_LIMIT_REDIS_PREFIX", "ratelimit:referral"),
		},
	}

	if cfg.Referral.RedeemRetryAttempts <= 0 {
		cfg.Referral.RedeemRetryAttempts = 3
	}
	if cfg.Referral.MaxCodeUses <= 0 || cfg.Referral.MaxCodeUses > 1000 {
		cfg.Referral.MaxCodeUses = 1000
	}

	return cfg, nil
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// URL returns the database connection string in URL form, as expected by golang-migrate.
func (c *DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"pgx5://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// RedisAddr returns the Redis address
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}
