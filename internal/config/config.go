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
	Server   ServerConfig
	Database DatabaseConfig
	Cache    CacheConfig
	Queue    QueueConfig
	App      AppConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port        string
	Environment string // "development", "staging", "production"
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// CacheConfig holds the Redis caching layer configuration
type CacheConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	// TTL bounds the dedup and object cache regions.
	TTL time.Duration
	// OpTimeout bounds every cache operation; a timed-out read is
	// treated as a miss.
	OpTimeout time.Duration
}

// QueueConfig holds the RabbitMQ connection configuration for the
// analytics event stream.
type QueueConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	// QueueName is the analytics click-event queue.
	QueueName string
	// PublishBuffer bounds the in-process producer buffer; events
	// beyond it are dropped rather than delaying redirects.
	PublishBuffer int
}

// AppConfig holds application-specific configuration
type AppConfig struct {
	BaseURL            string // Base URL for generating short links
	MaxAliasLen        int
	MinAliasLen        int
	CodeRetries        int           // fresh-code retries after a confirmed collision
	DefaultRedirectTTL time.Duration // redirect cache TTL for links with no expiry
	VisitorSetTTL      time.Duration
	// VerifyReachability enables the HEAD probe on destination URLs.
	// Off by default so tests and air-gapped deployments stay hermetic.
	VerifyReachability bool
	PasswordAttempts   int           // failed attempts allowed per window
	AttemptWindow      time.Duration // lockout window for password attempts
	OTLPEndpoint       string        // empty means no trace export
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	_ = godotenv.Load()
	return &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			Environment: getEnv("ENVIRONMENT", "development"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "snaplink"),
			Password: getEnv("DB_PASSWORD", "snaplink_secret"),
			DBName:   getEnv("DB_NAME", "snaplink"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Cache: CacheConfig{
			Host:      getEnv("RDB_HOST", "localhost"),
			Port:      getEnv("RDB_PORT", "6379"),
			User:      getEnv("RDB_USER", ""),
			Password:  getEnv("RDB_PASSWORD", ""),
			TTL:       getEnvDuration("CACHE_TTL", 24*time.Hour),
			OpTimeout: getEnvDuration("CACHE_OP_TIMEOUT", 200*time.Millisecond),
		},
		Queue: QueueConfig{
			Host:          getEnv("MQ_HOST", "localhost"),
			Port:          getEnv("MQ_PORT", "5672"),
			User:          getEnv("MQ_USER", "guest"),
			Password:      getEnv("MQ_PASSWORD", "guest"),
			QueueName:     getEnv("MQ_ANALYTICS_QUEUE", "analytics.clicks"),
			PublishBuffer: getEnvInt("MQ_PUBLISH_BUFFER", 1024),
		},
		App: AppConfig{
			BaseURL:            getEnv("BASE_URL", "http://localhost:8080"),
			MaxAliasLen:        getEnvInt("MAX_ALIAS_LENGTH", 20),
			MinAliasLen:        getEnvInt("MIN_ALIAS_LENGTH", 3),
			CodeRetries:        getEnvInt("CODE_MAX_RETRIES", 3),
			DefaultRedirectTTL: getEnvDuration("REDIRECT_CACHE_TTL", 7*24*time.Hour),
			VisitorSetTTL:      getEnvDuration("VISITOR_SET_TTL", 30*24*time.Hour),
			VerifyReachability: getEnvBool("VERIFY_REACHABILITY", false),
			PasswordAttempts:   getEnvInt("PASSWORD_MAX_ATTEMPTS", 3),
			AttemptWindow:      getEnvDuration("PASSWORD_ATTEMPT_WINDOW", 6*time.Hour),
			OTLPEndpoint:       getEnv("OTLP_ENDPOINT", ""),
		},
	}, nil
}

// ConnectionString returns the PostgreSQL connection string
func (d *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
}

// ConnectionString returns the Redis connection string
func (c *CacheConfig) ConnectionString() string {
	return fmt.Sprintf("redis://%s:%s@%s:%s/0", c.User, c.Password, c.Host, c.Port)
}

// ConnectionString returns the RabbitMQ connection string
func (q *QueueConfig) ConnectionString() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/", q.User, q.Password, q.Host, q.Port)
}

func getEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
