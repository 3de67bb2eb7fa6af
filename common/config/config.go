package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all engine configuration
type Config struct {
	Service  ServiceConfig
	Engine   EngineConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Cache    CacheConfig
	Queue    QueueConfig
}

// ServiceConfig holds service-level settings
type ServiceConfig struct {
	Name        string
	Environment string
	LogLevel    string
	LogFormat   string
}

// EngineConfig holds scheduler and runner settings
type EngineConfig struct {
	MaxConcurrency    int           // parallel actions per run
	SpillThreshold    int           // bytes before an output is spilled to storage
	EventSizeLimit    int           // bytes before a node-I/O payload is spilled
	TruncateLimit     int           // bytes before a node-I/O payload is truncated outright
	DefaultRunTimeout time.Duration // applied when the definition carries none
	TraceSink         string        // "memory", "postgres", "redis"
	BlobStore         string        // "memory", "redis"
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// CacheConfig holds cache settings
type CacheConfig struct {
	Enabled    bool
	DefaultTTL time.Duration
}

// QueueConfig holds async sink delivery settings
type QueueConfig struct {
	BufferSize int
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"), // Default to text for development
		},
		Engine: EngineConfig{
			MaxConcurrency:    getEnvInt("ENGINE_MAX_CONCURRENCY", 10),
			SpillThreshold:    getEnvInt("ENGINE_SPILL_THRESHOLD", 100*1024),
			EventSizeLimit:    getEnvInt("ENGINE_EVENT_SIZE_LIMIT", 100*1024),
			TruncateLimit:     getEnvInt("ENGINE_TRUNCATE_LIMIT", 900*1024),
			DefaultRunTimeout: getEnvDuration("ENGINE_DEFAULT_RUN_TIMEOUT", 15*time.Minute),
			TraceSink:         getEnv("ENGINE_TRACE_SINK", "memory"),
			BlobStore:         getEnv("ENGINE_BLOB_STORE", "memory"),
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "studio"),
			User:        getEnv("POSTGRES_USER", "studio"),
			Password:    getEnv("POSTGRES_PASSWORD", "studio"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 20),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 2),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Cache: CacheConfig{
			Enabled:    getEnvBool("CACHE_ENABLED", true),
			DefaultTTL: getEnvDuration("CACHE_DEFAULT_TTL", 1*time.Hour),
		},
		Queue: QueueConfig{
			BufferSize: getEnvInt("QUEUE_BUFFER_SIZE", 1000),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Engine.MaxConcurrency < 1 {
		return fmt.Errorf("engine max_concurrency must be >= 1, got %d", c.Engine.MaxConcurrency)
	}

	if c.Engine.SpillThreshold < 1 {
		return fmt.Errorf("engine spill_threshold must be positive, got %d", c.Engine.SpillThreshold)
	}

	if c.Engine.TruncateLimit < c.Engine.EventSizeLimit {
		return fmt.Errorf("engine truncate_limit must be >= event_size_limit")
	}

	switch c.Engine.TraceSink {
	case "memory", "postgres", "redis":
	default:
		return fmt.Errorf("unknown trace sink: %s", c.Engine.TraceSink)
	}

	switch c.Engine.BlobStore {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown blob store: %s", c.Engine.BlobStore)
	}

	if c.Engine.TraceSink == "postgres" && c.Database.Host == "" {
		return fmt.Errorf("database host is required for the postgres trace sink")
	}

	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns must be >= min_conns")
	}

	return nil
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// RedisAddr returns the host:port address for the Redis client
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
