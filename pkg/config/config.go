package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Cache     CacheConfig
	Audit     AuditConfig
	LogLevel  string
	LogFormat string
}

// ServerConfig holds the health/metrics HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// CacheConfig selects and tunes the permission cache backend
type CacheConfig struct {
	// Backend is "memory", "redis" or "none".
	Backend string
	TTL     time.Duration
	Size    int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// AuditConfig tunes the audit recorder and retention
type AuditConfig struct {
	BufferSize    int
	MaxRetries    int
	RetentionDays int
	CleanupCron   string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("WEBVUE_HOST", "0.0.0.0"),
			Port:            getEnv("WEBVUE_PORT", "9090"),
			ReadTimeout:     getEnvDuration("WEBVUE_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("WEBVUE_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getEnvDuration("WEBVUE_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			DSN:             getEnv("WEBVUE_DATABASE_URL", "postgres://localhost:5432/webvue?sslmode=disable"),
			MaxOpenConns:    getEnvInt("WEBVUE_DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("WEBVUE_DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("WEBVUE_DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Cache: CacheConfig{
			Backend:       getEnv("WEBVUE_CACHE_BACKEND", "memory"),
			TTL:           getEnvDuration("WEBVUE_CACHE_TTL", 5*time.Minute),
			Size:          getEnvInt("WEBVUE_CACHE_SIZE", 4096),
			RedisAddr:     getEnv("WEBVUE_REDIS_ADDR", "localhost:6379"),
			RedisPassword: getEnv("WEBVUE_REDIS_PASSWORD", ""),
			RedisDB:       getEnvInt("WEBVUE_REDIS_DB", 0),
		},
		Audit: AuditConfig{
			BufferSize:    getEnvInt("WEBVUE_AUDIT_BUFFER_SIZE", 1024),
			MaxRetries:    getEnvInt("WEBVUE_AUDIT_MAX_RETRIES", 3),
			RetentionDays: getEnvInt("WEBVUE_AUDIT_RETENTION_DAYS", 365),
			CleanupCron:   getEnv("WEBVUE_AUDIT_CLEANUP_CRON", "0 3 * * *"),
		},
		LogLevel:  getEnv("WEBVUE_LOG_LEVEL", "info"),
		LogFormat: getEnv("WEBVUE_LOG_FORMAT", "json"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN is required")
	}

	switch c.Cache.Backend {
	case "memory", "redis", "none":
	default:
		return fmt.Errorf("invalid cache backend %q: want memory, redis or none", c.Cache.Backend)
	}
	if c.Cache.Backend == "redis" && c.Cache.RedisAddr == "" {
		return fmt.Errorf("redis address is required for the redis cache backend")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}
	if c.Audit.RetentionDays <= 0 {
		return fmt.Errorf("audit retention days must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
