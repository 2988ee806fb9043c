// Package config provides environment-based configuration for the job
// orchestration service.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the service.
type Config struct {
	// Storage configuration. An empty DatabaseDSN selects the
	// in-memory backend.
	DatabaseDSN string

	// JobsFile is the path to the YAML job configuration.
	JobsFile string

	// API holds HTTP server configuration.
	API APIConfig

	// Worker holds build worker configuration.
	Worker WorkerConfig

	// Logging configuration.
	LogLevel  slog.Level
	LogFormat string

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration
}

// APIConfig holds HTTP server configuration.
type APIConfig struct {
	Host string
	Port int
}

// WorkerConfig holds build worker configuration.
type WorkerConfig struct {
	Concurrency  int
	PollInterval time.Duration
	// DependencyPolicy is the default policy for builds submitted
	// without one. Valid values are "required" and "build".
	DependencyPolicy string
	// LogPruneInterval is how often expired build log records are
	// deleted.
	LogPruneInterval time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseDSN: getEnv("DATABASE_URL", ""),
		JobsFile:    getEnv("JOBS_FILE", "jobs.yaml"),
		API: APIConfig{
			Host: getEnv("API_HOST", "0.0.0.0"),
			Port: getIntEnv("API_PORT", 8080),
		},
		Worker: WorkerConfig{
			Concurrency:      getIntEnv("WORKER_CONCURRENCY", 4),
			PollInterval:     getDurationEnv("WORKER_POLL_INTERVAL", 1*time.Second),
			DependencyPolicy: getEnv("DEPENDENCY_POLICY", "required"),
			LogPruneInterval: getDurationEnv("LOG_PRUNE_INTERVAL", 24*time.Hour),
		},
		LogLevel:        getLevelEnv("LOG_LEVEL", slog.LevelInfo),
		LogFormat:       getEnv("LOG_FORMAT", "json"),
		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration values for consistency.
func (c *Config) Validate() error {
	if c.JobsFile == "" {
		return fmt.Errorf("JOBS_FILE is required")
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("API_PORT must be between 1 and 65535")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("WORKER_CONCURRENCY must be positive")
	}
	switch c.Worker.DependencyPolicy {
	case "required", "build":
	default:
		return fmt.Errorf("DEPENDENCY_POLICY must be \"required\" or \"build\"")
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("LOG_FORMAT must be \"json\" or \"text\"")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getLevelEnv(key string, defaultValue slog.Level) slog.Level {
	if value := os.Getenv(key); value != "" {
		var level slog.Level
		if err := level.UnmarshalText([]byte(value)); err == nil {
			return level
		}
	}
	return defaultValue
}
