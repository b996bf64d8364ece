// Package config loads the data updater's environment-variable
// configuration, in the same getEnv/getEnvAsInt shape as the teacher's
// internal/config/config.go.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	ServiceName string
	ServicePort int
	MetricsPort int
	Database    DatabaseConfig
	RabbitMQ    RabbitMQConfig
	Cache       CacheConfig
}

// DatabaseConfig holds the wide-column store connection settings.
type DatabaseConfig struct {
	URL string
}

// RabbitMQConfig holds broker connection, topology, and worker settings.
type RabbitMQConfig struct {
	URL              string
	DataQueuePrefix  string // one queue per worker: "<prefix>.<worker_id>"
	WorkerCount      int
	PrefetchCount    int
	EventsExchange   string // outbound trigger events exchange
}

// CacheConfig holds the actor-local cache lifespans and capacities (§4.2.1).
type CacheConfig struct {
	InterfaceLifespan        time.Duration
	DeviceTriggersLifespan    time.Duration
	PathsCacheCapacity        int
	SafeInflateMaxBytes       int
	BaseBackoff               time.Duration
	RandomBackoff             time.Duration
}

// Load reads configuration from environment variables, applying the same
// defaults-with-fallback pattern as the teacher repo.
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "astra-data-updater"),
		ServicePort: getEnvAsInt("SERVICE_PORT", 8090),
		MetricsPort: getEnvAsInt("METRICS_PORT", 9090),
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		RabbitMQ: RabbitMQConfig{
			URL:             getEnv("RABBITMQ_URL", ""),
			DataQueuePrefix: getEnv("RABBITMQ_DATA_QUEUE_PREFIX", "astarte_data_updater"),
			WorkerCount:     getEnvAsInt("RABBITMQ_WORKER_COUNT", 1),
			PrefetchCount:   getEnvAsInt("RABBITMQ_PREFETCH", 300),
			EventsExchange:  getEnv("RABBITMQ_EVENTS_EXCHANGE", "astarte_events"),
		},
		Cache: CacheConfig{
			InterfaceLifespan:     getEnvAsDuration("INTERFACE_LIFESPAN", 10*time.Minute),
			DeviceTriggersLifespan: getEnvAsDuration("DEVICE_TRIGGERS_LIFESPAN", 10*time.Minute),
			PathsCacheCapacity:    getEnvAsInt("PATHS_CACHE_CAPACITY", 32),
			SafeInflateMaxBytes:   getEnvAsInt("SAFE_INFLATE_MAX_BYTES", 10*1024*1024),
			BaseBackoff:           getEnvAsDuration("TRACKER_BASE_BACKOFF", 1*time.Second),
			RandomBackoff:         getEnvAsDuration("TRACKER_RANDOM_BACKOFF", 9*time.Second),
		},
	}

	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required but not set in environment variables")
	}
	if cfg.RabbitMQ.URL == "" {
		return nil, fmt.Errorf("RABBITMQ_URL is required but not set in environment variables")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
