package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"      validate:"required"`
	Database    DatabaseConfig    `mapstructure:"database"    validate:"required"`
	Cache       CacheConfig       `mapstructure:"cache"       validate:"required"`
	Queue       QueueConfig       `mapstructure:"queue"       validate:"required"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance" validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig selects and configures the durable tier.
type DatabaseConfig struct {
	// Driver picks the durable backend. The sqlite driver treats URL as a
	// file path (":memory:" for an in-memory database).
	Driver string `mapstructure:"driver" validate:"required,oneof=postgres sqlite"`
	URL    string `mapstructure:"url"    validate:"required"`
}

// CacheConfig configures the Redis cache tier. Disabling the cache runs
// every read against the durable tier.
type CacheConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Addr       string `mapstructure:"addr"        validate:"required_if=Enabled true"`
	TTLSeconds int    `mapstructure:"ttl_seconds" validate:"gte=60,lte=86400"`
}

// TTL returns the cache entry lifetime.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// QueueConfig bounds the dispatch queue.
type QueueConfig struct {
	MaxSizePerScope       int `mapstructure:"max_size_per_scope"       validate:"gte=100,lte=10000"`
	DefaultTTLSeconds     int `mapstructure:"default_ttl_seconds"      validate:"gte=300,lte=86400"`
	MaxRetries            int `mapstructure:"max_retries"              validate:"gte=0,lte=10"`
	BaseRetryDelaySeconds int `mapstructure:"base_retry_delay_seconds" validate:"gte=1,lte=60"`
}

// DefaultTTL returns the entry lifetime applied when an enqueue does not
// carry its own.
func (c QueueConfig) DefaultTTL() time.Duration {
	return time.Duration(c.DefaultTTLSeconds) * time.Second
}

// BaseRetryDelay returns the backoff unit for retries.
func (c QueueConfig) BaseRetryDelay() time.Duration {
	return time.Duration(c.BaseRetryDelaySeconds) * time.Second
}

// MaintenanceConfig configures the background janitor and the dead-letter
// archive location.
type MaintenanceConfig struct {
	PurgeIntervalSeconds int    `mapstructure:"purge_interval_seconds" validate:"gte=5,lte=3600"`
	DeadLetterPath       string `mapstructure:"dead_letter_path"       validate:"required"`
}

// PurgeInterval returns how often the janitor sweeps expired entries.
func (c MaintenanceConfig) PurgeInterval() time.Duration {
	return time.Duration(c.PurgeIntervalSeconds) * time.Second
}
