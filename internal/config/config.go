package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config represents the entire application configuration
type Config struct {
	Env      string         `json:"env"`
	Port     int            `json:"port"`
	AppName  string         `json:"app_name"`
	Engine   EngineConfig   `json:"engine"`
	Remote   RemoteConfig   `json:"remote"`
	MongoDB  MongoDBConfig  `json:"mongodb"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
	Archive  ArchiveConfig  `json:"archive"`
	Logging  LoggingConfig  `json:"logging"`
	CORS     CORSConfig     `json:"cors"`
}

// EngineConfig is the tuning surface of the collection engine.
type EngineConfig struct {
	WorkerCount   int             `json:"worker_count"`
	QueueCapacity int             `json:"queue_capacity"` // 0 = unbounded
	RateLimit     RateLimitConfig `json:"rate_limit"`
	Cache         CacheConfig     `json:"cache"`
	Pool          PoolConfig      `json:"pool"`
	Retry         RetryConfig     `json:"retry"`
}

// RateLimitConfig bounds the outbound remote request rate.
type RateLimitConfig struct {
	Capacity         int     `json:"capacity"`
	RefillPerSecond  float64 `json:"refill_per_second"`
	AcquireTimeoutMS int     `json:"acquire_timeout_ms"`
}

// CacheConfig selects the cache backend and TTLs per result class.
type CacheConfig struct {
	// Backend is "memory" (default) or "redis".
	Backend            string `json:"backend"`
	DefaultTTLSeconds  int    `json:"default_ttl_seconds"`
	NegativeTTLSeconds int    `json:"negative_ttl_seconds"`
	SweepIntervalMin   int    `json:"sweep_interval_min"`
}

// PoolConfig bounds the storage connection pool.
type PoolConfig struct {
	MaxConnections   int `json:"max_connections"`
	AcquireTimeoutMS int `json:"acquire_timeout_ms"`
}

// RetryConfig governs transient-failure retries per job.
type RetryConfig struct {
	MaxAttempts   int `json:"max_attempts"`
	BaseBackoffMS int `json:"base_backoff_ms"`
}

// RemoteConfig contains property data source API configurations
type RemoteConfig struct {
	APIKey           string `json:"api_key"`
	BaseURL          string `json:"base_url"`
	RequestTimeoutMS int    `json:"request_timeout_ms"`
}

// MongoDBConfig contains MongoDB connection details
type MongoDBConfig struct {
	URI      string `json:"uri"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       string `json:"db"`
}

type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
}

// RabbitMQConfig configures the optional job-event publisher.
type RabbitMQConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	VHost    string `json:"vhost"`
	Exchange string `json:"exchange"`
}

// ArchiveConfig configures the optional raw-payload archiver.
type ArchiveConfig struct {
	Enabled   bool   `json:"enabled"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Bucket    string `json:"bucket"`
	Region    string `json:"region"`
}

// LoggingConfig contains logging-related configurations
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings
type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
	MaxAge           int      `json:"max_age,omitempty"`
}

// LoadConfig reads configuration from the specified file path
func LoadConfig(filePath string) (*Config, error) {
	configData, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(configData, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	config.Engine.ApplyDefaults()
	return &config, nil
}

// ApplyDefaults fills unset engine knobs with conservative defaults.
func (c *EngineConfig) ApplyDefaults() {
	if c.WorkerCount <= 0 {
		c.WorkerCount = 4
	}
	if c.RateLimit.Capacity <= 0 {
		c.RateLimit.Capacity = 5
	}
	if c.RateLimit.RefillPerSecond <= 0 {
		c.RateLimit.RefillPerSecond = 2
	}
	if c.RateLimit.AcquireTimeoutMS <= 0 {
		c.RateLimit.AcquireTimeoutMS = 10_000
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = "memory"
	}
	if c.Cache.DefaultTTLSeconds <= 0 {
		c.Cache.DefaultTTLSeconds = 300
	}
	if c.Cache.NegativeTTLSeconds <= 0 {
		c.Cache.NegativeTTLSeconds = 60
	}
	if c.Cache.SweepIntervalMin <= 0 {
		c.Cache.SweepIntervalMin = 5
	}
	if c.Pool.MaxConnections <= 0 {
		c.Pool.MaxConnections = 4
	}
	if c.Pool.AcquireTimeoutMS <= 0 {
		c.Pool.AcquireTimeoutMS = 5_000
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.BaseBackoffMS <= 0 {
		c.Retry.BaseBackoffMS = 200
	}
}
