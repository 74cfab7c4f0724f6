package domain

import "time"

// Config is the complete server configuration, unmarshaled by the config
// manager from file and environment.
type Config struct {
	Environment string          `mapstructure:"environment"`
	Server      ServerConfig    `mapstructure:"server"`
	Registry    RegistryConfig  `mapstructure:"registry"`
	Oracle      OracleConfig    `mapstructure:"oracle"`
	Postal      PostalConfig    `mapstructure:"postal"`
	Cache       CacheConfig     `mapstructure:"cache"`
	Shortlist   ShortlistConfig `mapstructure:"shortlist"`
	Session     SessionConfig   `mapstructure:"session"`
	Logging     LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// RegistryConfig holds trial registry client settings.
type RegistryConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	PageSize  int           `mapstructure:"page_size"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit int           `mapstructure:"rate_limit"` // requests per second
}

// OracleConfig holds the chat-completion oracle settings. APIKey is the one
// secret credential the service needs.
type OracleConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	Model     string        `mapstructure:"model"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit int           `mapstructure:"rate_limit"`
}

// PostalConfig holds postal centroid resolver settings.
type PostalConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Country   string        `mapstructure:"country"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit int           `mapstructure:"rate_limit"`
	CacheSize int           `mapstructure:"cache_size"`
}

// CacheConfig holds Redis cache settings for external API responses. When
// Enabled is false all reads miss and writes are dropped.
type CacheConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	RedisURL    string        `mapstructure:"redis_url"`
	DefaultTTL  time.Duration `mapstructure:"default_ttl"`
	MaxRetries  int           `mapstructure:"max_retries"`
	PoolSize    int           `mapstructure:"pool_size"`
	PoolTimeout time.Duration `mapstructure:"pool_timeout"`
}

// ShortlistConfig selects the durable shortlist backend. Driver is one of
// "memory", "sqlite", "postgres".
type ShortlistConfig struct {
	Driver         string `mapstructure:"driver"`
	SQLitePath     string `mapstructure:"sqlite_path"`
	PostgresURL    string `mapstructure:"postgres_url"`
	MigrationsPath string `mapstructure:"migrations_path"`
}

// SessionConfig holds session registry settings.
type SessionConfig struct {
	TTL         time.Duration `mapstructure:"ttl"`
	MaxSessions int           `mapstructure:"max_sessions"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
