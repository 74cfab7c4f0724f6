package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/c-answer-server/internal/domain"
)

// Manager loads and holds the server configuration using Viper
type Manager struct {
	config *domain.Config
}

// NewManager creates a new configuration manager
func NewManager() (*Manager, error) {
	m := &Manager{}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig() error {
	// Set configuration file name and paths
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/c-answer-server/")

	// Set environment variable prefix and enable automatic env binding.
	// The oracle API key arrives as CANSWER_ORACLE_API_KEY.
	viper.SetEnvPrefix("CANSWER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Set default values
	m.setDefaults()

	// Read configuration file (optional - will use defaults and env vars if not found)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
	}

	// Unmarshal configuration into struct
	config := &domain.Config{}
	if err := viper.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.config = config
	return nil
}

// setDefaults sets default configuration values
func (m *Manager) setDefaults() {
	viper.SetDefault("environment", "development")

	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")

	// Trial registry defaults
	viper.SetDefault("registry.base_url", "https://clinicaltrials.gov/api/v2")
	viper.SetDefault("registry.page_size", 50)
	viper.SetDefault("registry.timeout", "30s")
	viper.SetDefault("registry.rate_limit", 5)

	// Eligibility oracle defaults
	viper.SetDefault("oracle.base_url", "https://api.groq.com/openai/v1")
	viper.SetDefault("oracle.api_key", "")
	viper.SetDefault("oracle.model", "llama-3.3-70b-versatile")
	viper.SetDefault("oracle.timeout", "60s")
	viper.SetDefault("oracle.rate_limit", 2)

	// Postal centroid resolver defaults
	viper.SetDefault("postal.base_url", "https://api.zippopotam.us")
	viper.SetDefault("postal.country", "us")
	viper.SetDefault("postal.timeout", "10s")
	viper.SetDefault("postal.rate_limit", 10)
	viper.SetDefault("postal.cache_size", 1000)

	// Cache defaults
	viper.SetDefault("cache.enabled", false)
	viper.SetDefault("cache.redis_url", "redis://localhost:6379")
	viper.SetDefault("cache.default_ttl", "1h")
	viper.SetDefault("cache.max_retries", 3)
	viper.SetDefault("cache.pool_size", 10)
	viper.SetDefault("cache.pool_timeout", "4s")

	// Shortlist store defaults
	viper.SetDefault("shortlist.driver", "memory")
	viper.SetDefault("shortlist.sqlite_path", "./data/shortlist.db")
	viper.SetDefault("shortlist.postgres_url", "")
	viper.SetDefault("shortlist.migrations_path", "./migrations")

	// Session defaults
	viper.SetDefault("session.ttl", "2h")
	viper.SetDefault("session.max_sessions", 10000)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	config := m.config

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Registry.BaseURL == "" {
		return fmt.Errorf("registry base URL is required")
	}
	if config.Registry.PageSize <= 0 {
		return fmt.Errorf("registry page size must be positive")
	}

	if config.Oracle.BaseURL == "" {
		return fmt.Errorf("oracle base URL is required")
	}
	if config.Oracle.Model == "" {
		return fmt.Errorf("oracle model is required")
	}

	switch config.Shortlist.Driver {
	case "memory", "sqlite":
	case "postgres":
		if config.Shortlist.PostgresURL == "" {
			return fmt.Errorf("shortlist postgres URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown shortlist driver: %s", config.Shortlist.Driver)
	}

	if config.Cache.Enabled && config.Cache.RedisURL == "" {
		return fmt.Errorf("cache redis URL is required when the cache is enabled")
	}

	return nil
}
