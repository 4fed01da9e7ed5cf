// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// Store backends.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// Broadcast backends.
const (
	BroadcastRedis = "redis"
	BroadcastLocal = "local"
)

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	Env              string `mapstructure:"APP_ENV"`
	ContextID        string `mapstructure:"CONTEXT_ID"`
	StoreBackend     string `mapstructure:"STORE_BACKEND"`
	StoreDSN         string `mapstructure:"STORE_DSN"`
	StoreQuotaBytes  int64  `mapstructure:"STORE_QUOTA_BYTES"`
	StoreKeyPrefix   string `mapstructure:"STORE_KEY_PREFIX"`
	RedisURL         string `mapstructure:"REDIS_URL"`
	BroadcastBackend string `mapstructure:"BROADCAST_BACKEND"`
	BroadcastChannel string `mapstructure:"BROADCAST_CHANNEL"`
	RelayEnabled     bool   `mapstructure:"RELAY_ENABLED"`
	RelayURL         string `mapstructure:"RELAY_URL"`
	RelayMaxBackoff  int    `mapstructure:"RELAY_MAX_BACKOFF_SECONDS"`
	RelayListenPort  string `mapstructure:"RELAY_LISTEN_PORT"`
	RelayMaxPeers    int    `mapstructure:"RELAY_MAX_PEERS"`
	TracingEnabled   bool   `mapstructure:"TRACING_ENABLED"`
	TracingExporter  string `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint     string `mapstructure:"OTLP_ENDPOINT"`
}

// LoadConfig loads application configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	// The base file is optional.
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" && env != "test" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("required profile-specific config 'config.%s.yml' not found: %w", env, err)
		}
		log.Printf("Loaded profile-specific configuration: config.%s.yml", env)
	}

	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("CONTEXT_ID", "")
	viper.SetDefault("STORE_BACKEND", BackendSQLite)
	viper.SetDefault("STORE_DSN", "infinity.db")
	viper.SetDefault("STORE_QUOTA_BYTES", 5*1024*1024)
	viper.SetDefault("STORE_KEY_PREFIX", "infinity:kv:")
	viper.SetDefault("REDIS_URL", "localhost:6379")
	viper.SetDefault("BROADCAST_BACKEND", BroadcastRedis)
	viper.SetDefault("BROADCAST_CHANNEL", "infinityForumChannel")
	viper.SetDefault("RELAY_ENABLED", false)
	viper.SetDefault("RELAY_URL", "ws://localhost:8390/relay")
	viper.SetDefault("RELAY_MAX_BACKOFF_SECONDS", 30)
	viper.SetDefault("RELAY_LISTEN_PORT", "8390")
	viper.SetDefault("RELAY_MAX_PEERS", 10000)
	viper.SetDefault("TRACING_ENABLED", false)
	viper.SetDefault("TRACING_EXPORTER", "stdout")
	viper.SetDefault("OTLP_ENDPOINT", "localhost:4318")

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	config.normalize()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func (c *Config) normalize() {
	c.StoreBackend = strings.ToLower(strings.TrimSpace(c.StoreBackend))
	c.BroadcastBackend = strings.ToLower(strings.TrimSpace(c.BroadcastBackend))
	c.ContextID = strings.TrimSpace(c.ContextID)
	if c.ContextID == "" {
		c.ContextID = uuid.NewString()
	}
}

// Validate ensures that required configuration values are present and consistent.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendSQLite, BackendPostgres, BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if (c.StoreBackend == BackendSQLite || c.StoreBackend == BackendPostgres) && c.StoreDSN == "" {
		return errors.New("STORE_DSN is required for sql backends")
	}
	if c.StoreQuotaBytes <= 0 {
		return errors.New("STORE_QUOTA_BYTES must be positive")
	}

	switch c.BroadcastBackend {
	case BroadcastRedis, BroadcastLocal:
	default:
		return fmt.Errorf("unknown BROADCAST_BACKEND %q", c.BroadcastBackend)
	}
	if c.BroadcastChannel == "" {
		return errors.New("BROADCAST_CHANNEL is required")
	}
	if (c.StoreBackend == BackendRedis || c.BroadcastBackend == BroadcastRedis) && c.RedisURL == "" {
		return errors.New("REDIS_URL is required for redis backends")
	}

	if c.RelayEnabled {
		if !strings.HasPrefix(c.RelayURL, "ws://") && !strings.HasPrefix(c.RelayURL, "wss://") {
			return fmt.Errorf("RELAY_URL must be a ws:// or wss:// url, got %q", c.RelayURL)
		}
		if c.RelayMaxBackoff <= 0 {
			return errors.New("RELAY_MAX_BACKOFF_SECONDS must be positive")
		}
	}

	isProduction := c.Env == "production" || c.Env == "prod"
	if isProduction && c.RelayEnabled && strings.HasPrefix(c.RelayURL, "ws://") {
		log.Println("WARNING: RELAY_URL is not using TLS in production.")
	}

	return nil
}
