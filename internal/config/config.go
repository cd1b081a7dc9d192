// internal/config/config.go
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the Altruist engine process.
// The values are read by viper from a config file and environment variables.
type Config struct {
	// Transport
	ListenAddr string `mapstructure:"LISTEN_ADDR"`
	WSPath     string `mapstructure:"WS_PATH"`

	// HTTP surface (readiness/health/metrics only)
	HTTPAddr       string `mapstructure:"HTTP_ADDR"`
	AllowedOrigins string `mapstructure:"CORS_ORIGINS"`

	// Tick engine
	EngineRateMS  int     `mapstructure:"ENGINE_RATE_MS"`
	PhysicsRateHz float64 `mapstructure:"PHYSICS_RATE_HZ"`

	// Connection & room store
	DefaultRoomCapacity int `mapstructure:"ROOM_DEFAULT_CAPACITY"`

	// Spatial world
	WorldWidth         float64 `mapstructure:"WORLD_WIDTH"`
	WorldHeight        float64 `mapstructure:"WORLD_HEIGHT"`
	WorldPartitionSize float64 `mapstructure:"WORLD_PARTITION_SIZE"`
	WorldCellSize      float64 `mapstructure:"WORLD_CELL_SIZE"`

	// Shared tier / inter-process bridge (optional — empty disables both)
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	ProcessID     string `mapstructure:"PROCESS_ID"`

	// Connection-accept rate limiting
	RateRPS   float64 `mapstructure:"RATE_RPS"`
	RateBurst int     `mapstructure:"RATE_BURST"`

	// Logging
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	Environment string `mapstructure:"ENVIRONMENT"`
}

// Load reads configuration from file or environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("LISTEN_ADDR", ":9000")
	v.SetDefault("WS_PATH", "/connect")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("ENGINE_RATE_MS", 50)
	v.SetDefault("PHYSICS_RATE_HZ", 15.0)
	v.SetDefault("ROOM_DEFAULT_CAPACITY", 100)
	v.SetDefault("WORLD_WIDTH", 4096.0)
	v.SetDefault("WORLD_HEIGHT", 4096.0)
	v.SetDefault("WORLD_PARTITION_SIZE", 512.0)
	v.SetDefault("WORLD_CELL_SIZE", 32.0)
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("PROCESS_ID", "")
	v.SetDefault("RATE_RPS", 20)
	v.SetDefault("RATE_BURST", 40)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("ENVIRONMENT", "development")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/altruist/")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// BridgeEnabled reports whether the config wires a shared tier / inter-process bridge.
func (c *Config) BridgeEnabled() bool {
	return c.RedisAddr != ""
}
