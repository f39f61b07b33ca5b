package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all CLI configuration.
type Config struct {
	Project ProjectConfig `mapstructure:"project"`
	Catalog CatalogConfig `mapstructure:"catalog"`
	State   StateConfig   `mapstructure:"state"`
	Secrets SecretsConfig `mapstructure:"secrets"`
	Log     LogConfig     `mapstructure:"log"`
}

// ProjectConfig locates the project's declarative configuration.
type ProjectConfig struct {
	File string `mapstructure:"file"`
}

// CatalogConfig locates the addon catalog directory.
// An empty Dir falls back to the catalog compiled into the binary.
type CatalogConfig struct {
	Dir string `mapstructure:"dir"`
}

// StateConfig locates the persisted allocation state file.
type StateConfig struct {
	File string `mapstructure:"file"`
}

// SecretsConfig holds secrets store configuration.
type SecretsConfig struct {
	DSN string `mapstructure:"dsn"`

	// MasterSecret derives the key encrypting credential values at rest.
	// Set via BERTH_SECRETS_MASTER_SECRET in anything but development.
	MasterSecret string `mapstructure:"master_secret"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("project.file", "berth.yml")
	v.SetDefault("catalog.dir", "") // builtin catalog
	v.SetDefault("state.file", ".berth/allocations.yml")
	v.SetDefault("secrets.dsn", ".berth/secrets.db")
	v.SetDefault("secrets.master_secret", "dev-master-secret") // development only
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Only return error if file was explicitly specified and is invalid
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("BERTH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
