// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

const (
	// DefaultConfigDir is the default configuration directory
	DefaultConfigDir = ".meetcute/configs"
	// DefaultConfigFile is the default configuration filename
	DefaultConfigFile = "config.json"
	// DefaultDBPath is the default SQLite location relative to the home directory
	DefaultDBPath = ".meetcute/db/meetcute.db"
)

// Load reads configuration from ~/.meetcute/configs/config.json
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user home directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(filepath.Join(homeDir, DefaultConfigDir))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// no file, defaults only
	}

	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific path
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.dev_login", false)
	v.SetDefault("server.admin_users", []string{})

	v.SetDefault("database.type", d.Database.Type)
	v.SetDefault("database.sqlite_path", d.Database.SQLitePath)
	v.SetDefault("database.busy_timeout_ms", d.Database.BusyTimeoutMS)
	v.SetDefault("database.max_open_conns", d.Database.MaxOpenConns)

	v.SetDefault("security.token_ttl_hours", d.Security.TokenTTL)

	v.SetDefault("embeddings.enabled", d.Embeddings.Enabled)
	v.SetDefault("embeddings.provider", d.Embeddings.Provider)
	v.SetDefault("embeddings.base_url", d.Embeddings.BaseURL)
	v.SetDefault("embeddings.model", d.Embeddings.Model)
	v.SetDefault("embeddings.api_key_env", d.Embeddings.APIKeyEnv)
	v.SetDefault("embeddings.dimensions", d.Embeddings.Dimensions)
	v.SetDefault("embeddings.timeout_seconds", d.Embeddings.TimeoutSeconds)
	v.SetDefault("embeddings.max_retries", d.Embeddings.MaxRetries)

	v.SetDefault("matching.vector_threshold", d.Matching.VectorThreshold)
	v.SetDefault("matching.keyword_confidence", d.Matching.KeywordConfidence)
	v.SetDefault("matching.keyword_fallback", d.Matching.KeywordFallback)
	v.SetDefault("matching.reopen_on_decline", d.Matching.ReopenOnDecline)
	v.SetDefault("matching.sweep_interval_minutes", d.Matching.SweepIntervalMinutes)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// Validate checks if the configuration is valid
func Validate(cfg *Config) error {
	if cfg.Database.Type != "sqlite" && cfg.Database.Type != "postgres" {
		return fmt.Errorf("database.type must be 'sqlite' or 'postgres', got '%s'", cfg.Database.Type)
	}
	if cfg.Database.Type == "sqlite" && cfg.Database.SQLitePath == "" {
		return fmt.Errorf("database.sqlite_path is required when type is 'sqlite'")
	}
	if cfg.Database.Type == "postgres" && cfg.Database.PostgresDSN == "" {
		return fmt.Errorf("database.postgres_dsn is required when type is 'postgres'")
	}
	if cfg.Database.BusyTimeoutMS < 0 {
		return fmt.Errorf("database.busy_timeout_ms must not be negative, got %d", cfg.Database.BusyTimeoutMS)
	}

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}

	if cfg.Security.TokenTTL < 1 {
		return fmt.Errorf("security.token_ttl_hours must be at least 1, got %d", cfg.Security.TokenTTL)
	}

	if cfg.Embeddings.Enabled {
		if !IsValidEmbeddingProvider(cfg.Embeddings.Provider) {
			return fmt.Errorf("embeddings.provider must be one of %v, got '%s'", ValidEmbeddingProviders(), cfg.Embeddings.Provider)
		}
		if cfg.Embeddings.Model == "" {
			return fmt.Errorf("embeddings.model is required when embeddings are enabled")
		}
		if cfg.Embeddings.Dimensions < 1 {
			return fmt.Errorf("embeddings.dimensions must be at least 1, got %d", cfg.Embeddings.Dimensions)
		}
		if cfg.Embeddings.TimeoutSeconds < 1 {
			return fmt.Errorf("embeddings.timeout_seconds must be at least 1, got %d", cfg.Embeddings.TimeoutSeconds)
		}
	}
	if cfg.Embeddings.MaxRetries < 0 {
		return fmt.Errorf("embeddings.max_retries must not be negative, got %d", cfg.Embeddings.MaxRetries)
	}

	m := cfg.Matching
	if m.VectorThreshold <= 0 || m.VectorThreshold > 1 {
		return fmt.Errorf("matching.vector_threshold must be in (0, 1], got %v", m.VectorThreshold)
	}
	if m.KeywordConfidence < m.VectorThreshold || m.KeywordConfidence > 1 {
		return fmt.Errorf("matching.keyword_confidence must be between vector_threshold and 1, got %v", m.KeywordConfidence)
	}
	if m.SweepIntervalMinutes < 0 {
		return fmt.Errorf("matching.sweep_interval_minutes must not be negative, got %d", m.SweepIntervalMinutes)
	}

	if !isValidType(cfg.Logging.Level, ValidLogLevels()) {
		return fmt.Errorf("logging.level must be one of %v, got '%s'", ValidLogLevels(), cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json', got '%s'", cfg.Logging.Format)
	}

	return nil
}

// EnsureConfigDir creates the configuration directory if it doesn't exist
func EnsureConfigDir() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get user home directory: %w", err)
	}

	configPath := filepath.Join(homeDir, DefaultConfigDir)
	if err := os.MkdirAll(configPath, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return nil
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()

	cfg := &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Type:          "sqlite",
			SQLitePath:    filepath.Join(homeDir, DefaultDBPath),
			BusyTimeoutMS: 5000,
		},
		Security: SecurityConfig{
			TokenTTL: 24,
		},
		Embeddings: EmbeddingConfig{
			Enabled:        false,
			Provider:       EmbeddingProviderOpenAI,
			BaseURL:        "https://api.openai.com/v1",
			Model:          "text-embedding-3-small",
			APIKeyEnv:      "OPENAI_API_KEY",
			Dimensions:     1536,
			TimeoutSeconds: 10,
			MaxRetries:     2,
		},
		Matching: MatchingConfig{
			VectorThreshold:      0.85,
			KeywordConfidence:    0.95,
			KeywordFallback:      true,
			ReopenOnDecline:      false,
			SweepIntervalMinutes: 15,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
	return cfg
}
