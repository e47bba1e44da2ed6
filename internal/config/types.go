// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package config

// Config represents the complete application configuration
type Config struct {
	Server     ServerConfig    `mapstructure:"server"`
	Database   DatabaseConfig  `mapstructure:"database"`
	Security   SecurityConfig  `mapstructure:"security"`
	Embeddings EmbeddingConfig `mapstructure:"embeddings"`
	Matching   MatchingConfig  `mapstructure:"matching"`
	Logging    LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host       string   `mapstructure:"host"`
	Port       int      `mapstructure:"port"`
	// DevLogin lets POST /auth/local sign in as any username. Off by default;
	// when off only the local OS user can sign in.
	DevLogin   bool     `mapstructure:"dev_login"`
	AdminUsers []string `mapstructure:"admin_users"` // usernames allowed on /api/admin/*
	TLS        struct {
		Enabled  bool   `mapstructure:"enabled"`
		CertFile string `mapstructure:"cert_file"`
		KeyFile  string `mapstructure:"key_file"`
	} `mapstructure:"tls"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Type          string `mapstructure:"type"` // "sqlite" or "postgres"
	SQLitePath    string `mapstructure:"sqlite_path"`
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	BusyTimeoutMS int    `mapstructure:"busy_timeout_ms"`
	MaxOpenConns  int    `mapstructure:"max_open_conns"`
}

// SecurityConfig holds security-related settings
type SecurityConfig struct {
	TokenTTL int `mapstructure:"token_ttl_hours"`
}

// EmbeddingConfig holds configuration for the embedding provider
type EmbeddingConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Provider       string `mapstructure:"provider"` // "openai", "azure", "local"
	BaseURL        string `mapstructure:"base_url"`
	Model          string `mapstructure:"model"`
	APIKeyEnv      string `mapstructure:"api_key_env"` // environment variable holding the API key
	Dimensions     int    `mapstructure:"dimensions"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxRetries     int    `mapstructure:"max_retries"`
}

// MatchingConfig tunes the similarity scorer and match lifecycle
type MatchingConfig struct {
	VectorThreshold      float64 `mapstructure:"vector_threshold"`
	KeywordConfidence    float64 `mapstructure:"keyword_confidence"`
	KeywordFallback      bool    `mapstructure:"keyword_fallback"`
	ReopenOnDecline      bool    `mapstructure:"reopen_on_decline"`
	RulesFile            string  `mapstructure:"rules_file"` // optional YAML keyword rules
	SweepIntervalMinutes int     `mapstructure:"sweep_interval_minutes"`
}

// LoggingConfig selects the slog handler
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text or json
}

// EmbeddingProviders defines valid embedding providers
const (
	EmbeddingProviderOpenAI = "openai"
	EmbeddingProviderAzure  = "azure"
	EmbeddingProviderLocal  = "local"
)

// ValidEmbeddingProviders returns all valid embedding provider values
func ValidEmbeddingProviders() []string {
	return []string{
		EmbeddingProviderOpenAI,
		EmbeddingProviderAzure,
		EmbeddingProviderLocal,
	}
}

// ValidLogLevels returns all valid logging levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// isValidType is a generic helper to check if a type is in a list of valid types
func isValidType(aType string, validTypes []string) bool {
	for _, valid := range validTypes {
		if aType == valid {
			return true
		}
	}
	return false
}

// IsValidEmbeddingProvider checks if a provider is valid
func IsValidEmbeddingProvider(provider string) bool {
	return isValidType(provider, ValidEmbeddingProviders())
}
