// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tejzpr/meetcute/internal/config"
	"github.com/tejzpr/meetcute/internal/database"
	"github.com/tejzpr/meetcute/internal/embeddings"
	"github.com/tejzpr/meetcute/internal/locking"
	"github.com/tejzpr/meetcute/internal/logging"
	"github.com/tejzpr/meetcute/internal/matching"
	"github.com/tejzpr/meetcute/internal/service"
)

// globalOptions mirrors the persistent flags
type globalOptions struct {
	configPath       string
	dbType           string
	dbPath           string
	dbDSN            string
	logLevel         string
	enableEmbeddings bool
	embeddingURL     string
	embeddingModel   string
	embeddingKey     string
}

func readGlobalOptions(cmd *cobra.Command) globalOptions {
	f := cmd.Flags()
	var o globalOptions
	o.configPath, _ = f.GetString("config")
	o.dbType, _ = f.GetString("db-type")
	o.dbPath, _ = f.GetString("db-path")
	o.dbDSN, _ = f.GetString("db-dsn")
	o.logLevel, _ = f.GetString("log-level")
	o.enableEmbeddings, _ = f.GetBool("enable-embeddings")
	o.embeddingURL, _ = f.GetString("embedding-url")
	o.embeddingModel, _ = f.GetString("embedding-model")
	o.embeddingKey, _ = f.GetString("embedding-key")
	return o
}

// app holds everything a command needs after startup
type app struct {
	cfg     *config.Config
	db      *gorm.DB
	logger  *slog.Logger
	service *service.Service
	locker  *locking.Locker
}

func (a *app) Close() error {
	return database.Close(a.db)
}

// loadConfig resolves configuration: file (or defaults), then env, then flags
func loadConfig(o globalOptions) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if o.configPath != "" {
		cfg, err = config.LoadFromPath(o.configPath)
		if err != nil {
			slog.Warn("failed to load config, using defaults", "path", o.configPath, "error", err)
			cfg = config.DefaultConfig()
		}
	} else {
		cfg, err = config.Load()
		if err != nil {
			slog.Warn("failed to load default config, using built-in defaults", "error", err)
			cfg = config.DefaultConfig()
		}
	}

	applyEnvOverrides(cfg)
	applyCLIOverrides(cfg, o.dbType, o.dbPath, o.dbDSN, 0)
	applyEmbeddingCLIOverrides(cfg, o.enableEmbeddings, o.embeddingURL, o.embeddingModel)
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}

	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to configuration
func applyEnvOverrides(cfg *config.Config) {
	if dbType := getEnv("DB_TYPE", "MEETCUTE_DB_TYPE"); dbType != "" {
		cfg.Database.Type = dbType
		slog.Debug("database type from env", "type", dbType)
	}

	if dbPath := getEnv("DB_PATH", "MEETCUTE_DB_PATH"); dbPath != "" {
		cfg.Database.SQLitePath = dbPath
		slog.Debug("database path from env")
	}

	if dbDSN := getEnv("DB_DSN", "MEETCUTE_DB_DSN"); dbDSN != "" {
		cfg.Database.PostgresDSN = dbDSN
		slog.Debug("database dsn from env (hidden)")
	}

	if portStr := getEnv("PORT", "MEETCUTE_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			cfg.Server.Port = port
			slog.Debug("port from env", "port", port)
		}
	}

	if v := getEnv("MEETCUTE_REOPEN_ON_DECLINE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Matching.ReopenOnDecline = b
		}
	}
}

// applyCLIOverrides applies command-line flag overrides to configuration
func applyCLIOverrides(cfg *config.Config, dbType, dbPath, dbDSN string, port int) {
	if dbType != "" {
		cfg.Database.Type = dbType
	}
	if dbPath != "" {
		cfg.Database.SQLitePath = dbPath
	}
	if dbDSN != "" {
		cfg.Database.PostgresDSN = dbDSN
	}
	if port > 0 {
		cfg.Server.Port = port
	}
}

// getEnv tries multiple environment variable names and returns the first non-empty value
func getEnv(names ...string) string {
	for _, name := range names {
		if val := os.Getenv(name); val != "" {
			return val
		}
	}
	return ""
}

// applyEmbeddingCLIOverrides applies embedding-related CLI flag overrides
func applyEmbeddingCLIOverrides(cfg *config.Config, enable bool, baseURL, model string) {
	if enable {
		cfg.Embeddings.Enabled = true
	}
	if baseURL != "" {
		cfg.Embeddings.BaseURL = baseURL
	}
	if model != "" {
		cfg.Embeddings.Model = model
	}
}

// bootstrap loads configuration and wires the database and service for cmd
func bootstrap(cmd *cobra.Command) (*app, error) {
	o := readGlobalOptions(cmd)

	cfg, err := loadConfig(o)
	if err != nil {
		return nil, err
	}

	// stdout belongs to the MCP transport
	log := logging.New(cfg.Logging, os.Stderr)
	slog.SetDefault(log)

	return openApp(cfg, o.embeddingKey, log)
}

// openApp connects, migrates and builds the service
func openApp(cfg *config.Config, embeddingKey string, log *slog.Logger) (*app, error) {
	db, err := database.Connect(&database.Config{
		Type:          cfg.Database.Type,
		SQLitePath:    cfg.Database.SQLitePath,
		PostgresDSN:   cfg.Database.PostgresDSN,
		BusyTimeoutMS: cfg.Database.BusyTimeoutMS,
		MaxOpenConns:  cfg.Database.MaxOpenConns,
		LogLevel:      logger.Silent,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Info("connected to database", "type", cfg.Database.Type)

	if err := database.Migrate(db); err != nil {
		_ = database.Close(db)
		return nil, err
	}
	if err := locking.MigrateLocks(db); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("failed to migrate leases: %w", err)
	}

	scorer, err := newScorer(cfg.Matching)
	if err != nil {
		_ = database.Close(db)
		return nil, err
	}

	embedder, err := newEmbedder(cfg.Embeddings, embeddingKey)
	if err != nil {
		_ = database.Close(db)
		return nil, err
	}

	svc := service.New(db, scorer, embedder, service.Options{
		ReopenOnDecline: cfg.Matching.ReopenOnDecline,
		EmbedTimeout:    time.Duration(cfg.Embeddings.TimeoutSeconds) * time.Second,
		Logger:          log,
	})

	return &app{
		cfg:     cfg,
		db:      db,
		logger:  log,
		service: svc,
		locker:  locking.NewLocker(db),
	}, nil
}

func newScorer(m config.MatchingConfig) (*matching.Scorer, error) {
	sc := matching.ScorerConfig{
		VectorThreshold:   m.VectorThreshold,
		KeywordConfidence: m.KeywordConfidence,
		KeywordFallback:   m.KeywordFallback,
	}
	if m.RulesFile != "" {
		rules, err := matching.LoadRules(m.RulesFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load keyword rules: %w", err)
		}
		sc.Rules = rules
	}
	return matching.NewScorer(sc)
}

var errMissingAPIKey = errors.New("embeddings enabled but no API key configured")

// newEmbedder returns nil when embeddings are disabled
func newEmbedder(e config.EmbeddingConfig, key string) (embeddings.Client, error) {
	if !e.Enabled {
		return nil, nil
	}
	if key == "" {
		key = os.Getenv(e.APIKeyEnv)
	}
	if key == "" && e.Provider != config.EmbeddingProviderLocal {
		return nil, fmt.Errorf("%w: set %s or --embedding-key", errMissingAPIKey, e.APIKeyEnv)
	}
	return embeddings.NewOpenAIClient(e.BaseURL, key, e.Model, e.Dimensions,
		embeddings.WithTimeout(time.Duration(e.TimeoutSeconds)*time.Second),
		embeddings.WithMaxRetries(e.MaxRetries),
		embeddings.WithProvider(e.Provider),
	), nil
}
