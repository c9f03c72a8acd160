// Package config provides configuration management for the key-value store.
// It loads settings from the embedded config.yml, expanding any $VAR
// references from the process environment (after an optional .env file is
// loaded into it), with thread-safe singleton access. The shipped config.yml
// contains no $VAR references, so its values apply as written.
package config

import (
	_ "embed"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// defaultConfigYAML is the built-in config, embedded so LoadConfig works
// regardless of the process's working directory (the CLI's working
// directory is the KvStore directory, not the repo root).
//
//go:embed config.yml
var defaultConfigYAML string

// Config holds all application configuration values.
type Config struct {
	DATA_DIR         string `yaml:"DATA_DIR"`         // KvStore directory, relative to the working directory
	LOG_PREFIX       string `yaml:"LOG_PREFIX"`       // Generation file prefix, e.g. "kv_store.log"
	BATCH_SIZE       uint32 `yaml:"BATCH_SIZE"`       // Bytes written before an auto-fsync
	SYNC_INTERVAL    uint32 `yaml:"SYNC_INTERVAL"`    // Seconds between auto-fsyncs
	COMPACTION_RATIO int    `yaml:"COMPACTION_RATIO"` // entryCount/liveKeys ratio that triggers compaction
}

// SyncInterval returns SYNC_INTERVAL as a time.Duration.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.SYNC_INTERVAL) * time.Second
}

var (
	appConfig *Config
	once      sync.Once
	initErr   error
)

// LoadConfig reads configuration values from config.yml and optionally from .env file.
// It uses a sync.Once to ensure configuration is loaded only once, even with
// concurrent calls. Environment variables in the YAML file are expanded using
// os.ExpandEnv. Returns the loaded configuration and any error encountered.
func LoadConfig() (*Config, error) {
	once.Do(func() {
		// Load .env file if it exists (optional - no error if missing)
		if err := godotenv.Load(); err != nil {
			slog.Debug("No .env file found or error loading it", "error", err)
		} else {
			slog.Debug(".env file loaded successfully")
		}

		var cfg Config
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(defaultConfigYAML)), &cfg); err != nil {
			initErr = err
			return
		}
		appConfig = &cfg
	})
	if initErr != nil {
		return nil, initErr
	}
	return appConfig, initErr
}

// GetConfig returns the singleton configuration instance.
// Panics if configuration has not been loaded yet. This function should
// only be called after LoadConfig has been successfully called.
func GetConfig() *Config {
	if appConfig == nil {
		panic("config not loaded - call LoadConfig() first")
	}
	return appConfig
}
