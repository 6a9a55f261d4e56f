// Groovecast - Scrobble Firehose Ingestion and Real-Time Fan-Out
// Copyright 2026 Groovecast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/groovecast/groovecast

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/groovecast/config.yaml",
	"/etc/groovecast/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config struct with all sensible default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8464,
			Timeout:     30 * time.Second,
			CORSOrigins: []string{"*"},
		},
		Firehose: FirehoseConfig{
			Endpoint:             "wss://jetstream1.us-west.bsky.network/subscribe",
			WantedCollections:    []string{"app.rocksky.scrobble"},
			WantedDids:           []string{},
			MaxReconnectAttempts: 10,
			ReconnectDelay:       1 * time.Second,
			MaxReconnectDelay:    30 * time.Second,
			BackoffMultiplier:    1.5,
		},
		Database: DatabaseConfig{
			Path:      "/data/groovecast.duckdb",
			MaxMemory: "2GB",
			Threads:   0, // 0 = use runtime.NumCPU()
		},
		Analytics: AnalyticsConfig{
			URL:              "http://127.0.0.1:7882",
			Timeout:          10 * time.Second,
			RequestsPerSec:   50,
			BreakerFailures:  5,
			BreakerOpenFor:   30 * time.Second,
			BreakerHalfOpens: 1,
		},
		Fanout: FanoutConfig{
			Debounce:       2 * time.Second,
			BuilderTimeout: 10 * time.Second,
			BuilderRetries: 3,
			TopTake:        12,
			ScrobblesTake:  10,
		},
		Resolver: ResolverConfig{
			SweepInterval: 5 * time.Minute,
			SweepBatch:    500,
		},
		NATS: NATSConfig{
			Enabled: false, // Publication is optional - standalone mode by default
			URL:     "nats://127.0.0.1:4222",
			Subject: "groovecast.track",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: Built-in sensible defaults
//  2. Config File: Optional YAML config file (if exists)
//  3. Environment Variables: Override any setting
//
// Precedence is ENV > File > Defaults, with type-safe unmarshaling via
// koanf struct tags.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: Load defaults from struct
	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: Load config file (optional)
	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: Load environment variables (highest priority)
	// Transform environment variable names to koanf paths:
	// FIREHOSE_ENDPOINT -> firehose.endpoint
	// DUCKDB_PATH -> database.path
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Post-process slice fields from comma-separated strings
	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	// Unmarshal into Config struct
	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
func findConfigFile() string {
	// Check environment variable first
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	// Search default paths
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths defines which config paths should be parsed as comma-separated slices
var sliceConfigPaths = []string{
	"server.cors_origins",
	"firehose.wanted_collections",
	"firehose.wanted_dids",
}

// processSliceFields converts comma-separated string values to slices for known slice fields.
// This is necessary because env vars come in as strings, but the config expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		// If it's already a slice (from YAML file), skip
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		// If it's a string, split by comma
		if strVal, ok := val.(string); ok {
			if strVal == "" {
				continue
			}
			parts := strings.Split(strVal, ",")
			trimmed := make([]string, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p != "" {
					trimmed = append(trimmed, p)
				}
			}
			if len(trimmed) > 0 {
				if err := k.Set(path, trimmed); err != nil {
					return fmt.Errorf("failed to set %s: %w", path, err)
				}
			}
		}
	}
	return nil
}

// envTransformFunc transforms environment variable names to koanf config paths.
//
// Examples:
//   - FIREHOSE_ENDPOINT -> firehose.endpoint
//   - FIREHOSE_MAX_RECONNECT_ATTEMPTS -> firehose.max_reconnect_attempts
//   - DUCKDB_PATH -> database.path
//   - HTTP_PORT -> server.port
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Server mappings
		"http_port":    "server.port",
		"http_host":    "server.host",
		"http_timeout": "server.timeout",
		"cors_origins": "server.cors_origins",

		// Firehose mappings
		"firehose_endpoint":               "firehose.endpoint",
		"firehose_wanted_collections":     "firehose.wanted_collections",
		"firehose_wanted_dids":            "firehose.wanted_dids",
		"firehose_max_reconnect_attempts": "firehose.max_reconnect_attempts",
		"firehose_reconnect_delay":        "firehose.reconnect_delay",
		"firehose_max_reconnect_delay":    "firehose.max_reconnect_delay",
		"firehose_backoff_multiplier":     "firehose.backoff_multiplier",

		// Database mappings
		"duckdb_path":       "database.path",
		"duckdb_max_memory": "database.max_memory",
		"duckdb_threads":    "database.threads",

		// Analytics mappings
		"analytics_url":                "analytics.url",
		"analytics_timeout":            "analytics.timeout",
		"analytics_requests_per_sec":   "analytics.requests_per_sec",
		"analytics_breaker_failures":   "analytics.breaker_failures",
		"analytics_breaker_open_for":   "analytics.breaker_open_for",
		"analytics_breaker_half_opens": "analytics.breaker_half_opens",

		// Fanout mappings
		"fanout_debounce":        "fanout.debounce",
		"fanout_builder_timeout": "fanout.builder_timeout",
		"fanout_builder_retries": "fanout.builder_retries",
		"fanout_top_take":        "fanout.top_take",
		"fanout_scrobbles_take":  "fanout.scrobbles_take",

		// Resolver mappings
		"resolver_sweep_interval": "resolver.sweep_interval",
		"resolver_sweep_batch":    "resolver.sweep_batch",

		// NATS mappings
		"nats_enabled": "nats.enabled",
		"nats_url":     "nats.url",
		"nats_subject": "nats.subject",

		// Logging mappings
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	// For unmapped keys, return empty string to skip them
	// This prevents random environment variables from polluting config
	return ""
}
