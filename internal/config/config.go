// Groovecast - Scrobble Firehose Ingestion and Real-Time Fan-Out
// Copyright 2026 Groovecast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/groovecast/groovecast

// Package config loads and validates Groovecast configuration.
//
// Configuration is layered via Koanf v2 (highest priority wins):
//  1. Environment variables (FIREHOSE_ENDPOINT, DUCKDB_PATH, ...)
//  2. Optional YAML config file (config.yaml)
//  3. Built-in defaults
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config is the root configuration for the Groovecast server.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Firehose  FirehoseConfig  `koanf:"firehose"`
	Database  DatabaseConfig  `koanf:"database"`
	Analytics AnalyticsConfig `koanf:"analytics"`
	Fanout    FanoutConfig    `koanf:"fanout"`
	Resolver  ResolverConfig  `koanf:"resolver"`
	NATS      NATSConfig      `koanf:"nats"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig configures the HTTP/WebSocket listener.
type ServerConfig struct {
	Host        string        `koanf:"host"`
	Port        int           `koanf:"port"`
	Timeout     time.Duration `koanf:"timeout"`
	CORSOrigins []string      `koanf:"cors_origins"`
}

// FirehoseConfig configures the upstream firehose subscription and its
// reconnection behavior.
type FirehoseConfig struct {
	Endpoint             string        `koanf:"endpoint"`
	WantedCollections    []string      `koanf:"wanted_collections"`
	WantedDids           []string      `koanf:"wanted_dids"`
	MaxReconnectAttempts int           `koanf:"max_reconnect_attempts"`
	ReconnectDelay       time.Duration `koanf:"reconnect_delay"`
	MaxReconnectDelay    time.Duration `koanf:"max_reconnect_delay"`
	BackoffMultiplier    float64       `koanf:"backoff_multiplier"`
}

// DatabaseConfig configures the DuckDB-backed relational store.
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"`
}

// AnalyticsConfig configures the analytics aggregation RPC client.
type AnalyticsConfig struct {
	URL              string        `koanf:"url"`
	Timeout          time.Duration `koanf:"timeout"`
	RequestsPerSec   float64       `koanf:"requests_per_sec"`
	BreakerFailures  uint32        `koanf:"breaker_failures"`
	BreakerOpenFor   time.Duration `koanf:"breaker_open_for"`
	BreakerHalfOpens uint32        `koanf:"breaker_half_opens"`
}

// FanoutConfig configures payload building and subscriber push behavior.
type FanoutConfig struct {
	Debounce       time.Duration `koanf:"debounce"`
	BuilderTimeout time.Duration `koanf:"builder_timeout"`
	BuilderRetries int           `koanf:"builder_retries"`
	TopTake        int           `koanf:"top_take"`
	ScrobblesTake  int           `koanf:"scrobbles_take"`
}

// ResolverConfig configures the backfill sweep.
type ResolverConfig struct {
	SweepInterval time.Duration `koanf:"sweep_interval"`
	SweepBatch    int           `koanf:"sweep_batch"`
}

// NATSConfig configures publication of resolved tracks.
type NATSConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
	Subject string `koanf:"subject"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the configuration for values that would misbehave at
// runtime. It is called by Load after all layers are merged.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1-65535, got %d", c.Server.Port)
	}

	if err := c.Firehose.validate(); err != nil {
		return err
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}

	if c.Fanout.BuilderTimeout < time.Second || c.Fanout.BuilderTimeout > 120*time.Second {
		return fmt.Errorf("fanout.builder_timeout must be between 1s and 120s, got %s", c.Fanout.BuilderTimeout)
	}
	if c.Fanout.BuilderRetries < 0 {
		return fmt.Errorf("fanout.builder_retries must not be negative, got %d", c.Fanout.BuilderRetries)
	}
	if c.Fanout.Debounce < 0 {
		return fmt.Errorf("fanout.debounce must not be negative, got %s", c.Fanout.Debounce)
	}

	if c.Resolver.SweepBatch <= 0 {
		return fmt.Errorf("resolver.sweep_batch must be positive, got %d", c.Resolver.SweepBatch)
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		return fmt.Errorf("nats.url must be set when nats.enabled is true")
	}

	return nil
}

func (f *FirehoseConfig) validate() error {
	u, err := url.Parse(f.Endpoint)
	if err != nil {
		return fmt.Errorf("firehose.endpoint is not a valid URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("firehose.endpoint must use ws or wss scheme, got %q", u.Scheme)
	}

	if len(f.WantedCollections) == 0 {
		return fmt.Errorf("firehose.wanted_collections must not be empty")
	}
	if f.MaxReconnectAttempts < 1 {
		return fmt.Errorf("firehose.max_reconnect_attempts must be positive, got %d", f.MaxReconnectAttempts)
	}
	if f.ReconnectDelay <= 0 || f.MaxReconnectDelay <= 0 {
		return fmt.Errorf("firehose reconnect delays must be positive")
	}
	if f.MaxReconnectDelay < f.ReconnectDelay {
		return fmt.Errorf("firehose.max_reconnect_delay (%s) must not be below firehose.reconnect_delay (%s)", f.MaxReconnectDelay, f.ReconnectDelay)
	}
	if f.BackoffMultiplier < 1 {
		return fmt.Errorf("firehose.backoff_multiplier must be >= 1, got %g", f.BackoffMultiplier)
	}
	return nil
}

// SubscribeURL returns the endpoint normalized to end in /subscribe,
// mirroring how upstream firehose deployments expose their stream.
func (f *FirehoseConfig) SubscribeURL() string {
	if strings.HasSuffix(f.Endpoint, "/subscribe") {
		return f.Endpoint
	}
	return strings.TrimRight(f.Endpoint, "/") + "/subscribe"
}
