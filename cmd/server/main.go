// Groovecast - Scrobble Firehose Ingestion and Real-Time Fan-Out
// Copyright 2026 Groovecast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/groovecast/groovecast

// Package main is the entry point for the Groovecast server application.
//
// Groovecast ingests music scrobbles from the Bluesky jetstream firehose,
// deduplicates tracks, albums, and artists by content hash, and fans the
// resulting aggregate views out to WebSocket subscribers in real time.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: Load settings from environment variables and config files (Koanf v2)
//  2. Database: Initialize DuckDB with the scrobble catalog schema
//  3. Analytics: HTTP client for the library.* chart endpoints (circuit breaker + rate limit)
//  4. View builders: Concurrent aggregate payload assembly
//  5. WebSocket Hub: Debounced fan-out to connected subscribers
//  6. Resolver: Commit-to-entity resolution with idempotent URI backfill
//  7. NATS (optional): Publication of newly anchored tracks
//  8. Firehose: Jetstream WebSocket client with cursor resume
//  9. HTTP Server: Health and subscriber endpoints on Chi
//
// Long-running services run under a suture supervisor tree with two
// layers: ingest (firehose, backfill sweep, hub) and api (HTTP server).
// A crash on either side is restarted without taking down the other.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest priority wins):
//   - Environment variables (FIREHOSE_ENDPOINT, DUCKDB_PATH, ...)
//   - Config file (config.yaml, or CONFIG_PATH)
//   - Built-in defaults
//
// The firehose connects to the public jetstream endpoint by default and
// subscribes to the app.rocksky.scrobble collection. Point it elsewhere with:
//   - FIREHOSE_ENDPOINT: wss://jetstream1.us-west.bsky.network
//   - FIREHOSE_WANTED_COLLECTIONS: comma-separated collection NSIDs
//
// Chart views are served by an external analytics service:
//   - ANALYTICS_URL: base URL of the library.* RPC (e.g. http://localhost:7882)
//
// Optional NATS publication of newly anchored tracks:
//   - NATS_ENABLED=true, NATS_URL, NATS_SUBJECT
//
// # Signal Handling
//
// The server handles graceful shutdown on SIGINT and SIGTERM: the
// supervisor tree drains, open subscriber connections are closed, and
// the database is checkpointed before exit.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/groovecast/groovecast/internal/analytics"
	"github.com/groovecast/groovecast/internal/api"
	"github.com/groovecast/groovecast/internal/config"
	"github.com/groovecast/groovecast/internal/database"
	"github.com/groovecast/groovecast/internal/firehose"
	"github.com/groovecast/groovecast/internal/logging"
	"github.com/groovecast/groovecast/internal/models"
	"github.com/groovecast/groovecast/internal/resolver"
	"github.com/groovecast/groovecast/internal/supervisor"
	"github.com/groovecast/groovecast/internal/supervisor/services"
	"github.com/groovecast/groovecast/internal/views"
	ws "github.com/groovecast/groovecast/internal/websocket"
)

func main() {
	// Load configuration first to get logging settings
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		// Use default logger for config errors (config not yet available)
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize zerolog with configuration
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().Msg("Starting Groovecast with supervisor tree")
	logging.Info().
		Str("firehose_endpoint", cfg.Firehose.Endpoint).
		Strs("wanted_collections", cfg.Firehose.WantedCollections).
		Str("db_path", cfg.Database.Path).
		Str("analytics_url", cfg.Analytics.URL).
		Msg("Configuration loaded")

	// Initialize database
	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()
	logging.Info().Msg("Database initialized successfully")

	// Analytics client with circuit breaker for fault tolerance.
	// The breaker prevents cascading failures when the library.* RPC is
	// unavailable; failed chart builders leave their payload fields nil.
	analyticsClient := analytics.NewClient(&cfg.Analytics)

	builders := views.New(db, analyticsClient, views.Options{
		Timeout:       cfg.Fanout.BuilderTimeout,
		Retries:       cfg.Fanout.BuilderRetries,
		TopTake:       cfg.Fanout.TopTake,
		ScrobblesTake: cfg.Fanout.ScrobblesTake,
	})

	// Create WebSocket hub for real-time updates (before the resolver)
	// so the firehose handler can broadcast resolved scrobbles.
	wsHub := ws.NewHub(builders, cfg.Fanout.Debounce)

	// Optional NATS publication of newly anchored tracks
	var publisher resolver.Publisher
	var natsPub *resolver.NATSPublisher
	if cfg.NATS.Enabled {
		natsPub, err = resolver.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer natsPub.Close()
		publisher = natsPub
		logging.Info().
			Str("url", cfg.NATS.URL).
			Str("subject", cfg.NATS.Subject).
			Msg("NATS track publication enabled")
	} else {
		logging.Info().Msg("NATS publication disabled (NATS_ENABLED=false)")
	}

	res := resolver.New(db, nil, publisher)

	// The firehose handler resolves each commit and, when it lands a new
	// scrobble, wakes interested subscribers through the hub.
	fhClient := firehose.NewClient(&cfg.Firehose, func(ctx context.Context, event *models.FirehoseEvent) {
		resolution, err := res.Resolve(ctx, event)
		if err != nil {
			logging.Warn().Err(err).
				Str("did", event.DID).
				Str("uri", event.URI()).
				Msg("Failed to resolve commit")
			return
		}
		if resolution == nil || !resolution.Inserted {
			return
		}
		wsHub.OnEvent(event.Commit.Collection, event.DID, event.URI())
	})

	sweep := resolver.NewSweep(db, cfg.Resolver.SweepInterval, cfg.Resolver.SweepBatch)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Bridge zerolog to slog for sutureslog compatibility
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())

	// Ingest layer services
	tree.AddIngestService(services.NewRunnerService("firehose", fhClient))
	tree.AddIngestService(services.NewRunnerService("backfill-sweep", sweep))
	tree.AddIngestService(services.NewRunnerService("websocket-hub", wsHub))
	logging.Info().Msg("Firehose, sweep, and hub added to supervisor tree")

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(&cfg.Server, wsHub, db, fhClient, cfg.Firehose.WantedCollections).Setup(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	// API layer services
	tree.AddAPIService(services.NewHTTPService(server, 10*time.Second))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	// Wait for supervisor to finish (either from signal or error)
	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	// Wait for the error channel to close (supervisor finished)
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	// Report any services that failed to stop within timeout
	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	logging.Info().Msg("Application stopped gracefully")
}
