// Groovecast - Scrobble Firehose Ingestion and Real-Time Fan-Out
// Copyright 2026 Groovecast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/groovecast/groovecast

// Package api exposes the subscriber-facing HTTP surface: the /ws
// upgrade endpoint and health probes.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/groovecast/groovecast/internal/config"
	"github.com/groovecast/groovecast/internal/database"
	"github.com/groovecast/groovecast/internal/firehose"
	"github.com/groovecast/groovecast/internal/websocket"
)

// Router wires handlers into a chi mux.
type Router struct {
	cfg      *config.ServerConfig
	handlers *Handlers
}

// NewRouter creates the router for the given dependencies.
func NewRouter(cfg *config.ServerConfig, hub *websocket.Hub, db *database.DB, fh *firehose.Client, collections []string) *Router {
	return &Router{
		cfg:      cfg,
		handlers: NewHandlers(cfg, hub, db, fh, collections),
	}
}

// Setup configures all HTTP routes.
func (rt *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	// CORS must be global to handle OPTIONS preflight
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: rt.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", rt.handlers.Health)
	r.Get("/ws", rt.handlers.Subscribe)

	return r
}
