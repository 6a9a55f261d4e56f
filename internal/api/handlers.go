// Groovecast - Scrobble Firehose Ingestion and Real-Time Fan-Out
// Copyright 2026 Groovecast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/groovecast/groovecast

package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gorilla "github.com/gorilla/websocket"

	"github.com/groovecast/groovecast/internal/config"
	"github.com/groovecast/groovecast/internal/database"
	"github.com/groovecast/groovecast/internal/firehose"
	"github.com/groovecast/groovecast/internal/logging"
	"github.com/groovecast/groovecast/internal/websocket"
)

// Handlers implements the HTTP endpoints.
type Handlers struct {
	cfg         *config.ServerConfig
	hub         *websocket.Hub
	db          *database.DB
	firehose    *firehose.Client
	collections []string
	upgrader    gorilla.Upgrader
}

// NewHandlers creates the handler set. collections is the default
// interest set for subscribers that don't request their own.
func NewHandlers(cfg *config.ServerConfig, hub *websocket.Hub, db *database.DB, fh *firehose.Client, collections []string) *Handlers {
	h := &Handlers{
		cfg:         cfg,
		hub:         hub,
		db:          db,
		firehose:    fh,
		collections: collections,
	}
	h.upgrader = gorilla.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin validates the Origin header against the configured CORS
// origins. Requests without an Origin header (non-browser clients) are
// allowed.
func (h *Handlers) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.CORSOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// healthResponse is the /health document.
type healthResponse struct {
	Status      string `json:"status"`
	Firehose    string `json:"firehose"`
	Cursor      int64  `json:"cursor"`
	Subscribers int    `json:"subscribers"`
	Database    string `json:"database"`
}

// Health reports liveness of the pipeline's moving parts.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:      "ok",
		Firehose:    h.firehose.State().String(),
		Cursor:      h.firehose.Cursor(),
		Subscribers: h.hub.ClientCount(),
		Database:    "ok",
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.db.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Database = "unreachable"
	}

	w.Header().Set("Content-Type", "application/json")
	if resp.Status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logging.Warn().Err(err).Msg("Failed to write health response")
	}
}

// Subscribe upgrades the connection and registers it with the fan-out
// hub. The interest set comes from the collections query parameter
// (comma-separated) and is fixed for the connection's lifetime; absent,
// it defaults to the server's ingested collections.
func (h *Handlers) Subscribe(w http.ResponseWriter, r *http.Request) {
	collections := h.collections
	if raw := r.URL.Query().Get("collections"); raw != "" {
		var requested []string
		for _, c := range strings.Split(raw, ",") {
			if c = strings.TrimSpace(c); c != "" {
				requested = append(requested, c)
			}
		}
		if len(requested) > 0 {
			collections = requested
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response
		logging.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}

	h.hub.Register(conn, collections)
}
