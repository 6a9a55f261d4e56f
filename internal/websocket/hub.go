// Groovecast - Scrobble Firehose Ingestion and Real-Time Fan-Out
// Copyright 2026 Groovecast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/groovecast/groovecast

// Package websocket fans resolved events out to subscriber connections.
//
// The hub is a mutex-guarded registry rather than a channel loop:
// registration, unregistration and event dispatch are plain method
// calls, which keeps dispatch synchronous with the resolver and makes
// per-client isolation straightforward.
package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/groovecast/groovecast/internal/logging"
	"github.com/groovecast/groovecast/internal/models"
)

// PayloadBuilder produces the aggregate document pushed to a
// subscriber after a qualifying event.
type PayloadBuilder interface {
	BuildPayload(ctx context.Context, did, uri string) *models.SubscriberPayload
}

// Hub maintains the set of active subscriber connections and schedules
// debounced payload pushes for events matching their interest sets.
type Hub struct {
	builder  PayloadBuilder
	debounce time.Duration

	mu      sync.RWMutex
	clients map[*Client]struct{}
	closed  bool

	ctxMu sync.RWMutex
	ctx   context.Context
}

// NewHub creates a hub. Events fire payload builds after the debounce
// window; a zero window pushes immediately.
func NewHub(builder PayloadBuilder, debounce time.Duration) *Hub {
	return &Hub{
		builder:  builder,
		debounce: debounce,
		clients:  make(map[*Client]struct{}),
		ctx:      context.Background(),
	}
}

// Register wraps an upgraded connection in a client with a fixed
// interest set and starts its pumps. A hub that has already shut down
// refuses the connection and returns nil.
func (h *Hub) Register(conn *websocket.Conn, collections []string) *Client {
	client := newClient(h, conn, collections)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		logging.Warn().Msg("Subscriber rejected, hub is shut down")
		return nil
	}
	h.clients[client] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()

	client.start()
	logging.Info().
		Uint64("client_id", client.ID()).
		Strs("collections", collections).
		Int("total_clients", total).
		Msg("Subscriber connected")
	return client
}

// Unregister removes a client and closes its send channel. Safe to
// call for a client that is already gone.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		client.closeSend()
	}
	total := len(h.clients)
	h.mu.Unlock()

	if ok {
		logging.Info().
			Uint64("client_id", client.ID()).
			Int("total_clients", total).
			Msg("Subscriber disconnected")
	}
}

// ClientCount returns the number of registered subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// OnEvent schedules a debounced payload build and push for every
// subscriber interested in the event's collection. Build and push
// failures are isolated per client.
func (h *Hub) OnEvent(collection, did, uri string) {
	h.mu.RLock()
	interested := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		if client.interestedIn(collection) {
			interested = append(interested, client)
		}
	}
	h.mu.RUnlock()

	if len(interested) == 0 {
		return
	}

	for _, client := range interested {
		client := client
		client.schedule(h.debounce, did, uri, func(did, uri string) {
			h.pushTo(client, did, uri)
		})
	}
}

// pushTo builds the payload for one client and queues it. The builder
// never fails outright; individual views inside the payload may be nil.
// The client may unregister while the build runs; the enqueue tolerates
// that and becomes a no-op.
func (h *Hub) pushTo(client *Client, did, uri string) {
	h.mu.RLock()
	_, stillRegistered := h.clients[client]
	h.mu.RUnlock()
	if !stillRegistered {
		return
	}

	payload := h.builder.BuildPayload(h.runCtx(), did, uri)
	client.enqueuePayload(payload)
}

// Run blocks until the context is canceled, then closes all
// subscriber connections. Implements suture.Service.
func (h *Hub) Run(ctx context.Context) error {
	h.ctxMu.Lock()
	h.ctx = ctx
	h.ctxMu.Unlock()

	<-ctx.Done()

	h.mu.Lock()
	h.closed = true
	for client := range h.clients {
		delete(h.clients, client)
		client.closeSend()
	}
	h.mu.Unlock()

	logging.Info().Msg("Fan-out hub stopped")
	return nil
}

func (h *Hub) runCtx() context.Context {
	h.ctxMu.RLock()
	defer h.ctxMu.RUnlock()
	return h.ctx
}
