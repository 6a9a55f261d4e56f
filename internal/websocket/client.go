// Groovecast - Scrobble Firehose Ingestion and Real-Time Fan-Out
// Copyright 2026 Groovecast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/groovecast/groovecast

package websocket

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/groovecast/groovecast/internal/logging"
	"github.com/groovecast/groovecast/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
)

// Keepalive literals spoken by subscribers in addition to protocol pings.
const (
	textPing = "ping"
	textPong = "pong"
)

// clientIDCounter generates unique, monotonically increasing IDs for clients.
var clientIDCounter atomic.Uint64

// outbound is one frame queued for a subscriber: either a literal text
// reply or a payload document.
type outbound struct {
	text    []byte
	payload *models.SubscriberPayload
}

// Client is a middleman between one subscriber connection and the hub.
//
// Interests are fixed at registration; a subscriber wanting a different
// set reconnects.
type Client struct {
	id        uint64
	hub       *Hub
	conn      *websocket.Conn
	interests map[string]struct{}

	// send carries frames to writePump. All sends and the close go
	// through sendMu so a push racing with shutdown can never hit a
	// closed channel.
	sendMu     sync.Mutex
	sendClosed bool
	send       chan outbound

	// Debounce state: rapid event bursts coalesce into one build,
	// latest event wins.
	debounceMu sync.Mutex
	debouncing bool
	pendingDID string
	pendingURI string
}

func newClient(hub *Hub, conn *websocket.Conn, collections []string) *Client {
	interests := make(map[string]struct{}, len(collections))
	for _, c := range collections {
		interests[c] = struct{}{}
	}
	return &Client{
		id:        clientIDCounter.Add(1),
		hub:       hub,
		conn:      conn,
		send:      make(chan outbound, 16),
		interests: interests,
	}
}

// ID returns the client's unique identifier.
func (c *Client) ID() uint64 {
	return c.id
}

// interestedIn reports whether the client subscribed to a collection.
func (c *Client) interestedIn(collection string) bool {
	_, ok := c.interests[collection]
	return ok
}

// schedule arms or refreshes the debounce for one event. When the
// window closes, fire runs once with the most recent event's subject.
func (c *Client) schedule(window time.Duration, did, uri string, fire func(did, uri string)) {
	c.debounceMu.Lock()
	c.pendingDID = did
	c.pendingURI = uri
	if c.debouncing {
		c.debounceMu.Unlock()
		return
	}
	c.debouncing = true
	c.debounceMu.Unlock()

	time.AfterFunc(window, func() {
		c.debounceMu.Lock()
		did, uri := c.pendingDID, c.pendingURI
		c.debouncing = false
		c.debounceMu.Unlock()
		fire(did, uri)
	})
}

// trySend queues one frame without blocking. It reports false when the
// client is already closed or its buffer is full.
func (c *Client) trySend(msg outbound) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// closeSend closes the send channel exactly once, waking writePump to
// deliver the close frame. Safe to call more than once.
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return
	}
	c.sendClosed = true
	close(c.send)
}

// enqueuePayload queues a payload push, dropping it if the client's
// buffer is full. A slow subscriber loses payloads, not the connection.
func (c *Client) enqueuePayload(p *models.SubscriberPayload) {
	if !c.trySend(outbound{payload: p}) {
		logging.Warn().Uint64("client_id", c.id).Msg("Subscriber send buffer full or closed, dropping payload")
	}
}

// readPump pumps messages from the subscriber connection to the hub
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close() // Explicitly ignore error - best-effort cleanup
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn().Err(err).Uint64("client_id", c.id).Msg("unexpected websocket close error")
			}
			break
		}

		// Subscribers may keepalive with a literal "ping" text frame
		if string(message) == textPing {
			c.trySend(outbound{text: []byte(textPong)})
		}
	}
}

// writePump pumps messages from the hub to the subscriber connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close() // Explicitly ignore error - best-effort cleanup
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline")
				return
			}

			if !ok {
				// The hub closed the channel
				if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
					logging.Debug().Err(err).Msg("failed to write close message")
				}
				return
			}

			if msg.text != nil {
				if err := c.conn.WriteMessage(websocket.TextMessage, msg.text); err != nil {
					logging.Warn().Err(err).Uint64("client_id", c.id).Msg("failed to write text frame")
					return
				}
				continue
			}

			data, err := json.Marshal(msg.payload)
			if err != nil {
				logging.Error().Err(err).Msg("failed to encode payload")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logging.Warn().Err(err).Uint64("client_id", c.id).Msg("failed to write payload")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline for ping")
				return
			}

			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// start begins reading and writing for the client
func (c *Client) start() {
	go c.writePump()
	go c.readPump()
}
