// Groovecast - Scrobble Firehose Ingestion and Real-Time Fan-Out
// Copyright 2026 Groovecast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/groovecast/groovecast

// Package firehose consumes the upstream jetstream event feed over
// WebSocket and hands matching commit events to a handler.
//
// The client reconnects with multiplicative backoff under a bounded
// attempt budget and resumes from the last observed cursor so restarts
// replay rather than drop events. Downstream writes are idempotent, so
// cursor overlap is safe.
package firehose

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/groovecast/groovecast/internal/config"
	"github.com/groovecast/groovecast/internal/logging"
	"github.com/groovecast/groovecast/internal/models"
)

// State is the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Handler receives every matching commit event, in arrival order.
type Handler func(ctx context.Context, event *models.FirehoseEvent)

// Client is a resilient jetstream subscriber.
type Client struct {
	cfg        *config.FirehoseConfig
	handler    Handler
	wanted     map[string]struct{}
	wantedDids map[string]struct{}

	state  atomic.Int32
	cursor atomic.Int64 // last observed time_us

	conn   *websocket.Conn
	connMu sync.Mutex

	stopOnce sync.Once
	stopChan chan struct{}
}

// NewClient creates a firehose client. The handler is invoked from the
// read loop goroutine; slow handlers backpressure the stream.
func NewClient(cfg *config.FirehoseConfig, handler Handler) *Client {
	wanted := make(map[string]struct{}, len(cfg.WantedCollections))
	for _, c := range cfg.WantedCollections {
		wanted[c] = struct{}{}
	}
	wantedDids := make(map[string]struct{}, len(cfg.WantedDids))
	for _, d := range cfg.WantedDids {
		wantedDids[d] = struct{}{}
	}
	return &Client{
		cfg:        cfg,
		handler:    handler,
		wanted:     wanted,
		wantedDids: wantedDids,
		stopChan:   make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Cursor returns the last observed time_us, or 0 before the first event.
func (c *Client) Cursor() int64 {
	return c.cursor.Load()
}

// Run connects and consumes events until the context is canceled, Stop
// is called, or the reconnect budget is exhausted. Only budget
// exhaustion returns a non-nil error.
func (c *Client) Run(ctx context.Context) error {
	attempts := 0

	for {
		select {
		case <-ctx.Done():
			c.setState(StateDisconnected)
			return nil
		case <-c.stopChan:
			c.setState(StateDisconnected)
			return nil
		default:
		}

		if attempts == 0 {
			c.setState(StateConnecting)
		} else {
			c.setState(StateReconnecting)
		}

		err := c.connect(ctx)
		if ctx.Err() != nil || c.stopped() {
			c.setState(StateDisconnected)
			return nil
		}

		if err == nil {
			// Connection was established and has since dropped; reset
			// the budget so a healthy stream can flap and recover
			// indefinitely, but still back off the base delay before
			// redialing.
			attempts = 0
			c.setState(StateReconnecting)
			delay := c.nextDelay(1)
			logging.Warn().
				Dur("delay", delay).
				Msg("Firehose connection dropped, backing off before redial")
			if !c.wait(ctx, delay) {
				c.setState(StateDisconnected)
				return nil
			}
			continue
		}

		attempts++
		if attempts >= c.cfg.MaxReconnectAttempts {
			c.setState(StateFailed)
			return fmt.Errorf("firehose exhausted %d reconnect attempts: %w", attempts, err)
		}

		delay := c.nextDelay(attempts)
		logging.Warn().
			Err(err).
			Int("attempt", attempts).
			Int("max_attempts", c.cfg.MaxReconnectAttempts).
			Dur("delay", delay).
			Msg("Firehose connection failed, backing off")

		if !c.wait(ctx, delay) {
			c.setState(StateDisconnected)
			return nil
		}
	}
}

// wait sleeps for delay, returning false when the context or the
// client is shut down first.
func (c *Client) wait(ctx context.Context, delay time.Duration) bool {
	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	case <-c.stopChan:
		return false
	}
}

// connect dials, then reads until the connection drops. A nil return
// means the connection was established and later closed; an error means
// the dial itself failed.
func (c *Client) connect(ctx context.Context) error {
	wsURL, err := c.buildURL()
	if err != nil {
		return fmt.Errorf("build firehose url: %w", err)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout:  10 * time.Second,
		EnableCompression: true,
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if resp != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket dial failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	logging.Info().
		Str("endpoint", c.cfg.Endpoint).
		Int64("cursor", c.Cursor()).
		Msg("Firehose connected")
	c.setState(StateConnected)

	c.readLoop(ctx, conn)
	c.closeConnection()
	return nil
}

// buildURL assembles the subscribe URL with wanted collections, wanted
// DIDs, and the resume cursor as query parameters.
func (c *Client) buildURL() (string, error) {
	u, err := url.Parse(c.cfg.SubscribeURL())
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}

	q := u.Query()
	for _, col := range c.cfg.WantedCollections {
		q.Add("wantedCollections", col)
	}
	for _, did := range c.cfg.WantedDids {
		q.Add("wantedDids", did)
	}
	if cursor := c.Cursor(); cursor > 0 {
		q.Set("cursor", strconv.FormatInt(cursor, 10))
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// readLoop consumes messages until the connection errors or shutdown.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopChan:
			return
		default:
		}

		if err := conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
			logging.Warn().Err(err).Msg("Firehose failed to set read deadline")
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || c.stopped() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Info().Msg("Firehose closed normally")
				return
			}
			logging.Warn().Err(err).Msg("Firehose read error")
			return
		}

		c.handleMessage(ctx, message)
	}
}

// handleMessage parses one frame, advances the cursor, and forwards
// matching commits to the handler.
//
// Collections and dids are re-checked locally: server-side filtering
// is an optimization, not a contract.
func (c *Client) handleMessage(ctx context.Context, data []byte) {
	var event models.FirehoseEvent
	if err := json.Unmarshal(data, &event); err != nil {
		logging.Warn().Err(err).Msg("Failed to parse firehose event")
		return
	}

	if event.TimeUS > 0 {
		c.cursor.Store(event.TimeUS)
	}

	if !event.IsCommit() {
		return
	}
	if _, ok := c.wanted[event.Commit.Collection]; !ok {
		return
	}
	if len(c.wantedDids) > 0 {
		if _, ok := c.wantedDids[event.DID]; !ok {
			return
		}
	}

	c.handler(ctx, &event)
}

// nextDelay computes the backoff before reconnect attempt n (1-based):
// base * multiplier^(n-1), capped at the configured maximum.
func (c *Client) nextDelay(attempt int) time.Duration {
	delay := float64(c.cfg.ReconnectDelay)
	for i := 1; i < attempt; i++ {
		delay *= c.cfg.BackoffMultiplier
		if delay >= float64(c.cfg.MaxReconnectDelay) {
			return c.cfg.MaxReconnectDelay
		}
	}
	if delay > float64(c.cfg.MaxReconnectDelay) {
		return c.cfg.MaxReconnectDelay
	}
	return time.Duration(delay)
}

// Stop terminates the client. Safe to call more than once.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
	})
	c.closeConnection()
}

func (c *Client) stopped() bool {
	select {
	case <-c.stopChan:
		return true
	default:
		return false
	}
}

func (c *Client) closeConnection() {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) setState(s State) {
	old := State(c.state.Swap(int32(s)))
	if old != s {
		logging.Debug().Str("from", old.String()).Str("to", s.String()).Msg("Firehose state transition")
	}
}
