// Groovecast - Scrobble Firehose Ingestion and Real-Time Fan-Out
// Copyright 2026 Groovecast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/groovecast/groovecast

// Package analytics is the HTTP RPC client for the aggregation service.
//
// Operations are named library.* methods invoked by POST. The upstream
// speaks snake_case; responses are normalized to camelCase at this
// boundary so the rest of the system never sees both conventions.
package analytics

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/groovecast/groovecast/internal/config"
	"github.com/groovecast/groovecast/internal/keycase"
	"github.com/groovecast/groovecast/internal/logging"
)

// Operation names understood by the aggregation service.
const (
	OpGetScrobbles       = "library.getScrobbles"
	OpGetTopAlbums       = "library.getTopAlbums"
	OpGetTopArtists      = "library.getTopArtists"
	OpGetScrobblesPerDay = "library.getScrobblesPerDay"
	OpGetArtistScrobbles = "library.getArtistScrobbles"
	OpGetAlbumScrobbles  = "library.getAlbumScrobbles"
	OpGetTrackScrobbles  = "library.getTrackScrobbles"
)

// Pagination selects a window of rows from an operation's result set.
type Pagination struct {
	Skip int `json:"skip"`
	Take int `json:"take"`
}

// Request is the wire body for every library.* call.
type Request struct {
	UserDID    string      `json:"user_did,omitempty"`
	URI        string      `json:"uri,omitempty"`
	Pagination *Pagination `json:"pagination,omitempty"`
}

// response is the wire envelope: rows live under "data".
type response struct {
	Data []map[string]any `json:"data"`
}

// Client calls the aggregation service with pacing and a circuit
// breaker in front of it. Safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	cb      *gobreaker.CircuitBreaker[[]map[string]any]
	limiter *rate.Limiter
}

// NewClient builds a client from configuration.
//
// The breaker trips on consecutive failures and recovers through
// half-open probes; timing uses real time, so unit tests should drive
// the underlying endpoint rather than the breaker.
func NewClient(cfg *config.AnalyticsConfig) *Client {
	cb := gobreaker.NewCircuitBreaker[[]map[string]any](gobreaker.Settings{
		Name:        "analytics-rpc",
		MaxRequests: cfg.BreakerHalfOpens,
		Timeout:     cfg.BreakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state transition")
		},
	})

	return &Client{
		baseURL: cfg.URL,
		http:    &http.Client{Timeout: cfg.Timeout},
		cb:      cb,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), int(cfg.RequestsPerSec)+1),
	}
}

// Call invokes a library.* operation and returns its rows with keys
// normalized to camelCase.
func (c *Client) Call(ctx context.Context, op string, req *Request) ([]map[string]any, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	rows, err := c.cb.Execute(func() ([]map[string]any, error) {
		return c.post(ctx, op, req)
	})
	if err != nil {
		return nil, fmt.Errorf("analytics %s: %w", op, err)
	}
	return rows, nil
}

func (c *Client) post(ctx context.Context, op string, req *Request) ([]map[string]any, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+op, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var env response
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	logging.Debug().
		Str("op", op).
		Int("rows", len(env.Data)).
		Dur("elapsed", time.Since(start)).
		Msg("Analytics call completed")

	return keycase.CamelizeRows(env.Data), nil
}
