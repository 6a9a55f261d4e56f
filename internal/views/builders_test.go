// Groovecast - Scrobble Firehose Ingestion and Real-Time Fan-Out
// Copyright 2026 Groovecast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/groovecast/groovecast

package views

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/groovecast/groovecast/internal/analytics"
	"github.com/groovecast/groovecast/internal/config"
	"github.com/groovecast/groovecast/internal/database"
	"github.com/groovecast/groovecast/internal/models"
)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(&config.DatabaseConfig{Path: ":memory:", MaxMemory: "512MB"})
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func analyticsClient(t *testing.T, handler http.HandlerFunc) *analytics.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return analytics.NewClient(&config.AnalyticsConfig{
		URL:              srv.URL,
		Timeout:          2 * time.Second,
		RequestsPerSec:   1000,
		BreakerFailures:  100,
		BreakerOpenFor:   time.Minute,
		BreakerHalfOpens: 1,
	})
}

func TestBuildPayloadAssemblesAllFields(t *testing.T) {
	db := setupTestDB(t)
	client := analyticsClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"some_key":"value"}]}`))
	})

	b := New(db, client, Options{Timeout: time.Second, Retries: 1})

	payload := b.BuildPayload(context.Background(), "did:plc:alice", "at://did:plc:alice/app.rocksky.scrobble/1")

	if payload.DID != "did:plc:alice" {
		t.Errorf("DID = %q, want did:plc:alice", payload.DID)
	}
	if payload.URI != "at://did:plc:alice/app.rocksky.scrobble/1" {
		t.Errorf("URI = %q", payload.URI)
	}
	// Local views come back as typed slices (possibly empty)
	if _, ok := payload.NowPlayings.([]models.NowPlayingView); !ok {
		t.Errorf("NowPlayings type = %T, want []models.NowPlayingView", payload.NowPlayings)
	}
	if _, ok := payload.Scrobbles.([]models.ScrobbleView); !ok {
		t.Errorf("Scrobbles type = %T, want []models.ScrobbleView", payload.Scrobbles)
	}
	// Analytics views are carried through as camelized rows
	rows, ok := payload.ActorAlbums.([]map[string]any)
	if !ok || len(rows) != 1 || rows[0]["someKey"] != "value" {
		t.Errorf("ActorAlbums = %#v, want one camelized row", payload.ActorAlbums)
	}
	if payload.ScrobblesChart == nil {
		t.Errorf("ScrobblesChart should be populated")
	}
}

func TestBuildPayloadFailedBuilderLeavesFieldNil(t *testing.T) {
	db := setupTestDB(t)
	client := analyticsClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	})

	b := New(db, client, Options{Timeout: time.Second, Retries: 2})

	payload := b.BuildPayload(context.Background(), "did:plc:alice", "at://x/app.rocksky.scrobble/1")

	// Analytics-backed views failed
	if payload.ActorAlbums != nil {
		t.Errorf("ActorAlbums = %v, want nil after builder failure", payload.ActorAlbums)
	}
	if payload.ScrobblesChart != nil {
		t.Errorf("ScrobblesChart = %v, want nil after builder failure", payload.ScrobblesChart)
	}
	// Store-backed views still completed
	if payload.NowPlayings == nil {
		t.Errorf("NowPlayings should survive an analytics outage")
	}
	if payload.Scrobbles == nil {
		t.Errorf("Scrobbles should survive an analytics outage")
	}
}

func TestBuilderRetriesThenSucceeds(t *testing.T) {
	db := setupTestDB(t)
	var calls atomic.Int64
	client := analyticsClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "flaky", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"data":[]}`))
	})

	b := New(db, client, Options{Timeout: time.Second, Retries: 3})

	got, err := b.run(context.Background(), "actorScrobbles", func(ctx context.Context) (any, error) {
		return b.buildActorScrobbles(ctx, "did:plc:alice")
	})
	if err != nil {
		t.Fatalf("run() error after retryable failure: %v", err)
	}
	if got == nil {
		t.Fatalf("run() returned nil value on success")
	}
	if calls.Load() != 2 {
		t.Errorf("analytics endpoint hit %d times, want 2", calls.Load())
	}
}

func TestChartDispatchPrecedence(t *testing.T) {
	db := setupTestDB(t)
	var lastOp atomic.Value
	client := analyticsClient(t, func(w http.ResponseWriter, r *http.Request) {
		lastOp.Store(strings.TrimPrefix(r.URL.Path, "/"))
		_, _ = w.Write([]byte(`{"data":[]}`))
	})

	b := New(db, client, Options{Timeout: time.Second, Retries: 1})
	ctx := context.Background()

	tests := []struct {
		name   string
		did    string
		uri    string
		wantOp string
	}{
		{"actor wins over uri", "did:plc:alice", "at://x/app.rocksky.artist/1", analytics.OpGetScrobblesPerDay},
		{"artist uri", "", "at://x/app.rocksky.artist/1", analytics.OpGetArtistScrobbles},
		{"album uri", "", "at://x/app.rocksky.album/1", analytics.OpGetAlbumScrobbles},
		{"song uri", "", "at://x/app.rocksky.song/1", analytics.OpGetTrackScrobbles},
		{"global fallback", "", "", analytics.OpGetScrobblesPerDay},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := b.buildScrobblesChart(ctx, tt.did, tt.uri); err != nil {
				t.Fatalf("buildScrobblesChart() error: %v", err)
			}
			if got := lastOp.Load(); got != tt.wantOp {
				t.Errorf("dispatched op = %v, want %s", got, tt.wantOp)
			}
		})
	}
}

func TestActorViewsSkippedWithoutDID(t *testing.T) {
	db := setupTestDB(t)
	var calls atomic.Int64
	client := analyticsClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"data":[]}`))
	})

	b := New(db, client, Options{Timeout: time.Second, Retries: 1})

	v, err := b.buildActorAlbums(context.Background(), "")
	if err != nil {
		t.Fatalf("buildActorAlbums() error: %v", err)
	}
	if v != nil {
		t.Errorf("buildActorAlbums(\"\") = %v, want nil", v)
	}
	if calls.Load() != 0 {
		t.Errorf("actor view without DID should not call analytics")
	}
}
