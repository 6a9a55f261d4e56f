// Groovecast - Scrobble Firehose Ingestion and Real-Time Fan-Out
// Copyright 2026 Groovecast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/groovecast/groovecast

// Package views assembles the aggregate payload pushed to subscribers.
//
// Each view has its own builder. Builders are retried a bounded number
// of times under a per-attempt timeout, and a builder that still fails
// only blanks its own field: the payload ships with whatever completed.
package views

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/groovecast/groovecast/internal/analytics"
	"github.com/groovecast/groovecast/internal/database"
	"github.com/groovecast/groovecast/internal/logging"
	"github.com/groovecast/groovecast/internal/models"
)

// URI collection segments used for chart dispatch.
const (
	artistCollection = "app.rocksky.artist"
	albumCollection  = "app.rocksky.album"
	songCollection   = "app.rocksky.song"
)

// Builders produces the per-event subscriber payload from the local
// store and the analytics RPC.
type Builders struct {
	db        *database.DB
	analytics *analytics.Client

	timeout       time.Duration
	retries       int
	topTake       int
	scrobblesTake int
}

// Options tunes builder behavior.
type Options struct {
	Timeout       time.Duration
	Retries       int
	TopTake       int
	ScrobblesTake int
}

// New creates the builder set. Zero option fields fall back to the
// production defaults.
func New(db *database.DB, client *analytics.Client, opts Options) *Builders {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Retries <= 0 {
		opts.Retries = 3
	}
	if opts.TopTake <= 0 {
		opts.TopTake = 12
	}
	if opts.ScrobblesTake <= 0 {
		opts.ScrobblesTake = 10
	}
	return &Builders{
		db:            db,
		analytics:     client,
		timeout:       opts.Timeout,
		retries:       opts.Retries,
		topTake:       opts.TopTake,
		scrobblesTake: opts.ScrobblesTake,
	}
}

// BuildPayload runs all builders concurrently for one event and returns
// the assembled payload. It never returns an error: failed builders
// leave their field nil.
func (b *Builders) BuildPayload(ctx context.Context, did, uri string) *models.SubscriberPayload {
	payload := &models.SubscriberPayload{URI: uri, DID: did}

	var wg sync.WaitGroup
	build := func(name string, dst *any, fn func(context.Context) (any, error)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := b.run(ctx, name, fn)
			if err != nil {
				logging.Warn().Err(err).Str("builder", name).Str("did", did).Msg("View builder failed")
				return
			}
			*dst = v
		}()
	}

	build("nowPlayings", &payload.NowPlayings, b.buildNowPlayings)
	build("scrobbles", &payload.Scrobbles, b.buildScrobbles)
	build("scrobblesChart", &payload.ScrobblesChart, func(ctx context.Context) (any, error) {
		return b.buildScrobblesChart(ctx, did, uri)
	})
	build("actorScrobbles", &payload.ActorScrobbles, func(ctx context.Context) (any, error) {
		return b.buildActorScrobbles(ctx, did)
	})
	build("actorAlbums", &payload.ActorAlbums, func(ctx context.Context) (any, error) {
		return b.buildActorAlbums(ctx, did)
	})
	build("actorArtists", &payload.ActorArtists, func(ctx context.Context) (any, error) {
		return b.buildActorArtists(ctx, did)
	})

	wg.Wait()
	return payload
}

// run executes one builder with retry and a per-attempt timeout.
func (b *Builders) run(ctx context.Context, name string, fn func(context.Context) (any, error)) (any, error) {
	var lastErr error
	for attempt := 1; attempt <= b.retries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, b.timeout)
		v, err := fn(attemptCtx)
		cancel()
		if err == nil {
			return v, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, fmt.Errorf("builder %s canceled: %w", name, ctx.Err())
		}
		logging.Debug().Err(err).Str("builder", name).Int("attempt", attempt).Msg("View builder attempt failed")
	}
	return nil, fmt.Errorf("builder %s exhausted %d attempts: %w", name, b.retries, lastErr)
}

func (b *Builders) buildNowPlayings(ctx context.Context) (any, error) {
	return b.db.ListNowPlaying(ctx, b.scrobblesTake)
}

func (b *Builders) buildScrobbles(ctx context.Context) (any, error) {
	return b.db.ListRecentScrobbles(ctx, "", b.scrobblesTake)
}

// buildScrobblesChart dispatches on the event's subject, most specific
// first: actor, then artist, album and song record URIs, then the
// global chart.
func (b *Builders) buildScrobblesChart(ctx context.Context, did, uri string) (any, error) {
	req := &analytics.Request{}
	op := analytics.OpGetScrobblesPerDay

	switch {
	case did != "":
		req.UserDID = did
	case strings.Contains(uri, artistCollection):
		op = analytics.OpGetArtistScrobbles
		req.URI = uri
	case strings.Contains(uri, albumCollection):
		op = analytics.OpGetAlbumScrobbles
		req.URI = uri
	case strings.Contains(uri, songCollection):
		op = analytics.OpGetTrackScrobbles
		req.URI = uri
	}

	return b.analytics.Call(ctx, op, req)
}

func (b *Builders) buildActorScrobbles(ctx context.Context, did string) (any, error) {
	if did == "" {
		return nil, nil
	}
	return b.analytics.Call(ctx, analytics.OpGetScrobbles, &analytics.Request{
		UserDID:    did,
		Pagination: &analytics.Pagination{Skip: 0, Take: b.scrobblesTake},
	})
}

func (b *Builders) buildActorAlbums(ctx context.Context, did string) (any, error) {
	if did == "" {
		return nil, nil
	}
	return b.analytics.Call(ctx, analytics.OpGetTopAlbums, &analytics.Request{
		UserDID:    did,
		Pagination: &analytics.Pagination{Skip: 0, Take: b.topTake},
	})
}

func (b *Builders) buildActorArtists(ctx context.Context, did string) (any, error) {
	if did == "" {
		return nil, nil
	}
	return b.analytics.Call(ctx, analytics.OpGetTopArtists, &analytics.Request{
		UserDID:    did,
		Pagination: &analytics.Pagination{Skip: 0, Take: b.topTake},
	})
}
