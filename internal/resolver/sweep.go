// Groovecast - Scrobble Firehose Ingestion and Real-Time Fan-Out
// Copyright 2026 Groovecast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/groovecast/groovecast

package resolver

import (
	"context"
	"fmt"
	"time"

	"github.com/groovecast/groovecast/internal/database"
	"github.com/groovecast/groovecast/internal/logging"
)

// Sweep is the periodic backfill pass: it finds tracks and albums
// whose references became resolvable after they were first written and
// fills them in. Each pass converges; once every reference is set the
// sweep finds nothing to do.
type Sweep struct {
	db       *database.DB
	interval time.Duration
	batch    int
}

// NewSweep creates the backfill sweep.
func NewSweep(db *database.DB, interval time.Duration, batch int) *Sweep {
	return &Sweep{db: db, interval: interval, batch: batch}
}

// BackfillPass runs one pass and returns how many references it set.
func (s *Sweep) BackfillPass(ctx context.Context) (int, error) {
	filled := 0

	tracks, err := s.db.TracksMissingRefs(ctx, s.batch)
	if err != nil {
		return 0, fmt.Errorf("backfill pass: %w", err)
	}
	for _, t := range tracks {
		if t.AlbumURI != nil {
			ok, err := s.db.SetTrackAlbumURI(ctx, t.TrackID, *t.AlbumURI)
			if err != nil {
				return filled, fmt.Errorf("backfill pass: %w", err)
			}
			if ok {
				filled++
			}
		}
		if t.ArtistURI != nil {
			ok, err := s.db.SetTrackArtistURI(ctx, t.TrackID, *t.ArtistURI)
			if err != nil {
				return filled, fmt.Errorf("backfill pass: %w", err)
			}
			if ok {
				filled++
			}
		}
	}

	albums, err := s.db.AlbumsMissingRefs(ctx, s.batch)
	if err != nil {
		return filled, fmt.Errorf("backfill pass: %w", err)
	}
	for _, a := range albums {
		ok, err := s.db.SetAlbumArtistURI(ctx, a.AlbumID, a.ArtistURI)
		if err != nil {
			return filled, fmt.Errorf("backfill pass: %w", err)
		}
		if ok {
			filled++
		}
	}

	return filled, nil
}

// Run executes passes on the configured interval until the context is
// canceled. Implements suture.Service; a failing pass is logged, not
// fatal, so a transient store error does not take the sweep down.
func (s *Sweep) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			filled, err := s.BackfillPass(ctx)
			if err != nil {
				logging.Warn().Err(err).Msg("Backfill pass failed")
				continue
			}
			if filled > 0 {
				logging.Info().Int("filled", filled).Msg("Backfill pass completed")
			}
		}
	}
}
