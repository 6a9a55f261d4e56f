// Groovecast - Scrobble Firehose Ingestion and Real-Time Fan-Out
// Copyright 2026 Groovecast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/groovecast/groovecast

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/groovecast/groovecast/internal/models"
)

// nowPlayingWindow bounds how far back a play still counts as "now playing".
const nowPlayingWindow = 10 * time.Minute

// InsertScrobble records one play. The uri UNIQUE constraint absorbs
// redelivered commits; the bool reports whether a new row landed.
func (db *DB) InsertScrobble(ctx context.Context, s *models.Scrobble) (bool, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	id := s.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO scrobbles (id, uri, user_id, track_id, album_id, artist_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (uri) DO NOTHING`,
		id, s.URI, s.UserID, s.TrackID, s.AlbumID, s.ArtistID, s.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert scrobble: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// CountScrobbles returns the total number of recorded plays.
func (db *DB) CountScrobbles(ctx context.Context) (int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var n int64
	if err := db.conn.QueryRowContext(ctx, `SELECT count(*) FROM scrobbles`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count scrobbles: %w", err)
	}
	return n, nil
}

// ListRecentScrobbles returns the newest plays globally, or for a single
// DID when one is given.
func (db *DB) ListRecentScrobbles(ctx context.Context, did string, limit int) ([]models.ScrobbleView, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `SELECT s.id, s.uri, u.did, coalesce(u.handle, ''), t.title, t.artist, t.album, coalesce(t.album_art, ''), s.created_at
	          FROM scrobbles s
	          JOIN users u ON u.id = s.user_id
	          JOIN tracks t ON t.id = s.track_id`
	args := []any{}
	if did != "" {
		query += ` WHERE u.did = ?`
		args = append(args, did)
	}
	query += ` ORDER BY s.created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list scrobbles: %w", err)
	}
	defer closeQuietly(rows)

	var out []models.ScrobbleView
	for rows.Next() {
		var v models.ScrobbleView
		if err := rows.Scan(&v.ID, &v.URI, &v.DID, &v.Handle, &v.Title, &v.Artist, &v.Album, &v.AlbumArt, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan scrobble: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate scrobbles: %w", err)
	}
	return out, nil
}

// ListNowPlaying returns the latest recent play per user, newest first.
// One entry per user; plays older than the now-playing window are
// excluded entirely.
func (db *DB) ListNowPlaying(ctx context.Context, limit int) ([]models.NowPlayingView, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	cutoff := time.Now().UTC().Add(-nowPlayingWindow)

	rows, err := db.conn.QueryContext(ctx,
		`SELECT did, handle, title, artist, album, album_art, track_uri, created_at FROM (
		    SELECT u.did, coalesce(u.handle, '') AS handle, t.title, t.artist, t.album,
		           coalesce(t.album_art, '') AS album_art, coalesce(t.uri, '') AS track_uri,
		           s.created_at,
		           row_number() OVER (PARTITION BY s.user_id ORDER BY s.created_at DESC) AS rn
		    FROM scrobbles s
		    JOIN users u ON u.id = s.user_id
		    JOIN tracks t ON t.id = s.track_id
		    WHERE s.created_at > ?
		 ) WHERE rn = 1
		 ORDER BY created_at DESC
		 LIMIT ?`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list now playing: %w", err)
	}
	defer closeQuietly(rows)

	var out []models.NowPlayingView
	for rows.Next() {
		var v models.NowPlayingView
		if err := rows.Scan(&v.DID, &v.Handle, &v.Title, &v.Artist, &v.Album, &v.AlbumArt, &v.TrackURI, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan now playing: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate now playing: %w", err)
	}
	return out, nil
}
