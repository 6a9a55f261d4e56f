// Groovecast - Scrobble Firehose Ingestion and Real-Time Fan-Out
// Copyright 2026 Groovecast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/groovecast/groovecast

package database

import (
	"context"
	"fmt"
	"time"
)

// createTables creates the schema if it does not exist.
//
// sha256 UNIQUE constraints make entity upserts idempotent; the uri
// UNIQUE constraint on scrobbles collapses redelivered firehose commits.
// DuckDB enforces UNIQUE on nullable columns only for non-NULL values,
// which is exactly what unanchored entity rows need.
func (db *DB) createTables() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			did VARCHAR NOT NULL UNIQUE,
			handle VARCHAR,
			created_at TIMESTAMP NOT NULL DEFAULT current_timestamp
		)`,
		`CREATE TABLE IF NOT EXISTS artists (
			id UUID PRIMARY KEY,
			sha256 VARCHAR NOT NULL UNIQUE,
			name VARCHAR NOT NULL,
			uri VARCHAR UNIQUE,
			picture VARCHAR,
			created_at TIMESTAMP NOT NULL DEFAULT current_timestamp,
			updated_at TIMESTAMP NOT NULL DEFAULT current_timestamp
		)`,
		`CREATE TABLE IF NOT EXISTS albums (
			id UUID PRIMARY KEY,
			sha256 VARCHAR NOT NULL UNIQUE,
			title VARCHAR NOT NULL,
			artist VARCHAR NOT NULL,
			uri VARCHAR UNIQUE,
			artist_uri VARCHAR,
			artist_sha256 VARCHAR NOT NULL,
			album_art VARCHAR,
			year INTEGER,
			release_date VARCHAR,
			created_at TIMESTAMP NOT NULL DEFAULT current_timestamp,
			updated_at TIMESTAMP NOT NULL DEFAULT current_timestamp
		)`,
		`CREATE TABLE IF NOT EXISTS tracks (
			id UUID PRIMARY KEY,
			sha256 VARCHAR NOT NULL UNIQUE,
			title VARCHAR NOT NULL,
			artist VARCHAR NOT NULL,
			album VARCHAR NOT NULL,
			album_artist VARCHAR NOT NULL,
			uri VARCHAR UNIQUE,
			album_uri VARCHAR,
			artist_uri VARCHAR,
			album_sha256 VARCHAR NOT NULL,
			artist_sha256 VARCHAR NOT NULL,
			duration INTEGER,
			track_number INTEGER,
			album_art VARCHAR,
			spotify_link VARCHAR,
			created_at TIMESTAMP NOT NULL DEFAULT current_timestamp,
			updated_at TIMESTAMP NOT NULL DEFAULT current_timestamp
		)`,
		`CREATE TABLE IF NOT EXISTS scrobbles (
			id UUID PRIMARY KEY,
			uri VARCHAR NOT NULL UNIQUE,
			user_id UUID NOT NULL,
			track_id UUID NOT NULL,
			album_id UUID NOT NULL,
			artist_id UUID NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scrobbles_user_created ON scrobbles (user_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_scrobbles_created ON scrobbles (created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_tracks_album_sha ON tracks (album_sha256)`,
		`CREATE INDEX IF NOT EXISTS idx_tracks_artist_sha ON tracks (artist_sha256)`,
		`CREATE INDEX IF NOT EXISTS idx_albums_artist_sha ON albums (artist_sha256)`,
	}

	for _, stmt := range statements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return nil
}
