// Groovecast - Scrobble Firehose Ingestion and Real-Time Fan-Out
// Copyright 2026 Groovecast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/groovecast/groovecast

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/groovecast/groovecast/internal/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// UpsertUserByDID inserts a user row for the DID if none exists and
// returns the canonical row. Safe to call concurrently and repeatedly.
func (db *DB) UpsertUserByDID(ctx context.Context, did string) (*models.User, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (id, did) VALUES (?, ?) ON CONFLICT (did) DO NOTHING`,
		uuid.New(), did)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	return db.GetUserByDID(ctx, did)
}

// GetUserByDID returns the user row for a DID, or ErrNotFound.
func (db *DB) GetUserByDID(ctx context.Context, did string) (*models.User, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var u models.User
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, did, handle, created_at FROM users WHERE did = ?`, did).
		Scan(&u.ID, &u.DID, &u.Handle, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// UpsertArtist inserts the artist if its identity hash is new and returns
// the canonical row. On hash collision the existing row wins and the
// candidate's fields are discarded.
func (db *DB) UpsertArtist(ctx context.Context, artist *models.Artist) (*models.Artist, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO artists (id, sha256, name, uri, picture)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (sha256) DO NOTHING`,
		uuid.New(), artist.SHA256, artist.Name, artist.URI, artist.Picture)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert artist: %w", err)
	}

	return db.GetArtistBySHA256(ctx, artist.SHA256)
}

// GetArtistBySHA256 returns the artist row for an identity hash, or ErrNotFound.
func (db *DB) GetArtistBySHA256(ctx context.Context, sha string) (*models.Artist, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var a models.Artist
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, sha256, name, uri, picture, created_at, updated_at
		 FROM artists WHERE sha256 = ?`, sha).
		Scan(&a.ID, &a.SHA256, &a.Name, &a.URI, &a.Picture, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get artist: %w", err)
	}
	return &a, nil
}

// UpsertAlbum inserts the album if its identity hash is new and returns
// the canonical row.
func (db *DB) UpsertAlbum(ctx context.Context, album *models.Album) (*models.Album, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO albums (id, sha256, title, artist, uri, artist_uri, artist_sha256, album_art, year, release_date)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (sha256) DO NOTHING`,
		uuid.New(), album.SHA256, album.Title, album.Artist, album.URI, album.ArtistURI,
		album.ArtistSHA256, album.AlbumArt, album.Year, album.ReleaseDate)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert album: %w", err)
	}

	return db.GetAlbumBySHA256(ctx, album.SHA256)
}

// GetAlbumBySHA256 returns the album row for an identity hash, or ErrNotFound.
func (db *DB) GetAlbumBySHA256(ctx context.Context, sha string) (*models.Album, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var a models.Album
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, sha256, title, artist, uri, artist_uri, artist_sha256, album_art, year, release_date, created_at, updated_at
		 FROM albums WHERE sha256 = ?`, sha).
		Scan(&a.ID, &a.SHA256, &a.Title, &a.Artist, &a.URI, &a.ArtistURI, &a.ArtistSHA256,
			&a.AlbumArt, &a.Year, &a.ReleaseDate, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get album: %w", err)
	}
	return &a, nil
}

// UpsertTrack inserts the track if its identity hash is new and returns
// the canonical row.
func (db *DB) UpsertTrack(ctx context.Context, track *models.Track) (*models.Track, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO tracks (id, sha256, title, artist, album, album_artist, uri, album_uri, artist_uri,
		                     album_sha256, artist_sha256, duration, track_number, album_art, spotify_link)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (sha256) DO NOTHING`,
		uuid.New(), track.SHA256, track.Title, track.Artist, track.Album, track.AlbumArtist,
		track.URI, track.AlbumURI, track.ArtistURI, track.AlbumSHA256, track.ArtistSHA256,
		track.Duration, track.TrackNumber, track.AlbumArt, track.SpotifyLink)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert track: %w", err)
	}

	return db.GetTrackBySHA256(ctx, track.SHA256)
}

// GetTrackBySHA256 returns the track row for an identity hash, or ErrNotFound.
func (db *DB) GetTrackBySHA256(ctx context.Context, sha string) (*models.Track, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var t models.Track
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, sha256, title, artist, album, album_artist, uri, album_uri, artist_uri,
		        album_sha256, artist_sha256, duration, track_number, album_art, spotify_link,
		        created_at, updated_at
		 FROM tracks WHERE sha256 = ?`, sha).
		Scan(&t.ID, &t.SHA256, &t.Title, &t.Artist, &t.Album, &t.AlbumArtist, &t.URI,
			&t.AlbumURI, &t.ArtistURI, &t.AlbumSHA256, &t.ArtistSHA256, &t.Duration,
			&t.TrackNumber, &t.AlbumArt, &t.SpotifyLink, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get track: %w", err)
	}
	return &t, nil
}

// AnchorArtistURI assigns the record-store URI to an artist exactly once.
// A row whose uri is already set is left untouched.
func (db *DB) AnchorArtistURI(ctx context.Context, sha, uri string) (bool, error) {
	return db.anchorURI(ctx, "artists", sha, uri)
}

// AnchorAlbumURI assigns the record-store URI to an album exactly once.
func (db *DB) AnchorAlbumURI(ctx context.Context, sha, uri string) (bool, error) {
	return db.anchorURI(ctx, "albums", sha, uri)
}

// AnchorTrackURI assigns the record-store URI to a track exactly once.
func (db *DB) AnchorTrackURI(ctx context.Context, sha, uri string) (bool, error) {
	return db.anchorURI(ctx, "tracks", sha, uri)
}

func (db *DB) anchorURI(ctx context.Context, table, sha, uri string) (bool, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	res, err := db.conn.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET uri = ?, updated_at = current_timestamp WHERE sha256 = ? AND uri IS NULL`, table),
		uri, sha)
	if err != nil {
		return false, fmt.Errorf("failed to anchor %s uri: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// SetTrackAlbumURI backfills a track's album reference. The write only
// lands when the reference is still unset, making the backfill pass
// idempotent and safe against concurrent sweeps.
func (db *DB) SetTrackAlbumURI(ctx context.Context, trackID uuid.UUID, albumURI string) (bool, error) {
	return db.setRefURI(ctx, "tracks", "album_uri", trackID, albumURI)
}

// SetTrackArtistURI backfills a track's artist reference.
func (db *DB) SetTrackArtistURI(ctx context.Context, trackID uuid.UUID, artistURI string) (bool, error) {
	return db.setRefURI(ctx, "tracks", "artist_uri", trackID, artistURI)
}

// SetAlbumArtistURI backfills an album's artist reference.
func (db *DB) SetAlbumArtistURI(ctx context.Context, albumID uuid.UUID, artistURI string) (bool, error) {
	return db.setRefURI(ctx, "albums", "artist_uri", albumID, artistURI)
}

func (db *DB) setRefURI(ctx context.Context, table, column string, id uuid.UUID, uri string) (bool, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	res, err := db.conn.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET %s = ?, updated_at = current_timestamp WHERE id = ? AND %s IS NULL`, table, column, column),
		uri, id)
	if err != nil {
		return false, fmt.Errorf("failed to set %s.%s: %w", table, column, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// TrackMissingRefs pairs a track with the resolvable URIs of its album
// and artist rows.
type TrackMissingRefs struct {
	TrackID   uuid.UUID
	AlbumURI  *string
	ArtistURI *string
}

// TracksMissingRefs lists tracks whose album or artist reference is still
// unset but whose related row has since been anchored with a URI. Feeds
// the periodic backfill sweep.
func (db *DB) TracksMissingRefs(ctx context.Context, limit int) ([]TrackMissingRefs, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT t.id, al.uri, ar.uri
		 FROM tracks t
		 LEFT JOIN albums al ON al.sha256 = t.album_sha256 AND al.uri IS NOT NULL
		 LEFT JOIN artists ar ON ar.sha256 = t.artist_sha256 AND ar.uri IS NOT NULL
		 WHERE (t.album_uri IS NULL AND al.uri IS NOT NULL)
		    OR (t.artist_uri IS NULL AND ar.uri IS NOT NULL)
		 ORDER BY t.created_at
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracks missing refs: %w", err)
	}
	defer closeQuietly(rows)

	var out []TrackMissingRefs
	for rows.Next() {
		var r TrackMissingRefs
		if err := rows.Scan(&r.TrackID, &r.AlbumURI, &r.ArtistURI); err != nil {
			return nil, fmt.Errorf("failed to scan track refs: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate track refs: %w", err)
	}
	return out, nil
}

// AlbumMissingRefs pairs an album with the resolvable URI of its artist row.
type AlbumMissingRefs struct {
	AlbumID   uuid.UUID
	ArtistURI string
}

// AlbumsMissingRefs lists albums whose artist reference is still unset
// but whose artist row has since been anchored with a URI.
func (db *DB) AlbumsMissingRefs(ctx context.Context, limit int) ([]AlbumMissingRefs, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT al.id, ar.uri
		 FROM albums al
		 JOIN artists ar ON ar.sha256 = al.artist_sha256
		 WHERE al.artist_uri IS NULL AND ar.uri IS NOT NULL
		 ORDER BY al.created_at
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list albums missing refs: %w", err)
	}
	defer closeQuietly(rows)

	var out []AlbumMissingRefs
	for rows.Next() {
		var r AlbumMissingRefs
		if err := rows.Scan(&r.AlbumID, &r.ArtistURI); err != nil {
			return nil, fmt.Errorf("failed to scan album refs: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate album refs: %w", err)
	}
	return out, nil
}
