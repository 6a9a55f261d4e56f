// Groovecast - Scrobble Firehose Ingestion and Real-Time Fan-Out
// Copyright 2026 Groovecast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/groovecast/groovecast

package models

import (
	"time"

	"github.com/google/uuid"
)

// Artist is a durably recorded performer, deduplicated by identity hash.
//
// SHA256 is the natural key and never changes once assigned. URI is
// assigned once the artist is anchored in the record store; it is never
// overwritten with a different value once set.
type Artist struct {
	ID        uuid.UUID `json:"id"`
	SHA256    string    `json:"sha256"`
	Name      string    `json:"name"`
	URI       *string   `json:"uri,omitempty"`
	Picture   *string   `json:"picture,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Album is a durably recorded release, deduplicated by identity hash over
// (title, artist). ArtistURI is backfilled once a matching artist row with
// a URI exists.
type Album struct {
	ID           uuid.UUID `json:"id"`
	SHA256       string    `json:"sha256"`
	Title        string    `json:"title"`
	Artist       string    `json:"artist"`
	URI          *string   `json:"uri,omitempty"`
	ArtistURI    *string   `json:"artistUri,omitempty"`
	ArtistSHA256 string    `json:"artistSha256"`
	AlbumArt     *string   `json:"albumArt,omitempty"`
	Year         *int      `json:"year,omitempty"`
	ReleaseDate  *string   `json:"releaseDate,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Track is a durably recorded song, deduplicated by identity hash over
// (title, artist, album). AlbumURI and ArtistURI are backfilled after the
// fact once the referenced rows are anchored; the rows are related through
// AlbumSHA256/ArtistSHA256 from the moment the track is first observed.
type Track struct {
	ID           uuid.UUID `json:"id"`
	SHA256       string    `json:"sha256"`
	Title        string    `json:"title"`
	Artist       string    `json:"artist"`
	Album        string    `json:"album"`
	AlbumArtist  string    `json:"albumArtist"`
	URI          *string   `json:"uri,omitempty"`
	AlbumURI     *string   `json:"albumUri,omitempty"`
	ArtistURI    *string   `json:"artistUri,omitempty"`
	AlbumSHA256  string    `json:"albumSha256"`
	ArtistSHA256 string    `json:"artistSha256"`
	Duration     *int      `json:"duration,omitempty"`
	TrackNumber  *int      `json:"trackNumber,omitempty"`
	AlbumArt     *string   `json:"albumArt,omitempty"`
	SpotifyLink  *string   `json:"spotifyLink,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// User is an actor identified by a stable decentralized identifier.
type User struct {
	ID        uuid.UUID `json:"id"`
	DID       string    `json:"did"`
	Handle    *string   `json:"handle,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Scrobble is one play of a track by a user at a point in time.
// Created once and immutable thereafter except for backfilled reference
// ids. URI is the at:// address of the originating record and is unique,
// which makes redelivered commits collapse into a single row.
type Scrobble struct {
	ID        uuid.UUID `json:"id"`
	URI       string    `json:"uri"`
	UserID    uuid.UUID `json:"userId"`
	TrackID   uuid.UUID `json:"trackId"`
	AlbumID   uuid.UUID `json:"albumId"`
	ArtistID  uuid.UUID `json:"artistId"`
	CreatedAt time.Time `json:"createdAt"`
}
