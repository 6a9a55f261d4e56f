// Groovecast - Scrobble Firehose Ingestion and Real-Time Fan-Out
// Copyright 2026 Groovecast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/groovecast/groovecast

package models

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Play is a freshly observed scrobble, decoded from a firehose commit
// record and not yet resolved against the durable store.
type Play struct {
	DID         string
	URI         string
	Title       string
	Artist      string
	Album       string
	AlbumArtist string
	Duration    int
	TrackNumber int
	Year        int
	ReleaseDate string
	AlbumArt    string
	SpotifyLink string
	PlayedAt    time.Time
}

// scrobbleRecord mirrors the wire shape of a scrobble record as carried
// in firehose commits. Only the fields this core consumes are listed.
type scrobbleRecord struct {
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	Album       string `json:"album"`
	AlbumArtist string `json:"albumArtist"`
	Duration    int    `json:"duration"`
	TrackNumber int    `json:"trackNumber"`
	Year        int    `json:"year"`
	ReleaseDate string `json:"releaseDate"`
	AlbumArtURL string `json:"albumArtUrl"`
	SpotifyLink string `json:"spotifyLink"`
	CreatedAt   string `json:"createdAt"`
}

// PlayFromRecord decodes a commit record into a Play.
// The album artist defaults to the track artist when absent, matching
// how the identity hashes are computed downstream.
func PlayFromRecord(did, uri string, record json.RawMessage) (*Play, error) {
	var rec scrobbleRecord
	if err := json.Unmarshal(record, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode scrobble record: %w", err)
	}

	if rec.Title == "" || rec.Artist == "" || rec.Album == "" {
		return nil, fmt.Errorf("scrobble record missing identity fields (title=%q artist=%q album=%q)", rec.Title, rec.Artist, rec.Album)
	}

	albumArtist := rec.AlbumArtist
	if albumArtist == "" {
		albumArtist = rec.Artist
	}

	playedAt := time.Now().UTC()
	if rec.CreatedAt != "" {
		if ts, err := time.Parse(time.RFC3339, rec.CreatedAt); err == nil {
			playedAt = ts.UTC()
		}
	}

	return &Play{
		DID:         did,
		URI:         uri,
		Title:       rec.Title,
		Artist:      rec.Artist,
		Album:       rec.Album,
		AlbumArtist: albumArtist,
		Duration:    rec.Duration,
		TrackNumber: rec.TrackNumber,
		Year:        rec.Year,
		ReleaseDate: rec.ReleaseDate,
		AlbumArt:    rec.AlbumArtURL,
		SpotifyLink: rec.SpotifyLink,
		PlayedAt:    playedAt,
	}, nil
}
