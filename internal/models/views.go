// Groovecast - Scrobble Firehose Ingestion and Real-Time Fan-Out
// Copyright 2026 Groovecast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/groovecast/groovecast

package models

import "time"

// SubscriberPayload is the single JSON document pushed to a subscriber
// connection whenever a qualifying event fires for its interest set.
// Builder fields left nil by a failed builder are omitted rather than
// blocking the rest of the payload.
type SubscriberPayload struct {
	NowPlayings    any    `json:"nowPlayings"`
	Scrobbles      any    `json:"scrobbles"`
	ScrobblesChart any    `json:"scrobblesChart"`
	ActorScrobbles any    `json:"actorScrobbles"`
	ActorAlbums    any    `json:"actorAlbums"`
	ActorArtists   any    `json:"actorArtists"`
	URI            string `json:"uri"`
	DID            string `json:"did"`
}

// NowPlayingView is one entry in the most-recent-distinct now-playing
// list: the latest play per user, newest first.
type NowPlayingView struct {
	DID       string    `json:"did"`
	Handle    string    `json:"handle,omitempty"`
	Title     string    `json:"title"`
	Artist    string    `json:"artist"`
	Album     string    `json:"album"`
	AlbumArt  string    `json:"albumArt,omitempty"`
	TrackURI  string    `json:"trackUri,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// ScrobbleView is one entry in the global recent-scrobbles feed.
type ScrobbleView struct {
	ID        string    `json:"id"`
	URI       string    `json:"uri"`
	DID       string    `json:"did"`
	Handle    string    `json:"handle,omitempty"`
	Title     string    `json:"title"`
	Artist    string    `json:"artist"`
	Album     string    `json:"album"`
	AlbumArt  string    `json:"albumArt,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
