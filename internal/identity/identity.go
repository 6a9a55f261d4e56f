// Groovecast - Scrobble Firehose Ingestion and Real-Time Fan-Out
// Copyright 2026 Groovecast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/groovecast/groovecast

// Package identity implements content addressing for musical entities.
//
// Every track, album, and artist is identified by a SHA-256 digest over
// its normalized textual identity fields. The hash is the deduplication
// key: two plays of the same normalized title/artist/album resolve to the
// same entity row no matter which ingestion path produced them.
//
// Hashes are pure functions of their inputs. Normalization is simple
// lower-casing plus surrounding-whitespace trimming; fields are joined
// with the fixed delimiter " - " before hashing.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// delimiter joins identity fields before hashing. Changing it would
// change every hash in the store, so it is fixed forever.
const delimiter = " - "

// TrackHash returns the identity hash for a track.
func TrackHash(title, artist, album string) string {
	return digest(normalize(title) + delimiter + normalize(artist) + delimiter + normalize(album))
}

// AlbumHash returns the identity hash for an album.
func AlbumHash(title, artist string) string {
	return digest(normalize(title) + delimiter + normalize(artist))
}

// ArtistHash returns the identity hash for an artist.
func ArtistHash(name string) string {
	return digest(normalize(name))
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
