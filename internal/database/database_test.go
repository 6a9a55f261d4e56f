// Groovecast - Scrobble Firehose Ingestion and Real-Time Fan-Out
// Copyright 2026 Groovecast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/groovecast/groovecast

package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/groovecast/groovecast/internal/config"
	"github.com/groovecast/groovecast/internal/identity"
	"github.com/groovecast/groovecast/internal/models"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := New(&config.DatabaseConfig{
		Path:      ":memory:",
		MaxMemory: "512MB",
	})
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("Failed to close test database: %v", err)
		}
	})
	return db
}

func strPtr(s string) *string { return &s }

func testTrack(title, artist, album string) *models.Track {
	return &models.Track{
		SHA256:       identity.TrackHash(title, artist, album),
		Title:        title,
		Artist:       artist,
		Album:        album,
		AlbumArtist:  artist,
		AlbumSHA256:  identity.AlbumHash(album, artist),
		ArtistSHA256: identity.ArtistHash(artist),
	}
}

func TestUpsertUserByDID(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	u1, err := db.UpsertUserByDID(ctx, "did:plc:alice")
	if err != nil {
		t.Fatalf("UpsertUserByDID() error: %v", err)
	}
	if u1.DID != "did:plc:alice" {
		t.Errorf("DID = %q, want did:plc:alice", u1.DID)
	}

	// Second upsert must return the same row
	u2, err := db.UpsertUserByDID(ctx, "did:plc:alice")
	if err != nil {
		t.Fatalf("UpsertUserByDID() second call error: %v", err)
	}
	if u1.ID != u2.ID {
		t.Errorf("repeated upsert created a new row: %s != %s", u1.ID, u2.ID)
	}
}

func TestUpsertTrackDeduplicatesByHash(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	t1, err := db.UpsertTrack(ctx, testTrack("Kintsugi", "Nala Sinephro", "Endlessness"))
	if err != nil {
		t.Fatalf("UpsertTrack() error: %v", err)
	}

	// Case variations hash to the same identity
	dup := testTrack("KINTSUGI", "nala sinephro", "Endlessness")
	dup.SpotifyLink = strPtr("https://open.spotify.com/track/xyz")
	t2, err := db.UpsertTrack(ctx, dup)
	if err != nil {
		t.Fatalf("UpsertTrack() duplicate error: %v", err)
	}

	if t1.ID != t2.ID {
		t.Errorf("duplicate upsert created a new row: %s != %s", t1.ID, t2.ID)
	}
	// Existing row wins: the duplicate's fields are discarded
	if t2.Title != "Kintsugi" {
		t.Errorf("Title = %q, want original %q", t2.Title, "Kintsugi")
	}
	if t2.SpotifyLink != nil {
		t.Errorf("SpotifyLink = %v, want nil (existing row wins)", *t2.SpotifyLink)
	}
}

func TestAnchorTrackURIIsWriteOnce(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	tr, err := db.UpsertTrack(ctx, testTrack("Continuum", "Nala Sinephro", "Endlessness"))
	if err != nil {
		t.Fatalf("UpsertTrack() error: %v", err)
	}

	anchored, err := db.AnchorTrackURI(ctx, tr.SHA256, "at://did:plc:anchor/app.rocksky.song/abc")
	if err != nil {
		t.Fatalf("AnchorTrackURI() error: %v", err)
	}
	if !anchored {
		t.Fatalf("first anchor should land")
	}

	// Second anchor with a different value must be a no-op
	anchored, err = db.AnchorTrackURI(ctx, tr.SHA256, "at://did:plc:anchor/app.rocksky.song/other")
	if err != nil {
		t.Fatalf("AnchorTrackURI() second call error: %v", err)
	}
	if anchored {
		t.Errorf("second anchor should be a no-op")
	}

	got, err := db.GetTrackBySHA256(ctx, tr.SHA256)
	if err != nil {
		t.Fatalf("GetTrackBySHA256() error: %v", err)
	}
	if got.URI == nil || *got.URI != "at://did:plc:anchor/app.rocksky.song/abc" {
		t.Errorf("URI = %v, want first anchored value", got.URI)
	}
}

func TestBackfillRefsConverges(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	artistSHA := identity.ArtistHash("Nala Sinephro")
	albumSHA := identity.AlbumHash("Endlessness", "Nala Sinephro")

	if _, err := db.UpsertArtist(ctx, &models.Artist{SHA256: artistSHA, Name: "Nala Sinephro"}); err != nil {
		t.Fatalf("UpsertArtist() error: %v", err)
	}
	if _, err := db.UpsertAlbum(ctx, &models.Album{
		SHA256: albumSHA, Title: "Endlessness", Artist: "Nala Sinephro", ArtistSHA256: artistSHA,
	}); err != nil {
		t.Fatalf("UpsertAlbum() error: %v", err)
	}
	tr, err := db.UpsertTrack(ctx, testTrack("Continuum 1", "Nala Sinephro", "Endlessness"))
	if err != nil {
		t.Fatalf("UpsertTrack() error: %v", err)
	}

	// Nothing anchored yet, so nothing is backfillable
	missing, err := db.TracksMissingRefs(ctx, 100)
	if err != nil {
		t.Fatalf("TracksMissingRefs() error: %v", err)
	}
	if len(missing) != 0 {
		t.Fatalf("TracksMissingRefs() = %d rows before anchoring, want 0", len(missing))
	}

	if _, err := db.AnchorArtistURI(ctx, artistSHA, "at://did:plc:a/app.rocksky.artist/1"); err != nil {
		t.Fatalf("AnchorArtistURI() error: %v", err)
	}
	if _, err := db.AnchorAlbumURI(ctx, albumSHA, "at://did:plc:a/app.rocksky.album/1"); err != nil {
		t.Fatalf("AnchorAlbumURI() error: %v", err)
	}

	missing, err = db.TracksMissingRefs(ctx, 100)
	if err != nil {
		t.Fatalf("TracksMissingRefs() error: %v", err)
	}
	if len(missing) != 1 || missing[0].TrackID != tr.ID {
		t.Fatalf("TracksMissingRefs() = %+v, want single entry for track %s", missing, tr.ID)
	}
	if missing[0].AlbumURI == nil || missing[0].ArtistURI == nil {
		t.Fatalf("TracksMissingRefs() entry missing resolvable URIs: %+v", missing[0])
	}

	if _, err := db.SetTrackAlbumURI(ctx, tr.ID, *missing[0].AlbumURI); err != nil {
		t.Fatalf("SetTrackAlbumURI() error: %v", err)
	}
	if _, err := db.SetTrackArtistURI(ctx, tr.ID, *missing[0].ArtistURI); err != nil {
		t.Fatalf("SetTrackArtistURI() error: %v", err)
	}

	albumsMissing, err := db.AlbumsMissingRefs(ctx, 100)
	if err != nil {
		t.Fatalf("AlbumsMissingRefs() error: %v", err)
	}
	if len(albumsMissing) != 1 {
		t.Fatalf("AlbumsMissingRefs() = %d rows, want 1", len(albumsMissing))
	}
	if _, err := db.SetAlbumArtistURI(ctx, albumsMissing[0].AlbumID, albumsMissing[0].ArtistURI); err != nil {
		t.Fatalf("SetAlbumArtistURI() error: %v", err)
	}

	// Converged: sweep finds no more work
	missing, err = db.TracksMissingRefs(ctx, 100)
	if err != nil {
		t.Fatalf("TracksMissingRefs() error: %v", err)
	}
	if len(missing) != 0 {
		t.Errorf("TracksMissingRefs() = %d rows after backfill, want 0", len(missing))
	}
	albumsMissing, err = db.AlbumsMissingRefs(ctx, 100)
	if err != nil {
		t.Fatalf("AlbumsMissingRefs() error: %v", err)
	}
	if len(albumsMissing) != 0 {
		t.Errorf("AlbumsMissingRefs() = %d rows after backfill, want 0", len(albumsMissing))
	}
}

func insertTestScrobble(t *testing.T, db *DB, did, title string, at time.Time) bool {
	t.Helper()
	ctx := context.Background()

	user, err := db.UpsertUserByDID(ctx, did)
	if err != nil {
		t.Fatalf("UpsertUserByDID() error: %v", err)
	}
	artist, err := db.UpsertArtist(ctx, &models.Artist{SHA256: identity.ArtistHash("Test Artist"), Name: "Test Artist"})
	if err != nil {
		t.Fatalf("UpsertArtist() error: %v", err)
	}
	album, err := db.UpsertAlbum(ctx, &models.Album{
		SHA256: identity.AlbumHash("Test Album", "Test Artist"),
		Title:  "Test Album", Artist: "Test Artist", ArtistSHA256: artist.SHA256,
	})
	if err != nil {
		t.Fatalf("UpsertAlbum() error: %v", err)
	}
	track, err := db.UpsertTrack(ctx, testTrack(title, "Test Artist", "Test Album"))
	if err != nil {
		t.Fatalf("UpsertTrack() error: %v", err)
	}

	inserted, err := db.InsertScrobble(ctx, &models.Scrobble{
		URI:       "at://" + did + "/app.rocksky.scrobble/" + title,
		UserID:    user.ID,
		TrackID:   track.ID,
		AlbumID:   album.ID,
		ArtistID:  artist.ID,
		CreatedAt: at,
	})
	if err != nil {
		t.Fatalf("InsertScrobble() error: %v", err)
	}
	return inserted
}

func TestInsertScrobbleDeduplicatesByURI(t *testing.T) {
	db := setupTestDB(t)

	now := time.Now().UTC()
	if !insertTestScrobble(t, db, "did:plc:alice", "Song A", now) {
		t.Fatalf("first insert should land")
	}
	// Redelivered commit: same uri, must collapse
	if insertTestScrobble(t, db, "did:plc:alice", "Song A", now) {
		t.Errorf("redelivered scrobble should be dropped")
	}

	n, err := db.CountScrobbles(context.Background())
	if err != nil {
		t.Fatalf("CountScrobbles() error: %v", err)
	}
	if n != 1 {
		t.Errorf("CountScrobbles() = %d, want 1", n)
	}
}

func TestListNowPlayingDistinctPerUser(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	now := time.Now().UTC()
	insertTestScrobble(t, db, "did:plc:alice", "Older Song", now.Add(-2*time.Minute))
	insertTestScrobble(t, db, "did:plc:alice", "Newer Song", now.Add(-1*time.Minute))
	insertTestScrobble(t, db, "did:plc:bob", "Bob Song", now.Add(-30*time.Second))
	// Outside the now-playing window: excluded
	insertTestScrobble(t, db, "did:plc:carol", "Stale Song", now.Add(-time.Hour))

	nowPlaying, err := db.ListNowPlaying(ctx, 10)
	if err != nil {
		t.Fatalf("ListNowPlaying() error: %v", err)
	}
	if len(nowPlaying) != 2 {
		t.Fatalf("ListNowPlaying() = %d entries, want 2", len(nowPlaying))
	}
	// Newest first
	if nowPlaying[0].DID != "did:plc:bob" {
		t.Errorf("first entry DID = %q, want did:plc:bob", nowPlaying[0].DID)
	}
	if nowPlaying[1].DID != "did:plc:alice" || nowPlaying[1].Title != "Newer Song" {
		t.Errorf("second entry = %q/%q, want alice's latest play", nowPlaying[1].DID, nowPlaying[1].Title)
	}
}

func TestListRecentScrobbles(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	now := time.Now().UTC()
	insertTestScrobble(t, db, "did:plc:alice", "Song 1", now.Add(-3*time.Minute))
	insertTestScrobble(t, db, "did:plc:bob", "Song 2", now.Add(-2*time.Minute))
	insertTestScrobble(t, db, "did:plc:alice", "Song 3", now.Add(-1*time.Minute))

	all, err := db.ListRecentScrobbles(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListRecentScrobbles() error: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("ListRecentScrobbles() = %d entries, want 3", len(all))
	}
	if all[0].Title != "Song 3" {
		t.Errorf("first entry = %q, want newest Song 3", all[0].Title)
	}

	mine, err := db.ListRecentScrobbles(ctx, "did:plc:alice", 10)
	if err != nil {
		t.Fatalf("ListRecentScrobbles(did) error: %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("ListRecentScrobbles(did) = %d entries, want 2", len(mine))
	}
	for _, v := range mine {
		if v.DID != "did:plc:alice" {
			t.Errorf("entry DID = %q, want did:plc:alice", v.DID)
		}
	}
}

func TestGetMissingReturnsErrNotFound(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if _, err := db.GetTrackBySHA256(ctx, "no-such-hash"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetTrackBySHA256() error = %v, want ErrNotFound", err)
	}
	if _, err := db.GetUserByDID(ctx, "did:plc:missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetUserByDID() error = %v, want ErrNotFound", err)
	}
}

func TestNilContextGetsDefaultTimeout(t *testing.T) {
	db := setupTestDB(t)

	//nolint:staticcheck // exercising the nil-context guard
	ctx, cancel := db.ensureContext(nil)
	defer cancel()

	deadline, ok := ctx.Deadline()
	if !ok {
		t.Fatalf("ensureContext(nil) should attach a deadline")
	}
	if time.Until(deadline) > 31*time.Second {
		t.Errorf("default deadline too far out: %v", deadline)
	}
}
