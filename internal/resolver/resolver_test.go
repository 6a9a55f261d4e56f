// Groovecast - Scrobble Firehose Ingestion and Real-Time Fan-Out
// Copyright 2026 Groovecast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/groovecast/groovecast

package resolver

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	json "github.com/goccy/go-json"

	"github.com/groovecast/groovecast/internal/config"
	"github.com/groovecast/groovecast/internal/database"
	"github.com/groovecast/groovecast/internal/identity"
	"github.com/groovecast/groovecast/internal/models"
)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(&config.DatabaseConfig{Path: ":memory:", MaxMemory: "512MB"})
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func scrobbleEvent(did, rkey string, record map[string]any) *models.FirehoseEvent {
	raw, _ := json.Marshal(record)
	return &models.FirehoseEvent{
		DID:    did,
		TimeUS: 1000,
		Kind:   models.FirehoseKindCommit,
		Commit: &models.CommitEvent{
			Operation:  models.CommitOperationCreate,
			Collection: "app.rocksky.scrobble",
			RKey:       rkey,
			Record:     raw,
		},
	}
}

func basicRecord() map[string]any {
	return map[string]any{
		"title":     "Continuum 1",
		"artist":    "Nala Sinephro",
		"album":     "Endlessness",
		"duration":  222,
		"createdAt": "2026-08-29T10:00:00Z",
	}
}

// stubAnchorer hands out deterministic URIs and counts calls.
type stubAnchorer struct {
	tracks, albums, artists atomic.Int64
}

func (s *stubAnchorer) TrackURI(_ context.Context, t *models.Track) (string, error) {
	s.tracks.Add(1)
	return "at://did:plc:anchor/app.rocksky.song/" + t.SHA256[:8], nil
}

func (s *stubAnchorer) AlbumURI(_ context.Context, a *models.Album) (string, error) {
	s.albums.Add(1)
	return "at://did:plc:anchor/app.rocksky.album/" + a.SHA256[:8], nil
}

func (s *stubAnchorer) ArtistURI(_ context.Context, a *models.Artist) (string, error) {
	s.artists.Add(1)
	return "at://did:plc:anchor/app.rocksky.artist/" + a.SHA256[:8], nil
}

// stubPublisher records published tracks.
type stubPublisher struct {
	published atomic.Int64
	fail      bool
}

func (s *stubPublisher) PublishTrack(context.Context, *models.Track) error {
	if s.fail {
		return fmt.Errorf("broker down")
	}
	s.published.Add(1)
	return nil
}

func TestResolveCreatesFullChain(t *testing.T) {
	db := setupTestDB(t)
	r := New(db, nil, nil)
	ctx := context.Background()

	res, err := r.Resolve(ctx, scrobbleEvent("did:plc:alice", "abc", basicRecord()))
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if !res.Inserted {
		t.Errorf("first resolve should insert a scrobble")
	}
	if res.User.DID != "did:plc:alice" {
		t.Errorf("user DID = %q", res.User.DID)
	}
	if res.Track.Title != "Continuum 1" || res.Album.Title != "Endlessness" || res.Artist.Name != "Nala Sinephro" {
		t.Errorf("entity chain = %q/%q/%q", res.Track.Title, res.Album.Title, res.Artist.Name)
	}
	// Entities link through identity hashes from the first observation
	if res.Track.AlbumSHA256 != res.Album.SHA256 || res.Track.ArtistSHA256 != res.Artist.SHA256 {
		t.Errorf("track not linked by hash to album/artist")
	}
	if res.Scrobble.URI != "at://did:plc:alice/app.rocksky.scrobble/abc" {
		t.Errorf("scrobble URI = %q", res.Scrobble.URI)
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	r := New(db, nil, nil)
	ctx := context.Background()

	first, err := r.Resolve(ctx, scrobbleEvent("did:plc:alice", "abc", basicRecord()))
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	// Redelivered commit
	second, err := r.Resolve(ctx, scrobbleEvent("did:plc:alice", "abc", basicRecord()))
	if err != nil {
		t.Fatalf("Resolve() redelivery error: %v", err)
	}

	if second.Inserted {
		t.Errorf("redelivered commit should not insert a second scrobble")
	}
	if first.Track.ID != second.Track.ID {
		t.Errorf("redelivery created a new track row")
	}

	n, err := db.CountScrobbles(ctx)
	if err != nil {
		t.Fatalf("CountScrobbles() error: %v", err)
	}
	if n != 1 {
		t.Errorf("CountScrobbles() = %d, want 1", n)
	}
}

func TestResolveIgnoresNonCreate(t *testing.T) {
	db := setupTestDB(t)
	r := New(db, nil, nil)

	ev := scrobbleEvent("did:plc:alice", "abc", basicRecord())
	ev.Commit.Operation = models.CommitOperationDelete

	res, err := r.Resolve(context.Background(), ev)
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if res != nil {
		t.Errorf("delete commit should resolve to nil, got %+v", res)
	}
}

func TestResolveRejectsIncompleteRecord(t *testing.T) {
	db := setupTestDB(t)
	r := New(db, nil, nil)

	rec := basicRecord()
	delete(rec, "artist")

	if _, err := r.Resolve(context.Background(), scrobbleEvent("did:plc:alice", "abc", rec)); err == nil {
		t.Fatalf("Resolve() should fail on a record missing identity fields")
	}
}

func TestAnchoringPublishesOnce(t *testing.T) {
	db := setupTestDB(t)
	anchorer := &stubAnchorer{}
	publisher := &stubPublisher{}
	r := New(db, anchorer, publisher)
	ctx := context.Background()

	res, err := r.Resolve(ctx, scrobbleEvent("did:plc:alice", "abc", basicRecord()))
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	if res.Track.URI == nil || res.Album.URI == nil || res.Artist.URI == nil {
		t.Fatalf("entities should be anchored: track=%v album=%v artist=%v", res.Track.URI, res.Album.URI, res.Artist.URI)
	}
	// Inline backfill wired the references straight away
	if res.Track.AlbumURI == nil || *res.Track.AlbumURI != *res.Album.URI {
		t.Errorf("track album reference = %v, want %v", res.Track.AlbumURI, res.Album.URI)
	}
	if res.Album.ArtistURI == nil || *res.Album.ArtistURI != *res.Artist.URI {
		t.Errorf("album artist reference = %v, want %v", res.Album.ArtistURI, res.Artist.URI)
	}
	if publisher.published.Load() != 1 {
		t.Errorf("published %d tracks, want 1", publisher.published.Load())
	}

	// Redelivery: entities are already anchored, nothing republished
	if _, err := r.Resolve(ctx, scrobbleEvent("did:plc:alice", "xyz", basicRecord())); err != nil {
		t.Fatalf("Resolve() second play error: %v", err)
	}
	if anchorer.tracks.Load() != 1 {
		t.Errorf("anchorer asked for track URI %d times, want 1", anchorer.tracks.Load())
	}
	if publisher.published.Load() != 1 {
		t.Errorf("published %d tracks after second play, want still 1", publisher.published.Load())
	}
}

func TestPublishFailureDoesNotFailResolve(t *testing.T) {
	db := setupTestDB(t)
	r := New(db, &stubAnchorer{}, &stubPublisher{fail: true})

	res, err := r.Resolve(context.Background(), scrobbleEvent("did:plc:alice", "abc", basicRecord()))
	if err != nil {
		t.Fatalf("Resolve() should survive a publish failure: %v", err)
	}
	if !res.Inserted {
		t.Errorf("scrobble should still be recorded")
	}
}

func TestSweepBackfillConverges(t *testing.T) {
	db := setupTestDB(t)
	r := New(db, nil, nil)
	ctx := context.Background()

	// Resolve without an anchorer: entities exist, references unset
	if _, err := r.Resolve(ctx, scrobbleEvent("did:plc:alice", "abc", basicRecord())); err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	sweep := NewSweep(db, 0, 100)

	// Nothing anchored yet: the pass has no work
	filled, err := sweep.BackfillPass(ctx)
	if err != nil {
		t.Fatalf("BackfillPass() error: %v", err)
	}
	if filled != 0 {
		t.Errorf("BackfillPass() = %d before anchoring, want 0", filled)
	}

	// Anchor out of band, as if another writer owned the records
	res, err := New(db, &stubAnchorer{}, nil).Resolve(ctx, scrobbleEvent("did:plc:bob", "xyz", basicRecord()))
	if err != nil {
		t.Fatalf("Resolve() with anchorer error: %v", err)
	}
	_ = res

	filled, err = sweep.BackfillPass(ctx)
	if err != nil {
		t.Fatalf("BackfillPass() error: %v", err)
	}
	if filled != 0 {
		// The anchoring resolve already backfilled inline; the sweep
		// must find nothing left
		t.Errorf("BackfillPass() = %d after inline backfill, want 0", filled)
	}

	// Second pass is also a no-op: convergence
	filled, err = sweep.BackfillPass(ctx)
	if err != nil {
		t.Fatalf("BackfillPass() error: %v", err)
	}
	if filled != 0 {
		t.Errorf("BackfillPass() = %d on converged data, want 0", filled)
	}
}

func TestSweepFillsReferencesAnchoredLater(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	// Entities land unanchored
	if _, err := New(db, nil, nil).Resolve(ctx, scrobbleEvent("did:plc:alice", "abc", basicRecord())); err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	track, err := db.GetTrackBySHA256(ctx, identity.TrackHash("Continuum 1", "Nala Sinephro", "Endlessness"))
	if err != nil {
		t.Fatalf("GetTrackBySHA256() error: %v", err)
	}
	if track.AlbumURI != nil || track.ArtistURI != nil {
		t.Fatalf("references should start unset")
	}

	// URIs arrive later, directly against the store
	if _, err := db.AnchorAlbumURI(ctx, track.AlbumSHA256, "at://x/app.rocksky.album/1"); err != nil {
		t.Fatalf("AnchorAlbumURI() error: %v", err)
	}
	if _, err := db.AnchorArtistURI(ctx, track.ArtistSHA256, "at://x/app.rocksky.artist/1"); err != nil {
		t.Fatalf("AnchorArtistURI() error: %v", err)
	}

	sweep := NewSweep(db, 0, 100)
	filled, err := sweep.BackfillPass(ctx)
	if err != nil {
		t.Fatalf("BackfillPass() error: %v", err)
	}
	// track.album_uri, track.artist_uri, album.artist_uri
	if filled != 3 {
		t.Errorf("BackfillPass() = %d, want 3", filled)
	}

	track, err = db.GetTrackBySHA256(ctx, track.SHA256)
	if err != nil {
		t.Fatalf("GetTrackBySHA256() error: %v", err)
	}
	if track.AlbumURI == nil || track.ArtistURI == nil {
		t.Errorf("references still unset after sweep: %+v", track)
	}
}
