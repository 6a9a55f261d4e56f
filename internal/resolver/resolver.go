// Groovecast - Scrobble Firehose Ingestion and Real-Time Fan-Out
// Copyright 2026 Groovecast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/groovecast/groovecast

// Package resolver turns firehose scrobble commits into durable rows.
//
// Resolution is idempotent end to end: entities dedupe on identity
// hash, scrobbles dedupe on record URI, and reference backfill writes
// are conditional on the target still being unset. Replaying a commit
// is always safe.
package resolver

import (
	"context"
	"fmt"

	"github.com/groovecast/groovecast/internal/database"
	"github.com/groovecast/groovecast/internal/identity"
	"github.com/groovecast/groovecast/internal/logging"
	"github.com/groovecast/groovecast/internal/models"
)

// Anchorer assigns record-store URIs to newly observed entities.
// Implementations talk to whatever system owns the canonical records;
// a nil Anchorer leaves entities unanchored until the backfill sweep
// finds URIs from another source.
type Anchorer interface {
	TrackURI(ctx context.Context, track *models.Track) (string, error)
	AlbumURI(ctx context.Context, album *models.Album) (string, error)
	ArtistURI(ctx context.Context, artist *models.Artist) (string, error)
}

// Publisher broadcasts freshly anchored tracks to downstream consumers.
type Publisher interface {
	PublishTrack(ctx context.Context, track *models.Track) error
}

// Resolution is the durable outcome of one commit.
type Resolution struct {
	Play     *models.Play
	User     *models.User
	Artist   *models.Artist
	Album    *models.Album
	Track    *models.Track
	Scrobble *models.Scrobble
	// Inserted is false when the commit was a redelivery and the
	// scrobble row already existed.
	Inserted bool
}

// Resolver resolves commits against the store. Anchorer and Publisher
// are optional.
type Resolver struct {
	db        *database.DB
	anchorer  Anchorer
	publisher Publisher
}

// New creates a resolver. anchorer and publisher may be nil.
func New(db *database.DB, anchorer Anchorer, publisher Publisher) *Resolver {
	return &Resolver{db: db, anchorer: anchorer, publisher: publisher}
}

// Resolve processes one firehose commit: decode, upsert the entity
// chain, anchor what can be anchored, backfill references that are
// already resolvable, and record the play.
//
// Only create operations are resolved; updates and deletes of scrobble
// records are ignored, matching the append-only nature of plays.
func (r *Resolver) Resolve(ctx context.Context, event *models.FirehoseEvent) (*Resolution, error) {
	if !event.IsCommit() {
		return nil, fmt.Errorf("event is not a commit")
	}
	if event.Commit.Operation != models.CommitOperationCreate {
		logging.Debug().
			Str("operation", event.Commit.Operation).
			Str("uri", event.URI()).
			Msg("Ignoring non-create commit")
		return nil, nil
	}

	play, err := models.PlayFromRecord(event.DID, event.URI(), event.Commit.Record)
	if err != nil {
		return nil, fmt.Errorf("failed to decode play: %w", err)
	}

	user, err := r.db.UpsertUserByDID(ctx, play.DID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user: %w", err)
	}

	artist, album, track, err := r.resolveEntities(ctx, play)
	if err != nil {
		return nil, err
	}

	scrobble := &models.Scrobble{
		URI:       play.URI,
		UserID:    user.ID,
		TrackID:   track.ID,
		AlbumID:   album.ID,
		ArtistID:  artist.ID,
		CreatedAt: play.PlayedAt,
	}
	inserted, err := r.db.InsertScrobble(ctx, scrobble)
	if err != nil {
		return nil, fmt.Errorf("failed to record scrobble: %w", err)
	}
	if !inserted {
		logging.Debug().Str("uri", play.URI).Msg("Duplicate scrobble dropped")
	}

	return &Resolution{
		Play:     play,
		User:     user,
		Artist:   artist,
		Album:    album,
		Track:    track,
		Scrobble: scrobble,
		Inserted: inserted,
	}, nil
}

// resolveEntities upserts the artist, album and track for a play and
// performs the anchoring and inline backfill that is possible right now.
func (r *Resolver) resolveEntities(ctx context.Context, play *models.Play) (*models.Artist, *models.Album, *models.Track, error) {
	artistSHA := identity.ArtistHash(play.AlbumArtist)
	albumSHA := identity.AlbumHash(play.Album, play.AlbumArtist)
	trackSHA := identity.TrackHash(play.Title, play.Artist, play.Album)

	artist, err := r.db.UpsertArtist(ctx, &models.Artist{
		SHA256: artistSHA,
		Name:   play.AlbumArtist,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to resolve artist: %w", err)
	}

	album, err := r.db.UpsertAlbum(ctx, &models.Album{
		SHA256:       albumSHA,
		Title:        play.Album,
		Artist:       play.AlbumArtist,
		ArtistSHA256: artistSHA,
		AlbumArt:     optional(play.AlbumArt),
		Year:         optionalInt(play.Year),
		ReleaseDate:  optional(play.ReleaseDate),
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to resolve album: %w", err)
	}

	track, err := r.db.UpsertTrack(ctx, &models.Track{
		SHA256:       trackSHA,
		Title:        play.Title,
		Artist:       play.Artist,
		Album:        play.Album,
		AlbumArtist:  play.AlbumArtist,
		AlbumSHA256:  albumSHA,
		ArtistSHA256: artistSHA,
		Duration:     optionalInt(play.Duration),
		TrackNumber:  optionalInt(play.TrackNumber),
		AlbumArt:     optional(play.AlbumArt),
		SpotifyLink:  optional(play.SpotifyLink),
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to resolve track: %w", err)
	}

	artist, album, track, err = r.anchor(ctx, artist, album, track)
	if err != nil {
		return nil, nil, nil, err
	}

	if err := r.backfillInline(ctx, artist, album, track); err != nil {
		return nil, nil, nil, err
	}

	return artist, album, track, nil
}

// anchor assigns URIs to any of the three entities that lack one, when
// an Anchorer is configured. A track that just received its URI is
// published downstream.
func (r *Resolver) anchor(ctx context.Context, artist *models.Artist, album *models.Album, track *models.Track) (*models.Artist, *models.Album, *models.Track, error) {
	if r.anchorer == nil {
		return artist, album, track, nil
	}

	if artist.URI == nil {
		uri, err := r.anchorer.ArtistURI(ctx, artist)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to anchor artist: %w", err)
		}
		if _, err := r.db.AnchorArtistURI(ctx, artist.SHA256, uri); err != nil {
			return nil, nil, nil, err
		}
		if artist, err = r.db.GetArtistBySHA256(ctx, artist.SHA256); err != nil {
			return nil, nil, nil, err
		}
	}

	if album.URI == nil {
		uri, err := r.anchorer.AlbumURI(ctx, album)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to anchor album: %w", err)
		}
		if _, err := r.db.AnchorAlbumURI(ctx, album.SHA256, uri); err != nil {
			return nil, nil, nil, err
		}
		if album, err = r.db.GetAlbumBySHA256(ctx, album.SHA256); err != nil {
			return nil, nil, nil, err
		}
	}

	if track.URI == nil {
		uri, err := r.anchorer.TrackURI(ctx, track)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to anchor track: %w", err)
		}
		anchored, err := r.db.AnchorTrackURI(ctx, track.SHA256, uri)
		if err != nil {
			return nil, nil, nil, err
		}
		if track, err = r.db.GetTrackBySHA256(ctx, track.SHA256); err != nil {
			return nil, nil, nil, err
		}
		if anchored && r.publisher != nil {
			if err := r.publisher.PublishTrack(ctx, track); err != nil {
				// Publication is best-effort; the row is durable either way
				logging.Warn().Err(err).Str("sha256", track.SHA256).Msg("Failed to publish anchored track")
			}
		}
	}

	return artist, album, track, nil
}

// backfillInline fills cross-references that are resolvable from the
// rows already in hand, without waiting for the periodic sweep.
func (r *Resolver) backfillInline(ctx context.Context, artist *models.Artist, album *models.Album, track *models.Track) error {
	if album.URI != nil && track.AlbumURI == nil {
		if _, err := r.db.SetTrackAlbumURI(ctx, track.ID, *album.URI); err != nil {
			return err
		}
		track.AlbumURI = album.URI
	}
	if artist.URI != nil && track.ArtistURI == nil {
		if _, err := r.db.SetTrackArtistURI(ctx, track.ID, *artist.URI); err != nil {
			return err
		}
		track.ArtistURI = artist.URI
	}
	if artist.URI != nil && album.ArtistURI == nil {
		if _, err := r.db.SetAlbumArtistURI(ctx, album.ID, *artist.URI); err != nil {
			return err
		}
		album.ArtistURI = artist.URI
	}
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optionalInt(n int) *int {
	if n == 0 {
		return nil
	}
	return &n
}
