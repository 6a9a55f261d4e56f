// Groovecast - Scrobble Firehose Ingestion and Real-Time Fan-Out
// Copyright 2026 Groovecast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/groovecast/groovecast

package resolver

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/nats-io/nats.go"

	"github.com/groovecast/groovecast/internal/keycase"
	"github.com/groovecast/groovecast/internal/logging"
	"github.com/groovecast/groovecast/internal/models"
)

// NATSPublisher broadcasts anchored tracks on a NATS subject.
// Downstream consumers speak snake_case, so keys are converted at this
// boundary, mirroring the analytics client in the other direction.
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
}

// NewNATSPublisher connects to NATS and returns a publisher.
func NewNATSPublisher(url, subject string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("groovecast-resolver"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	logging.Info().Str("url", url).Str("subject", subject).Msg("NATS publisher connected")
	return &NATSPublisher{nc: nc, subject: subject}, nil
}

// PublishTrack sends one anchored track, fire-and-forget.
func (p *NATSPublisher) PublishTrack(_ context.Context, track *models.Track) error {
	data, err := encodeTrack(track)
	if err != nil {
		return err
	}
	if err := p.nc.Publish(p.subject, data); err != nil {
		return fmt.Errorf("failed to publish track: %w", err)
	}
	return nil
}

// Close drains the connection.
func (p *NATSPublisher) Close() {
	if p.nc != nil {
		if err := p.nc.Drain(); err != nil {
			logging.Warn().Err(err).Msg("Failed to drain nats connection")
		}
	}
}

// encodeTrack renders a track as a snake_case JSON document.
func encodeTrack(track *models.Track) ([]byte, error) {
	camel, err := json.Marshal(track)
	if err != nil {
		return nil, fmt.Errorf("failed to encode track: %w", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(camel, &doc); err != nil {
		return nil, fmt.Errorf("failed to reshape track: %w", err)
	}

	data, err := json.Marshal(keycase.SnakeizeValue(doc))
	if err != nil {
		return nil, fmt.Errorf("failed to encode track document: %w", err)
	}
	return data, nil
}
