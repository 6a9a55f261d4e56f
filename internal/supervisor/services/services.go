// Groovecast - Scrobble Firehose Ingestion and Real-Time Fan-Out
// Copyright 2026 Groovecast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/groovecast/groovecast

// Package services wraps Groovecast components as suture services.
//
// Each wrapper adapts one component's run loop to the
// Serve(ctx)/String() contract without the component importing suture.
package services

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/groovecast/groovecast/internal/logging"
)

// ContextRunner matches components whose run loop is Run(ctx) error.
// Satisfied by *firehose.Client, *websocket.Hub and *resolver.Sweep.
type ContextRunner interface {
	Run(ctx context.Context) error
}

// RunnerService supervises any ContextRunner under a stable name.
type RunnerService struct {
	runner ContextRunner
	name   string
}

// NewRunnerService wraps a component's run loop as a supervised service.
func NewRunnerService(name string, runner ContextRunner) *RunnerService {
	return &RunnerService{runner: runner, name: name}
}

// Serve implements suture.Service. A non-nil return (for example the
// firehose client exhausting its reconnect budget) makes the
// supervisor restart the service with a fresh budget after backoff.
func (s *RunnerService) Serve(ctx context.Context) error {
	return s.runner.Run(ctx)
}

// String implements fmt.Stringer for supervisor logging.
func (s *RunnerService) String() string {
	return s.name
}

// HTTPService runs an http.Server under supervision with graceful
// shutdown on context cancellation.
type HTTPService struct {
	server          *http.Server
	shutdownTimeout time.Duration
}

// NewHTTPService wraps an http.Server.
func NewHTTPService(server *http.Server, shutdownTimeout time.Duration) *HTTPService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPService{server: server, shutdownTimeout: shutdownTimeout}
}

// Serve implements suture.Service.
func (s *HTTPService) Serve(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		errChan <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("HTTP server shutdown incomplete")
		return err
	}
	logging.Info().Str("addr", s.server.Addr).Msg("HTTP server stopped")
	return nil
}

// String implements fmt.Stringer for supervisor logging.
func (s *HTTPService) String() string {
	return "http-server"
}
