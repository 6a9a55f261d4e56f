// Groovecast - Scrobble Firehose Ingestion and Real-Time Fan-Out
// Copyright 2026 Groovecast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/groovecast/groovecast

package models

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Firehose event kinds.
const (
	FirehoseKindCommit   = "commit"
	FirehoseKindIdentity = "identity"
	FirehoseKindAccount  = "account"
)

// Commit operations.
const (
	CommitOperationCreate = "create"
	CommitOperationUpdate = "update"
	CommitOperationDelete = "delete"
)

// FirehoseEvent is one message from the upstream append-only firehose.
// TimeUS doubles as the resumption cursor: it is monotonically increasing
// and is supplied back to the upstream on reconnect.
type FirehoseEvent struct {
	DID    string       `json:"did"`
	TimeUS int64        `json:"time_us"`
	Kind   string       `json:"kind"`
	Commit *CommitEvent `json:"commit,omitempty"`
}

// CommitEvent is the payload of a kind="commit" firehose event: one
// create/update/delete of one record in one collection, owned by one DID.
type CommitEvent struct {
	Rev        string          `json:"rev,omitempty"`
	Operation  string          `json:"operation"`
	Collection string          `json:"collection"`
	RKey       string          `json:"rkey"`
	Record     json.RawMessage `json:"record,omitempty"`
	CID        string          `json:"cid,omitempty"`
}

// IsCommit reports whether the event carries a commit payload.
func (e *FirehoseEvent) IsCommit() bool {
	return e.Kind == FirehoseKindCommit && e.Commit != nil
}

// URI returns the at:// address of the record the commit refers to.
func (e *FirehoseEvent) URI() string {
	if e.Commit == nil {
		return ""
	}
	return fmt.Sprintf("at://%s/%s/%s", e.DID, e.Commit.Collection, e.Commit.RKey)
}
