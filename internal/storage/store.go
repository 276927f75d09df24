// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists transcripts, preferences, and model records.
package storage

import (
	"context"
	"errors"
	"time"
)

// LastUsedSlot is the fixed models-table key holding the last used model.
const LastUsedSlot = "lastUsed"

// DefaultMaxTranscripts is the default retention for stored transcripts.
const DefaultMaxTranscripts = 100

// =============================================================================
// STORE CONTRACT
// =============================================================================

// Store is the backend contract. Each operation is independently atomic.
type Store interface {
	// SaveTranscript appends a new transcript record and returns its ID.
	SaveTranscript(ctx context.Context, t *StoredTranscript) (string, error)

	// LatestTranscript returns the most recently saved transcript, or
	// ErrNotFound.
	LatestTranscript(ctx context.Context) (*StoredTranscript, error)

	// LoadTranscript returns a transcript by ID, or ErrNotFound.
	LoadTranscript(ctx context.Context, id string) (*StoredTranscript, error)

	// ListTranscripts returns metadata, newest first. limit <= 0 means all.
	ListTranscripts(ctx context.Context, limit int) ([]TranscriptMeta, error)

	// ClearTranscripts deletes every stored transcript.
	ClearTranscripts(ctx context.Context) error

	SetPreference(ctx context.Context, key, value string) error
	GetPreference(ctx context.Context, key string) (string, error)
	// DeletePreference removes a preference. Missing keys are not an error.
	DeletePreference(ctx context.Context, key string) error

	// PutModel upserts the models-table row under key.
	PutModel(ctx context.Context, key string, rec ModelRecord) error
	// GetModel returns the models-table row under key, or ErrNotFound.
	GetModel(ctx context.Context, key string) (*ModelRecord, error)

	Close() error
}

// =============================================================================
// MODEL RECORD
// =============================================================================

// ModelRecord is one row of the models table.
//
// Downloaded is a cache hint only; the engine decides whether a re-fetch
// is needed.
type ModelRecord struct {
	ModelID     string    `json:"model_id"`
	DisplayName string    `json:"display_name"`
	LastUsedAt  time.Time `json:"last_used_at"`
	Downloaded  bool      `json:"downloaded"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrNotFound is returned when a record doesn't exist.
var ErrNotFound = errors.New("not found")

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store is closed")

// PersistenceError wraps a failed store operation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return "persistence " + e.Op + ": " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsPersistenceFailure reports whether err came from a failed store operation.
func IsPersistenceFailure(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
