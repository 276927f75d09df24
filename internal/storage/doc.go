// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists transcripts, preferences, and model records.
//
// Three logical tables are kept by every backend: transcripts (append-only,
// newest wins on restore), preferences (key to value), and models (one row
// per model id plus a fixed last-used slot).
//
// # Key Types
//
//   - Store: Backend contract implemented by SQLiteStore and BadgerStore
//   - Gateway: Best-effort wrapper used by the session and lifecycle manager
//   - StoredTranscript: Persisted form of a transcript
//   - ModelRecord: Persisted model choice with its downloaded hint
//   - PersistenceError: Typed error for any failed store operation
//
// # Usage
//
// Open a backend and wrap it:
//
//	store, err := storage.OpenSQLite(storage.SQLiteConfig{Path: path})
//	if err != nil {
//	    return err
//	}
//	gw := storage.NewGateway(store, logger)
//	id, err := gw.SaveTranscript(ctx, transcript, "Qwen2.5-1.5B-Instruct-q4f32_1-MLC")
//
// Gateway failures are logged and returned, but never leave in-memory state
// inconsistent. Callers may ignore them.
package storage
