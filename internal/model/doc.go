// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for transcripts and messages.
//
// This package defines the core domain types shared by the session, storage,
// and engine packages.
//
// # Key Types
//
//   - Message: Single message with role, content, timestamp, and stream state
//   - Transcript: Ordered, append-only sequence of messages
//   - Role: Message role enumeration (system, user, assistant)
//   - Statistics: Timing information for one generation
//
// # Usage
//
// Build a transcript while a reply streams in:
//
//	t := model.NewTranscript()
//	t.AppendUser("Hello!")
//	t.BeginAssistant()
//	t.AppendToLast("Hi")
//	t.AppendToLast(" there")
//	t.FinalizeLast(stats)
//
// A transcript holds at most one in-progress assistant message, and only at
// its tail. Every earlier message is frozen.
package model
