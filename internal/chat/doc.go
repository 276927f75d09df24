// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat owns the live conversation transcript.
//
// A Session appends the user prompt, opens a stream on the current engine
// handle and concatenates fragments into a single in-progress assistant
// message, strictly in arrival order. After every turn the transcript is
// saved through the storage gateway. Only one generation runs at a time.
//
// # Key Types
//
//   - Session: transcript owner
//   - HandleProvider: source of the ready engine handle
//   - Delta: a transcript change delivered to OnDelta
//
// # Usage
//
//	s := chat.New(chat.Config{Handles: mgr, Gateway: gw, OnDelta: render})
//	switch err := s.Generate(ctx, "Hello"); {
//	case errors.Is(err, chat.ErrNotReady), errors.Is(err, chat.ErrBusy):
//	    // nothing changed
//	case engine.IsEngineFailure(err):
//	    // partial reply kept with an inline error
//	}
package chat
