// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package lifecycle acquires and holds the engine handle for the selected
// model.
//
// A Manager moves through Idle, Downloading, Initializing, Ready and Failed.
// Only one load may be in flight; a second Load returns ErrBusy instead of
// queueing. Raw engine progress is normalized, kept non-decreasing within a
// load, and forwarded to the Observer as it arrives. Nothing is buffered
// beyond the latest sample.
//
// On Ready the manager records the model as last used and, the first time
// an id loads, marks it downloaded. Later loads of the same id are reported
// as cache restores.
//
// # Key Types
//
//   - Manager: owns the current engine.Handle
//   - State: lifecycle phase
//   - Event: a state change delivered to the Observer
//   - Observer / ObserverFuncs: presentation port
//
// # Usage
//
//	mgr := lifecycle.New(lifecycle.Config{
//	    Engine:   eng,
//	    Gateway:  gw,
//	    Observer: presenter,
//	})
//	if err := mgr.Load(ctx, catalog.DefaultModelID); err != nil {
//	    // ErrBusy, or an *engine.EngineError after the state became Failed
//	}
//	h, ok := mgr.Current()
package lifecycle
