// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package lifecycle

import (
	"time"

	"github.com/jeranaias/localchat/internal/progress"
)

// State is the lifecycle phase of the selected model.
type State int

const (
	Idle State = iota
	Downloading
	Initializing
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Downloading:
		return "downloading"
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Loading reports whether a load is in flight.
func (s State) Loading() bool {
	return s == Downloading || s == Initializing
}

// allStates lists the metric label values of every state.
var allStates = []string{
	Idle.String(),
	Downloading.String(),
	Initializing.String(),
	Ready.String(),
	Failed.String(),
}

// =============================================================================
// OBSERVER
// =============================================================================

// Event describes a state change.
type Event struct {
	ModelID     string
	DisplayName string
	State       State

	// Err is set when State is Failed.
	Err error

	// CacheRestore is set on Ready when the model was already downloaded.
	CacheRestore bool

	// Elapsed is the time since the load started.
	Elapsed time.Duration
}

// Observer receives lifecycle notifications. Calls are made synchronously
// on the goroutine running Load, in the order the engine reports progress.
type Observer interface {
	StateChanged(ev Event)
	Progress(modelID string, s progress.Sample)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	OnState    func(ev Event)
	OnProgress func(modelID string, s progress.Sample)
}

func (o ObserverFuncs) StateChanged(ev Event) {
	if o.OnState != nil {
		o.OnState(ev)
	}
}

func (o ObserverFuncs) Progress(modelID string, s progress.Sample) {
	if o.OnProgress != nil {
		o.OnProgress(modelID, s)
	}
}
