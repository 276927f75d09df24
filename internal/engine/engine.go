// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jeranaias/localchat/internal/model"
)

// =============================================================================
// INTERFACES
// =============================================================================

// Message is one entry of the outbound conversation sent to a model.
type Message struct {
	Role    model.Role
	Content string
}

// ProgressFunc receives raw progress notifications in the order the engine
// emits them. It is called on the goroutine running Load.
type ProgressFunc func(raw any)

// Engine acquires models.
type Engine interface {
	// Load downloads or restores modelID and returns a ready handle.
	// onProgress may be nil.
	Load(ctx context.Context, modelID string, onProgress ProgressFunc) (Handle, error)
}

// Handle is a loaded model.
type Handle interface {
	ModelID() string

	// Generate opens a token stream for msgs. The caller must Close it.
	Generate(ctx context.Context, msgs []Message) (Stream, error)

	// Close releases the model. Streams already open may keep running.
	Close() error
}

// Stream is a pull-based sequence of fragments. Recv returns io.EOF after
// the last fragment; any other error ends the stream.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// =============================================================================
// ERRORS
// =============================================================================

// EngineError reports a failed call into the engine.
type EngineError struct {
	Op      string // "load" or "generate"
	ModelID string
	Err     error
}

func (e *EngineError) Error() string {
	if e.ModelID == "" {
		return fmt.Sprintf("engine %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("engine %s %s: %v", e.Op, e.ModelID, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// Wrap returns err as an *EngineError unless it already is one.
func Wrap(op, modelID string, err error) error {
	if err == nil {
		return nil
	}
	var ee *EngineError
	if errors.As(err, &ee) {
		return err
	}
	return &EngineError{Op: op, ModelID: modelID, Err: err}
}

// IsEngineFailure reports whether err came from the engine.
func IsEngineFailure(err error) bool {
	var ee *EngineError
	return errors.As(err, &ee)
}

// =============================================================================
// HELPERS
// =============================================================================

// Collect drains s and returns the concatenated fragments. The content
// received before an error is returned alongside it.
func Collect(s Stream) (string, error) {
	defer s.Close()
	var b strings.Builder
	for {
		frag, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return b.String(), err
		}
		b.WriteString(frag)
	}
}
