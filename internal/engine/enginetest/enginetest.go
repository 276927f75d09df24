// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package enginetest provides a scriptable in-memory engine for tests.
package enginetest

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/jeranaias/localchat/internal/engine"
)

// Engine is a scripted engine.Engine. Configure the exported fields before
// the first Load; they are read without locking.
type Engine struct {
	// Progress is emitted, in order, on every successful Load.
	Progress []any

	// Reply is streamed by every handle's Generate.
	Reply []string

	// StreamErr ends each stream after Reply instead of io.EOF.
	StreamErr error

	// LoadGate, when set, blocks Load until it is closed or ctx ends.
	LoadGate chan struct{}

	// StreamGate, when set, blocks the first Recv until it is closed or
	// ctx ends.
	StreamGate chan struct{}

	mu       sync.Mutex
	failNext []error
	genErr   error
	loads    []string
	requests [][]engine.Message
}

// New returns an engine that replies with fragments.
func New(fragments ...string) *Engine {
	return &Engine{Reply: fragments}
}

// FailNext queues err as the result of the next Load.
func (e *Engine) FailNext(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failNext = append(e.failNext, err)
}

// FailGenerate makes Generate return err until it is reset with nil.
func (e *Engine) FailGenerate(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.genErr = err
}

// Loads returns the model ids passed to Load.
func (e *Engine) Loads() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.loads...)
}

// Requests returns the message lists passed to Generate.
func (e *Engine) Requests() [][]engine.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([][]engine.Message, len(e.requests))
	for i, r := range e.requests {
		out[i] = append([]engine.Message(nil), r...)
	}
	return out
}

// Load implements engine.Engine.
func (e *Engine) Load(ctx context.Context, modelID string, onProgress engine.ProgressFunc) (engine.Handle, error) {
	e.mu.Lock()
	e.loads = append(e.loads, modelID)
	var fail error
	if len(e.failNext) > 0 {
		fail = e.failNext[0]
		e.failNext = e.failNext[1:]
	}
	e.mu.Unlock()

	if e.LoadGate != nil {
		select {
		case <-e.LoadGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail != nil {
		return nil, fail
	}
	for _, p := range e.Progress {
		if onProgress != nil {
			onProgress(p)
		}
	}
	return &Handle{engine: e, id: modelID}, nil
}

// =============================================================================
// HANDLE
// =============================================================================

// Handle is the engine.Handle returned by Engine.Load.
type Handle struct {
	engine *Engine
	id     string
	closed atomic.Bool
}

func (h *Handle) ModelID() string { return h.id }

// Closed reports whether Close was called.
func (h *Handle) Closed() bool { return h.closed.Load() }

func (h *Handle) Close() error {
	h.closed.Store(true)
	return nil
}

// Generate implements engine.Handle.
func (h *Handle) Generate(ctx context.Context, msgs []engine.Message) (engine.Stream, error) {
	e := h.engine
	e.mu.Lock()
	e.requests = append(e.requests, append([]engine.Message(nil), msgs...))
	genErr := e.genErr
	e.mu.Unlock()
	if genErr != nil {
		return nil, genErr
	}
	s := NewStream(ctx, e.Reply, e.StreamErr)
	s.gate = e.StreamGate
	return s, nil
}

// =============================================================================
// STREAM
// =============================================================================

// Stream replays a fixed list of fragments.
type Stream struct {
	ctx       context.Context
	fragments []string
	err       error
	gate      chan struct{}
	pos       int
	closed    bool
}

// NewStream returns a stream of fragments ending in err, or io.EOF when err
// is nil. Recv fails with ctx.Err() once ctx is done.
func NewStream(ctx context.Context, fragments []string, err error) *Stream {
	return &Stream{ctx: ctx, fragments: fragments, err: err}
}

// Recv implements engine.Stream.
func (s *Stream) Recv() (string, error) {
	if s.gate != nil {
		select {
		case <-s.gate:
			s.gate = nil
		case <-s.ctx.Done():
			return "", s.ctx.Err()
		}
	}
	if err := s.ctx.Err(); err != nil {
		return "", err
	}
	if s.closed {
		return "", io.EOF
	}
	if s.pos < len(s.fragments) {
		f := s.fragments[s.pos]
		s.pos++
		return f, nil
	}
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

// Close implements engine.Stream.
func (s *Stream) Close() error {
	s.closed = true
	return nil
}
