// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/localchat/internal/engine"
	"github.com/jeranaias/localchat/internal/engine/enginetest"
	"github.com/jeranaias/localchat/internal/model"
	"github.com/jeranaias/localchat/internal/storage"
)

// =============================================================================
// HELPERS
// =============================================================================

// readyHandle is a HandleProvider whose readiness can be toggled.
type readyHandle struct {
	mu     sync.Mutex
	handle engine.Handle
}

func (r *readyHandle) Current() (engine.Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handle, r.handle != nil
}

type deltaLog struct {
	mu     sync.Mutex
	deltas []Delta
}

func (d *deltaLog) record(delta Delta) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deltas = append(d.deltas, delta)
}

func (d *deltaLog) fragments() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for _, delta := range d.deltas {
		if delta.Kind == FragmentAppended {
			out = append(out, delta.Fragment)
		}
	}
	return out
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newGateway(t *testing.T) *storage.Gateway {
	t.Helper()
	store, err := storage.OpenSQLite(storage.SQLiteConfig{Path: filepath.Join(t.TempDir(), "chat.db")})
	require.NoError(t, err)
	gw := storage.NewGateway(store, quietLogger())
	t.Cleanup(func() { gw.Close() })
	return gw
}

// loadedEngine returns a scripted engine with a loaded handle.
func loadedEngine(t *testing.T, fragments ...string) (*enginetest.Engine, *readyHandle) {
	t.Helper()
	eng := enginetest.New(fragments...)
	h, err := eng.Load(context.Background(), "model-A", nil)
	require.NoError(t, err)
	return eng, &readyHandle{handle: h}
}

func newSession(t *testing.T, handles HandleProvider, gw *storage.Gateway) (*Session, *deltaLog) {
	t.Helper()
	log := &deltaLog{}
	s := New(Config{Handles: handles, Gateway: gw, OnDelta: log.record, Logger: quietLogger()})
	return s, log
}

func roles(msgs []*model.Message) []model.Role {
	out := make([]model.Role, len(msgs))
	for i, m := range msgs {
		out[i] = m.Role
	}
	return out
}

// =============================================================================
// GENERATE
// =============================================================================

func TestGenerate_HelloHiThere(t *testing.T) {
	eng, handles := loadedEngine(t, "Hi", " there")
	gw := newGateway(t)
	s, log := newSession(t, handles, gw)
	ctx := context.Background()

	require.NoError(t, s.Generate(ctx, "Hello"))

	msgs := s.Transcript().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, "Hello", msgs[0].Content)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Hi there", msgs[1].Content)
	assert.Equal(t, 2, msgs[1].Fragments)
	assert.Empty(t, msgs[1].Error)
	assert.False(t, s.Generating())
	assert.Equal(t, []string{"Hi", " there"}, log.fragments())

	stored, err := gw.LoadMostRecentTranscript(ctx)
	require.NoError(t, err)
	require.NotNil(t, stored)
	saved := stored.Messages()
	require.Len(t, saved, 2)
	assert.Equal(t, "Hello", saved[0].Content)
	assert.Equal(t, model.RoleUser, saved[0].Role)
	assert.Equal(t, "Hi there", saved[1].Content)
	assert.Equal(t, model.RoleAssistant, saved[1].Role)

	require.Len(t, eng.Requests(), 1)
	assert.Equal(t, []engine.Message{{Role: model.RoleUser, Content: "Hello"}}, eng.Requests()[0])
}

func TestGenerate_SystemPromptNotStored(t *testing.T) {
	eng, handles := loadedEngine(t, "ok")
	gw := newGateway(t)
	s, _ := newSession(t, handles, gw)
	s.SetSystemPrompt("Be brief.")
	ctx := context.Background()

	require.NoError(t, s.Generate(ctx, "one"))
	require.NoError(t, s.Generate(ctx, "two"))

	reqs := eng.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, engine.Message{Role: model.RoleSystem, Content: "Be brief."}, reqs[1][0])
	assert.Equal(t, []engine.Message{
		{Role: model.RoleSystem, Content: "Be brief."},
		{Role: model.RoleUser, Content: "one"},
		{Role: model.RoleAssistant, Content: "ok"},
		{Role: model.RoleUser, Content: "two"},
	}, reqs[1])

	assert.Equal(t, []model.Role{model.RoleUser, model.RoleAssistant, model.RoleUser, model.RoleAssistant},
		roles(s.Transcript().Messages()))
	stored, err := gw.LoadMostRecentTranscript(ctx)
	require.NoError(t, err)
	for _, m := range stored.Messages() {
		assert.NotEqual(t, model.RoleSystem, m.Role)
	}
}

func TestGenerate_PersistenceFailureKeepsTranscript(t *testing.T) {
	_, handles := loadedEngine(t, "Hi", " there")
	gw := newGateway(t)
	require.NoError(t, gw.Close())
	s, _ := newSession(t, handles, gw)

	require.NoError(t, s.Generate(context.Background(), "Hello"))

	msgs := s.Transcript().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, []model.Role{model.RoleUser, model.RoleAssistant}, roles(msgs))
	assert.Equal(t, "Hello", msgs[0].Content)
	assert.Equal(t, "Hi there", msgs[1].Content)
	assert.False(t, msgs[1].InProgress)
	assert.Empty(t, msgs[1].Error)
	assert.False(t, s.Generating())
}

func TestGenerate_LongConversationIsStoredInFull(t *testing.T) {
	_, handles := loadedEngine(t, "ok")
	store, err := storage.OpenSQLite(storage.SQLiteConfig{
		Path:           filepath.Join(t.TempDir(), "chat.db"),
		MaxTranscripts: 1,
	})
	require.NoError(t, err)
	gw := storage.NewGateway(store, quietLogger())
	t.Cleanup(func() { gw.Close() })
	s, _ := newSession(t, handles, gw)
	ctx := context.Background()

	const turns = 501
	for i := 0; i < turns; i++ {
		require.NoError(t, s.Generate(ctx, fmt.Sprintf("p%d", i)))
	}
	assert.Equal(t, 2*turns, s.Transcript().Len())

	stored, err := gw.LoadMostRecentTranscript(ctx)
	require.NoError(t, err)
	require.NotNil(t, stored)
	saved := stored.Messages()
	require.Len(t, saved, 2*turns)
	assert.Equal(t, "p0", saved[0].Content)
	assert.Equal(t, model.RoleUser, saved[0].Role)
	assert.Equal(t, fmt.Sprintf("p%d", turns-1), saved[2*turns-2].Content)
	assert.Equal(t, "ok", saved[2*turns-1].Content)
}

func TestGenerate_NotReady(t *testing.T) {
	eng := enginetest.New("never")
	gw := newGateway(t)
	s, log := newSession(t, &readyHandle{}, gw)

	err := s.Generate(context.Background(), "Hello")
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Equal(t, 0, s.Transcript().Len())
	assert.Empty(t, eng.Requests())
	assert.Empty(t, log.deltas)

	stored, err := gw.LoadMostRecentTranscript(context.Background())
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestGenerate_Busy(t *testing.T) {
	eng := enginetest.New("slow")
	eng.StreamGate = make(chan struct{})
	h, err := eng.Load(context.Background(), "model-A", nil)
	require.NoError(t, err)
	s, _ := newSession(t, &readyHandle{handle: h}, newGateway(t))
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- s.Generate(ctx, "first") }()
	require.Eventually(t, func() bool { return s.Transcript().Len() == 2 }, time.Second, time.Millisecond)

	before := s.Transcript().Messages()
	assert.ErrorIs(t, s.Generate(ctx, "second"), ErrBusy)
	assert.ErrorIs(t, s.ClearHistory(ctx), ErrBusy)
	after := s.Transcript().Messages()
	assert.Equal(t, len(before), len(after))
	assert.Equal(t, []model.Role{model.RoleUser, model.RoleAssistant}, roles(after))

	close(eng.StreamGate)
	require.NoError(t, <-done)
	msgs := s.Transcript().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "slow", msgs[1].Content)
	assert.Len(t, eng.Requests(), 1)
}

func TestGenerate_StreamErrorKeepsPartial(t *testing.T) {
	eng := enginetest.New("Hi", " th")
	eng.StreamErr = errors.New("device lost")
	h, err := eng.Load(context.Background(), "model-A", nil)
	require.NoError(t, err)
	gw := newGateway(t)
	s, _ := newSession(t, &readyHandle{handle: h}, gw)
	ctx := context.Background()

	err = s.Generate(ctx, "Hello")
	require.Error(t, err)
	assert.True(t, engine.IsEngineFailure(err))

	msgs := s.Transcript().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hi th", msgs[1].Content)
	assert.Contains(t, msgs[1].Error, "device lost")
	assert.False(t, s.Transcript().InProgress())

	stored, err := gw.LoadMostRecentTranscript(ctx)
	require.NoError(t, err)
	saved := stored.Messages()
	require.Len(t, saved, 2)
	assert.Equal(t, "Hi th", saved[1].Content)
	assert.Contains(t, saved[1].Error, "device lost")

	// The session remains usable.
	eng.StreamErr = nil
	require.NoError(t, s.Generate(ctx, "again"))
	assert.Equal(t, 4, s.Transcript().Len())
}

func TestGenerate_OpenFailure(t *testing.T) {
	eng, handles := loadedEngine(t)
	eng.FailGenerate(errors.New("context window exceeded"))
	s, _ := newSession(t, handles, newGateway(t))

	err := s.Generate(context.Background(), "Hello")
	require.Error(t, err)
	assert.True(t, engine.IsEngineFailure(err))

	msgs := s.Transcript().Messages()
	require.Len(t, msgs, 2)
	assert.Empty(t, msgs[1].Content)
	assert.Contains(t, msgs[1].Error, "context window exceeded")
}

func TestGenerate_CancelKeepsPartial(t *testing.T) {
	eng := enginetest.New("never")
	eng.StreamGate = make(chan struct{})
	h, err := eng.Load(context.Background(), "model-A", nil)
	require.NoError(t, err)
	gw := newGateway(t)
	s, _ := newSession(t, &readyHandle{handle: h}, gw)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Generate(ctx, "Hello") }()
	require.Eventually(t, func() bool { return s.Transcript().Len() == 2 }, time.Second, time.Millisecond)
	cancel()

	err = <-done
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, s.Generating())

	stored, err := gw.LoadMostRecentTranscript(context.Background())
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 2, stored.Len())
}

func TestRetry(t *testing.T) {
	eng, handles := loadedEngine(t, "reply")
	s, _ := newSession(t, handles, newGateway(t))
	ctx := context.Background()

	assert.ErrorIs(t, s.Retry(ctx), ErrNothingToRetry)
	require.NoError(t, s.Generate(ctx, "Hello"))
	require.NoError(t, s.Retry(ctx))

	reqs := eng.Requests()
	require.Len(t, reqs, 2)
	last := reqs[1][len(reqs[1])-1]
	assert.Equal(t, engine.Message{Role: model.RoleUser, Content: "Hello"}, last)
}

// =============================================================================
// HISTORY
// =============================================================================

func TestClearHistory_DeletesStoredTranscripts(t *testing.T) {
	_, handles := loadedEngine(t, "Hi")
	gw := newGateway(t)
	s, _ := newSession(t, handles, gw)
	ctx := context.Background()

	require.NoError(t, s.Generate(ctx, "Hello"))
	require.NoError(t, s.ClearHistory(ctx))

	assert.Equal(t, 0, s.Transcript().Len())
	stored, err := gw.LoadMostRecentTranscript(ctx)
	require.NoError(t, err)
	assert.Nil(t, stored)

	// A new session has nothing to restore.
	fresh, _ := newSession(t, handles, gw)
	restored, err := fresh.Restore(ctx)
	require.NoError(t, err)
	assert.False(t, restored)
}

func TestRestore(t *testing.T) {
	_, handles := loadedEngine(t, "Hi", " there")
	gw := newGateway(t)
	ctx := context.Background()

	first, _ := newSession(t, handles, gw)
	require.NoError(t, first.Generate(ctx, "Hello"))

	second, log := newSession(t, &readyHandle{}, gw)
	restored, err := second.Restore(ctx)
	require.NoError(t, err)
	assert.True(t, restored)
	msgs := second.Transcript().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hi there", msgs[1].Content)
	require.Len(t, log.deltas, 1)
	assert.Equal(t, TranscriptReset, log.deltas[0].Kind)

	prompt, ok := second.LastPrompt()
	assert.True(t, ok)
	assert.Equal(t, "Hello", prompt)
}

func TestRestore_KeepsNonEmptyTranscript(t *testing.T) {
	_, handles := loadedEngine(t, "Hi")
	gw := newGateway(t)
	ctx := context.Background()

	s, _ := newSession(t, handles, gw)
	require.NoError(t, s.Generate(ctx, "Hello"))
	require.NoError(t, s.Generate(ctx, "More"))

	restored, err := s.Restore(ctx)
	require.NoError(t, err)
	assert.False(t, restored)
	assert.Equal(t, 4, s.Transcript().Len())
}
