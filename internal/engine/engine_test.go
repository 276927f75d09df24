// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/localchat/internal/engine"
	"github.com/jeranaias/localchat/internal/engine/enginetest"
	"github.com/jeranaias/localchat/internal/model"
)

func TestWrap(t *testing.T) {
	assert.Nil(t, engine.Wrap("load", "m", nil))

	base := errors.New("out of memory")
	err := engine.Wrap("load", "m", base)
	assert.True(t, engine.IsEngineFailure(err))
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "engine load m: out of memory", err.Error())

	// Already wrapped errors keep their original op.
	again := engine.Wrap("generate", "m", err)
	var ee *engine.EngineError
	require.ErrorAs(t, again, &ee)
	assert.Equal(t, "load", ee.Op)
}

func TestEngineError_NoModel(t *testing.T) {
	err := &engine.EngineError{Op: "generate", Err: errors.New("boom")}
	assert.Equal(t, "engine generate: boom", err.Error())
	assert.False(t, engine.IsEngineFailure(errors.New("plain")))
}

func TestCollect(t *testing.T) {
	ctx := context.Background()

	out, err := engine.Collect(enginetest.NewStream(ctx, []string{"Hi", " there"}, nil))
	require.NoError(t, err)
	assert.Equal(t, "Hi there", out)

	broken := errors.New("connection reset")
	out, err = engine.Collect(enginetest.NewStream(ctx, []string{"Hi"}, broken))
	assert.ErrorIs(t, err, broken)
	assert.Equal(t, "Hi", out)
}

func TestScriptedEngine(t *testing.T) {
	ctx := context.Background()
	e := enginetest.New("a", "b")
	e.Progress = []any{0.5, 1.0}

	var seen []any
	h, err := e.Load(ctx, "m1", func(raw any) { seen = append(seen, raw) })
	require.NoError(t, err)
	assert.Equal(t, []any{0.5, 1.0}, seen)
	assert.Equal(t, "m1", h.ModelID())

	msgs := []engine.Message{{Role: model.RoleUser, Content: "hello"}}
	s, err := h.Generate(ctx, msgs)
	require.NoError(t, err)
	out, err := engine.Collect(s)
	require.NoError(t, err)
	assert.Equal(t, "ab", out)
	assert.Equal(t, [][]engine.Message{msgs}, e.Requests())

	e.FailNext(errors.New("nope"))
	_, err = e.Load(ctx, "m2", nil)
	assert.Error(t, err)
	assert.Equal(t, []string{"m1", "m2"}, e.Loads())
}

func TestScriptedEngine_LoadGateHonoursContext(t *testing.T) {
	e := enginetest.New()
	e.LoadGate = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Load(ctx, "m", nil)
	assert.ErrorIs(t, err, context.Canceled)
}
