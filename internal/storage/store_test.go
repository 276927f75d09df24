// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// BACKEND CONTRACT
// =============================================================================

type storeFactory func(t *testing.T, maxTranscripts int) Store

func openSQLiteForTest(t *testing.T, maxTranscripts int) Store {
	t.Helper()
	s, err := OpenSQLite(SQLiteConfig{
		Path:           filepath.Join(t.TempDir(), "localchat.db"),
		MaxTranscripts: maxTranscripts,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func openBadgerForTest(t *testing.T, maxTranscripts int) Store {
	t.Helper()
	s, err := OpenBadger(BadgerConfig{InMemory: true, MaxTranscripts: maxTranscripts})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStores(t *testing.T) {
	backends := map[string]storeFactory{
		"sqlite": openSQLiteForTest,
		"badger": openBadgerForTest,
	}
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			t.Run("LatestEmpty", func(t *testing.T) { testLatestEmpty(t, open(t, 0)) })
			t.Run("SaveAndLatest", func(t *testing.T) { testSaveAndLatest(t, open(t, 0)) })
			t.Run("LoadByID", func(t *testing.T) { testLoadByID(t, open(t, 0)) })
			t.Run("ListNewestFirst", func(t *testing.T) { testListNewestFirst(t, open(t, 0)) })
			t.Run("Retention", func(t *testing.T) { testRetention(t, open(t, 3)) })
			t.Run("Clear", func(t *testing.T) { testClear(t, open(t, 0)) })
			t.Run("Preferences", func(t *testing.T) { testPreferences(t, open(t, 0)) })
			t.Run("Models", func(t *testing.T) { testModels(t, open(t, 0)) })
		})
	}
}

func transcriptWith(contents ...string) *StoredTranscript {
	st := &StoredTranscript{Model: "m"}
	for i, c := range contents {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		st.Messages = append(st.Messages, StoredMessage{
			ID: fmt.Sprintf("msg_%d", i), Role: role, Content: c, Timestamp: time.Now(),
		})
	}
	return st
}

func testLatestEmpty(t *testing.T, s Store) {
	_, err := s.LatestTranscript(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func testSaveAndLatest(t *testing.T, s Store) {
	ctx := context.Background()

	id1, err := s.SaveTranscript(ctx, transcriptWith("first"))
	require.NoError(t, err)
	id2, err := s.SaveTranscript(ctx, transcriptWith("second", "reply"))
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)
	assert.True(t, strings.HasPrefix(id2, "tr_"))

	latest, err := s.LatestTranscript(ctx)
	require.NoError(t, err)
	assert.Equal(t, id2, latest.ID)
	require.Len(t, latest.Messages, 2)
	assert.Equal(t, "second", latest.Messages[0].Content)
	assert.Equal(t, "reply", latest.Messages[1].Content)
	assert.Equal(t, "second", latest.Summary)
	assert.False(t, latest.SavedAt.IsZero())
}

func testLoadByID(t *testing.T, s Store) {
	ctx := context.Background()

	id, err := s.SaveTranscript(ctx, transcriptWith("keep me"))
	require.NoError(t, err)
	s.SaveTranscript(ctx, transcriptWith("newer"))

	got, err := s.LoadTranscript(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "keep me", got.Messages[0].Content)

	_, err = s.LoadTranscript(ctx, "tr_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func testListNewestFirst(t *testing.T, s Store) {
	ctx := context.Background()
	for _, c := range []string{"a", "b", "c"} {
		_, err := s.SaveTranscript(ctx, transcriptWith(c))
		require.NoError(t, err)
	}

	metas, err := s.ListTranscripts(ctx, 0)
	require.NoError(t, err)
	require.Len(t, metas, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{metas[0].Preview, metas[1].Preview, metas[2].Preview})
	assert.Equal(t, 1, metas[0].MessageCount)

	limited, err := s.ListTranscripts(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func testRetention(t *testing.T, s Store) {
	ctx := context.Background()
	var ids []string
	for i := 0; i < 5; i++ {
		id, err := s.SaveTranscript(ctx, transcriptWith(fmt.Sprintf("t%d", i)))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	metas, err := s.ListTranscripts(ctx, 0)
	require.NoError(t, err)
	require.Len(t, metas, 3)
	assert.Equal(t, ids[4], metas[0].ID)

	_, err = s.LoadTranscript(ctx, ids[0])
	assert.ErrorIs(t, err, ErrNotFound)
}

func testClear(t *testing.T, s Store) {
	ctx := context.Background()
	s.SaveTranscript(ctx, transcriptWith("x"))
	require.NoError(t, s.SetPreference(ctx, "k", "v"))

	require.NoError(t, s.ClearTranscripts(ctx))

	_, err := s.LatestTranscript(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	v, err := s.GetPreference(ctx, "k")
	require.NoError(t, err, "clearing transcripts must not touch preferences")
	assert.Equal(t, "v", v)

	_, err = s.SaveTranscript(ctx, transcriptWith("after clear"))
	require.NoError(t, err)
	latest, err := s.LatestTranscript(ctx)
	require.NoError(t, err)
	assert.Equal(t, "after clear", latest.Messages[0].Content)
}

func testPreferences(t *testing.T, s Store) {
	ctx := context.Background()

	_, err := s.GetPreference(ctx, "system_prompt")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SetPreference(ctx, "system_prompt", "be brief"))
	require.NoError(t, s.SetPreference(ctx, "system_prompt", "be kind"))

	v, err := s.GetPreference(ctx, "system_prompt")
	require.NoError(t, err)
	assert.Equal(t, "be kind", v)

	require.NoError(t, s.DeletePreference(ctx, "system_prompt"))
	_, err = s.GetPreference(ctx, "system_prompt")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, s.DeletePreference(ctx, "missing"))
}

func testModels(t *testing.T, s Store) {
	ctx := context.Background()

	_, err := s.GetModel(ctx, LastUsedSlot)
	assert.ErrorIs(t, err, ErrNotFound)

	used := time.Now().Truncate(time.Millisecond)
	rec := ModelRecord{ModelID: "a", DisplayName: "Model A", LastUsedAt: used, Downloaded: true}
	require.NoError(t, s.PutModel(ctx, "a", rec))

	got, err := s.GetModel(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", got.ModelID)
	assert.Equal(t, "Model A", got.DisplayName)
	assert.True(t, got.Downloaded)
	assert.True(t, used.Equal(got.LastUsedAt))

	rec.Downloaded = false
	require.NoError(t, s.PutModel(ctx, "a", rec))
	got, err = s.GetModel(ctx, "a")
	require.NoError(t, err)
	assert.False(t, got.Downloaded)
}

// =============================================================================
// BACKEND-SPECIFIC
// =============================================================================

func TestSQLiteStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "chat.db")
	ctx := context.Background()

	s, err := OpenSQLite(SQLiteConfig{Path: path})
	require.NoError(t, err)
	id, err := s.SaveTranscript(ctx, transcriptWith("persisted"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.LatestTranscript(ctx)
	assert.ErrorIs(t, err, ErrClosed)

	s2, err := OpenSQLite(SQLiteConfig{Path: path})
	require.NoError(t, err)
	defer s2.Close()

	latest, err := s2.LatestTranscript(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, latest.ID)
}

func TestOpenSQLite_RequiresPath(t *testing.T) {
	_, err := OpenSQLite(SQLiteConfig{})
	assert.Error(t, err)
}

func TestBadgerStore_Reopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := OpenBadger(BadgerConfig{Path: dir})
	require.NoError(t, err)
	s.SaveTranscript(ctx, transcriptWith("one"))
	id, err := s.SaveTranscript(ctx, transcriptWith("two"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := OpenBadger(BadgerConfig{Path: dir})
	require.NoError(t, err)
	defer s2.Close()

	latest, err := s2.LatestTranscript(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, latest.ID)

	// Sequence leases survive reopen, so new saves still sort last
	id3, err := s2.SaveTranscript(ctx, transcriptWith("three"))
	require.NoError(t, err)
	latest, err = s2.LatestTranscript(ctx)
	require.NoError(t, err)
	assert.Equal(t, id3, latest.ID)
}

func TestOpenBadger_RequiresPath(t *testing.T) {
	_, err := OpenBadger(BadgerConfig{})
	assert.Error(t, err)
}
