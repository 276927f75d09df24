// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/localchat/internal/storage"
)

func sampleTranscript() *storage.StoredTranscript {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return &storage.StoredTranscript{
		ID:      "tr_example",
		Summary: "How do I: print #1?",
		Model:   "Qwen2.5-1.5B-Instruct-q4f32_1-MLC",
		SavedAt: now,
		Messages: []storage.StoredMessage{
			{ID: "m1", Role: "user", Content: "How do I print?", Timestamp: now},
			{ID: "m2", Role: "assistant", Content: "Use print().", Timestamp: now, Fragments: 3, DurationMs: 1500, TTFTMs: 120},
			{ID: "m3", Role: "assistant", Content: "partial", Timestamp: now, Error: "stream reset"},
		},
	}
}

func TestMarkdownExporter_Export(t *testing.T) {
	out, err := NewMarkdownExporter(DefaultOptions()).Export(sampleTranscript())
	require.NoError(t, err)
	md := string(out)

	assert.Contains(t, md, `title: "How do I: print #1?"`)
	assert.Contains(t, md, `# How do I: print \#1?`)
	assert.Contains(t, md, "### User <sub>12:00:00</sub>")
	assert.Contains(t, md, "Use print().")
	assert.Contains(t, md, "<sub>Stats: Fragments: 3 | Duration: 1.50s | TTFT: 120ms</sub>")
	assert.Contains(t, md, "> **Error:** stream reset")
}

func TestMarkdownExporter_NoMetadata(t *testing.T) {
	opts := &Options{}
	out, err := NewMarkdownExporter(opts).Export(sampleTranscript())
	require.NoError(t, err)

	md := string(out)
	assert.False(t, strings.HasPrefix(md, "---"))
	assert.NotContains(t, md, "Stats:")
	assert.Contains(t, md, "### Assistant\n")
}

func TestMarkdownExporter_Empty(t *testing.T) {
	_, err := NewMarkdownExporter(nil).Export(&storage.StoredTranscript{})
	assert.ErrorIs(t, err, ErrEmptyTranscript)

	_, err = NewMarkdownExporter(nil).Export(nil)
	assert.Error(t, err)
}

func TestToFile_JSON(t *testing.T) {
	dir := t.TempDir()
	path, err := ToFile(sampleTranscript(), "json", &Options{OutputDir: dir})
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))
	assert.True(t, strings.HasSuffix(path, ".json"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got storage.StoredTranscript
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "tr_example", got.ID)
	assert.Len(t, got.Messages, 3)
}

func TestToFile_ExplicitPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "chat.md")
	got, err := ToFile(sampleTranscript(), "md", &Options{Path: path, IncludeMetadata: true})
	require.NoError(t, err)
	assert.Equal(t, path, got)

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestToFile_UnknownFormat(t *testing.T) {
	_, err := ToFile(sampleTranscript(), "html", nil)
	assert.Error(t, err)
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"hello world", "hello_world"},
		{`a/b\c:d`, "a-b-c-d"},
		{"", "transcript"},
		{strings.Repeat("x", 80), strings.Repeat("x", 50)},
	}
	for _, tc := range tests {
		if got := sanitizeFilename(tc.in); got != tc.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
