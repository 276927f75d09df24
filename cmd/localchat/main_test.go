// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/localchat/internal/config"
	"github.com/jeranaias/localchat/internal/model"
	"github.com/jeranaias/localchat/internal/offline"
	"github.com/jeranaias/localchat/internal/storage"
)

// execute runs the root command with args in an isolated home directory.
func execute(t *testing.T, home string, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("LOCALCHAT_HOME", home)
	for _, k := range []string{"LOCALCHAT_MODEL", "LOCALCHAT_ENGINE", "LOCALCHAT_DATA_DIR", "LOCALCHAT_STORAGE", "LOCALCHAT_METRICS_ADDR"} {
		t.Setenv(k, "")
	}
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func seedTranscript(t *testing.T, home string) {
	t.Helper()
	t.Setenv("LOCALCHAT_HOME", home)
	cfg := config.Default()
	store, err := storage.OpenSQLite(storage.SQLiteConfig{Path: cfg.StorePath(), MaxTranscripts: 10})
	require.NoError(t, err)
	gw := storage.NewGateway(store, slog.Default())
	defer gw.Close()

	tr := model.NewTranscript()
	_, err = tr.AppendUser("Hello")
	require.NoError(t, err)
	_, err = tr.BeginAssistant()
	require.NoError(t, err)
	require.NoError(t, tr.AppendToLast("Hi there"))
	tr.FinalizeLast(nil, "")
	_, err = gw.SaveTranscript(context.Background(), tr, "model-A")
	require.NoError(t, err)
}

func TestConfigSetGet(t *testing.T) {
	home := t.TempDir()

	out, err := execute(t, home, "", "config", "set", "engine.kind", "openai")
	require.NoError(t, err)
	assert.Contains(t, out, "engine.kind = openai")

	out, err = execute(t, home, "", "config", "get", "engine.kind")
	require.NoError(t, err)
	assert.Equal(t, "openai\n", out)

	data, err := os.ReadFile(filepath.Join(home, "config.toml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `kind = "openai"`)
}

func TestConfigSet_RejectsInvalid(t *testing.T) {
	home := t.TempDir()
	_, err := execute(t, home, "", "config", "set", "engine.kind", "llamafile")
	assert.Error(t, err)

	_, statErr := os.Stat(filepath.Join(home, "config.toml"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestConfigGet_RedactsKey(t *testing.T) {
	home := t.TempDir()
	_, err := execute(t, home, "", "config", "set", "engine.openai_key", "sk-secret")
	require.NoError(t, err)

	out, err := execute(t, home, "", "config", "get", "engine.openai_key")
	require.NoError(t, err)
	assert.NotContains(t, out, "sk-secret")
}

func TestModelFlagOverridesConfig(t *testing.T) {
	home := t.TempDir()
	out, err := execute(t, home, "", "--model", "Qwen2.5-7B-Instruct-q4f32_1-MLC", "config", "get", "default_model")
	require.NoError(t, err)
	assert.Equal(t, "Qwen2.5-7B-Instruct-q4f32_1-MLC\n", out)
}

func TestHistoryList_Empty(t *testing.T) {
	out, err := execute(t, t.TempDir(), "", "history", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No saved conversations.")
}

func TestHistoryExportAndClear(t *testing.T) {
	home := t.TempDir()
	seedTranscript(t, home)

	out, err := execute(t, home, "", "history", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "2 msgs")

	dest := filepath.Join(t.TempDir(), "chat.md")
	out, err = execute(t, home, "", "history", "export", "--output", dest)
	require.NoError(t, err)
	assert.Contains(t, out, "Exported 2 messages")
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Hi there")

	// Declining keeps everything.
	out, err = execute(t, home, "n\n", "history", "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "Cancelled.")

	_, err = execute(t, home, "", "history", "clear", "--yes")
	require.NoError(t, err)
	out, err = execute(t, home, "", "history", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No saved conversations.")
}

func TestHistoryExport_NothingSaved(t *testing.T) {
	_, err := execute(t, t.TempDir(), "", "history", "export")
	assert.ErrorContains(t, err, "no saved conversation")
}

func TestLocalOnlyRejectsRemoteEngine(t *testing.T) {
	t.Setenv("LOCALCHAT_BASE_URL", "http://192.168.1.20:11434")
	_, err := execute(t, t.TempDir(), "", "history", "list")
	assert.ErrorIs(t, err, offline.ErrNonLocalhost)

	t.Setenv("LOCALCHAT_LOCAL_ONLY", "false")
	_, err = execute(t, t.TempDir(), "", "history", "list")
	assert.NoError(t, err)
}
