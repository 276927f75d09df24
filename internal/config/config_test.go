// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"
)

// isolate points the config directory at a temp dir.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("LOCALCHAT_HOME", dir)
	for _, k := range []string{
		"LOCALCHAT_MODEL", "LOCALCHAT_SYSTEM_PROMPT", "LOCALCHAT_ENGINE", "LOCALCHAT_BASE_URL",
		"LOCALCHAT_OPENAI_KEY", "LOCALCHAT_DATA_DIR", "LOCALCHAT_STORAGE", "LOCALCHAT_LOG_LEVEL",
		"LOCALCHAT_METRICS_ADDR", "LOCALCHAT_LOCAL_ONLY",
	} {
		t.Setenv(k, "")
	}
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// TestConfig_ConcurrentAccess tests that Global() and SetGlobal() can be
// safely called concurrently without race conditions.
// Run with: go test -race -v ./internal/config/
func TestConfig_ConcurrentAccess(t *testing.T) {
	isolate(t)
	ResetGlobalForTesting()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)

		go func() {
			defer wg.Done()
			c := Default()
			c.DefaultModel = "test-model"
			SetGlobal(c)
		}()

		go func() {
			defer wg.Done()
			if cfg := Global(); cfg == nil {
				t.Error("Global() returned nil")
			}
		}()
	}
	wg.Wait()
}

// TestConfig_ConcurrentMixedOperations tests a mix of all global operations
// happening concurrently.
func TestConfig_ConcurrentMixedOperations(t *testing.T) {
	isolate(t)
	ResetGlobalForTesting()

	var wg sync.WaitGroup
	for i := 0; i < 99; i++ {
		wg.Add(1)
		switch i % 3 {
		case 0:
			go func() {
				defer wg.Done()
				if cfg := Global(); cfg == nil {
					t.Error("Global() returned nil")
				}
			}()
		case 1:
			go func() {
				defer wg.Done()
				c := Default()
				c.Version = "concurrent-test"
				SetGlobal(c)
			}()
		case 2:
			go func() {
				defer wg.Done()
				_ = ReloadGlobal()
			}()
		}
	}
	wg.Wait()
}

// TestConfig_SetGlobalOverwrites tests that SetGlobal properly overwrites
// the existing global config.
func TestConfig_SetGlobalOverwrites(t *testing.T) {
	isolate(t)
	ResetGlobalForTesting()
	_ = Global()

	custom := Default()
	custom.DefaultModel = "custom-model"
	SetGlobal(custom)

	if got := Global().DefaultModel; got != "custom-model" {
		t.Errorf("Expected model 'custom-model', got '%s'", got)
	}
}

// TestConfig_Default tests that Default() returns a valid config.
func TestConfig_Default(t *testing.T) {
	cfg := Default()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config should validate: %v", err)
	}
	if cfg.DefaultModel != DefaultModelID {
		t.Errorf("Expected default model %s, got %s", DefaultModelID, cfg.DefaultModel)
	}
	if cfg.Engine.Kind != "ollama" {
		t.Errorf("Expected engine kind 'ollama', got '%s'", cfg.Engine.Kind)
	}
	if !cfg.Engine.LocalOnly {
		t.Error("Expected local_only to default to true")
	}
	if cfg.Storage.Backend != "sqlite" {
		t.Errorf("Expected storage backend 'sqlite', got '%s'", cfg.Storage.Backend)
	}
}

// TestConfig_Validate tests configuration validation.
func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantField string
	}{
		{name: "valid default config", mutate: func(c *Config) {}},
		{name: "unknown engine", mutate: func(c *Config) { c.Engine.Kind = "webgpu" }, wantField: "engine.kind"},
		{name: "bad ollama url", mutate: func(c *Config) { c.Engine.OllamaURL = "not a url" }, wantField: "engine.ollama_url"},
		{name: "missing ollama url", mutate: func(c *Config) { c.Engine.OllamaURL = "" }, wantField: "engine.ollama_url"},
		{name: "missing openai url", mutate: func(c *Config) {
			c.Engine.Kind = "openai"
			c.Engine.OpenAIURL = ""
		}, wantField: "engine.openai_url"},
		{name: "temperature too high", mutate: func(c *Config) { c.Engine.Temperature = 3 }, wantField: "engine.temperature"},
		{name: "negative load timeout", mutate: func(c *Config) { c.Engine.LoadTimeoutSecs = -1 }, wantField: "engine.load_timeout_secs"},
		{name: "unknown backend", mutate: func(c *Config) { c.Storage.Backend = "redis" }, wantField: "storage.backend"},
		{name: "zero retention", mutate: func(c *Config) { c.Storage.MaxTranscripts = 0 }, wantField: "storage.max_transcripts"},
		{name: "bad log level", mutate: func(c *Config) { c.Logging.Level = "verbose" }, wantField: "logging.level"},
		{name: "bad metrics addr", mutate: func(c *Config) { c.Telemetry.MetricsAddr = "nope" }, wantField: "telemetry.metrics_addr"},
		{name: "empty model", mutate: func(c *Config) { c.DefaultModel = "" }, wantField: "default_model"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			err := c.Validate()

			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}

			var verrs ValidateErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("expected ValidateErrors, got %v", err)
			}
			found := false
			for _, e := range verrs {
				if e.Field == tt.wantField {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error on %s, got %v", tt.wantField, verrs)
			}
		})
	}
}

func TestValidateErrors_Message(t *testing.T) {
	c := Default()
	c.Engine.Kind = "webgpu"
	err := c.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	want := "engine.kind: invalid value 'webgpu', must be one of: ollama, openai"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestLoad_DefaultsWhenMissing(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DefaultModel != DefaultModelID {
		t.Errorf("got model %s", cfg.DefaultModel)
	}
}

func TestLoadFromPath(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.toml")
	writeFile(t, path, `
default_model = "Llama-3.1-8B-Instruct-q4f32_1-MLC"
system_prompt = "You are terse."

[engine]
kind = "openai"
openai_url = "http://127.0.0.1:9000/v1"

[engine.aliases]
"Llama-3.1-8B-Instruct-q4f32_1-MLC" = "llama-3.1-8b"

[storage]
backend = "badger"
`)

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if cfg.SystemPrompt != "You are terse." {
		t.Errorf("system prompt = %q", cfg.SystemPrompt)
	}
	if cfg.Engine.Kind != "openai" || cfg.Engine.OpenAIURL != "http://127.0.0.1:9000/v1" {
		t.Errorf("engine = %+v", cfg.Engine)
	}
	if cfg.Engine.Aliases["Llama-3.1-8B-Instruct-q4f32_1-MLC"] != "llama-3.1-8b" {
		t.Errorf("aliases = %v", cfg.Engine.Aliases)
	}
	// Keys missing from the file keep their defaults.
	if cfg.Logging.Level != "info" {
		t.Errorf("logging level = %q", cfg.Logging.Level)
	}
	if cfg.StorePath() != filepath.Join(dir, "badger") {
		t.Errorf("store path = %s", cfg.StorePath())
	}
}

func TestLoadFromPath_RejectsUnknownKeys(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.toml")
	writeFile(t, path, "defualt_model = \"typo\"\n")

	if _, err := LoadFromPath(path); err == nil || !strings.Contains(err.Error(), "defualt_model") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestLoadFromPath_Invalid(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.toml")
	writeFile(t, path, "[logging]\nlevel = \"loud\"\n")

	if _, err := LoadFromPath(path); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("LOCALCHAT_MODEL", "gemma-2-9b-it-q4f32_1-MLC")
	t.Setenv("LOCALCHAT_ENGINE", "OpenAI")
	t.Setenv("LOCALCHAT_BASE_URL", "http://10.0.0.2:8080/v1")
	t.Setenv("LOCALCHAT_LOG_LEVEL", "DEBUG")
	t.Setenv("LOCALCHAT_SYSTEM_PROMPT", "be kind")
	t.Setenv("LOCALCHAT_LOCAL_ONLY", "false")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	if cfg.DefaultModel != "gemma-2-9b-it-q4f32_1-MLC" {
		t.Errorf("model = %s", cfg.DefaultModel)
	}
	if cfg.Engine.Kind != "openai" {
		t.Errorf("kind = %s", cfg.Engine.Kind)
	}
	if cfg.Engine.OpenAIURL != "http://10.0.0.2:8080/v1" {
		t.Errorf("openai url = %s", cfg.Engine.OpenAIURL)
	}
	if cfg.Engine.OllamaURL != Default().Engine.OllamaURL {
		t.Errorf("ollama url should be untouched, got %s", cfg.Engine.OllamaURL)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %s", cfg.Logging.Level)
	}
	if cfg.SystemPrompt != "be kind" {
		t.Errorf("system prompt = %s", cfg.SystemPrompt)
	}
	if cfg.Engine.LocalOnly {
		t.Error("local_only should be disabled by LOCALCHAT_LOCAL_ONLY=false")
	}
}

func TestGetSet(t *testing.T) {
	cfg := Default()

	if err := cfg.Set("engine.kind", "openai"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := cfg.Set("storage.max_transcripts", "25"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := cfg.Set("ui.markdown", "false"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := cfg.Set("engine.temperature", "0.2"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if v, _ := cfg.Get("engine.kind"); v != "openai" {
		t.Errorf("engine.kind = %v", v)
	}
	if cfg.Storage.MaxTranscripts != 25 {
		t.Errorf("max_transcripts = %d", cfg.Storage.MaxTranscripts)
	}
	if cfg.UI.Markdown {
		t.Error("ui.markdown should be false")
	}
	if cfg.Engine.Temperature != 0.2 {
		t.Errorf("temperature = %v", cfg.Engine.Temperature)
	}

	if _, err := cfg.Get("engine.nope"); err == nil {
		t.Error("expected unknown field error")
	}
	if err := cfg.Set("default_model.inner", "x"); err == nil {
		t.Error("expected not-a-struct error")
	}
	if err := cfg.Set("storage.max_transcripts", "many"); err == nil {
		t.Error("expected integer parse error")
	}
}

func TestGetAllKeys_Resolve(t *testing.T) {
	cfg := Default()
	for _, key := range GetAllKeys() {
		if _, err := cfg.Get(key); err != nil {
			t.Errorf("key %s: %v", key, err)
		}
	}
}

func TestSaveTOML_RoundTrip(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "nested", "config.toml")

	cfg := Default()
	cfg.SystemPrompt = "line one\nline two"
	cfg.Engine.OpenAIKey = "secret"
	cfg.Engine.Aliases = map[string]string{"a": "b"}
	if err := SaveTOML(cfg, path); err != nil {
		t.Fatalf("SaveTOML: %v", err)
	}

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}
		if perm := info.Mode().Perm(); perm != 0600 {
			t.Errorf("permissions = %o, want 600", perm)
		}
	}

	loaded, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if loaded.SystemPrompt != cfg.SystemPrompt || loaded.Engine.Aliases["a"] != "b" {
		t.Errorf("round trip mismatch: %+v", loaded)
	}
}

func TestString_RedactsKey(t *testing.T) {
	cfg := Default()
	cfg.Engine.OpenAIKey = "sk-very-secret"

	s := cfg.String()
	if strings.Contains(s, "sk-very-secret") {
		t.Error("String() leaked the API key")
	}
	if cfg.Engine.OpenAIKey != "sk-very-secret" {
		t.Error("String() modified the original config")
	}
}

func TestClone_DeepCopiesAliases(t *testing.T) {
	cfg := Default()
	cfg.Engine.Aliases = map[string]string{"x": "y"}
	clone := cfg.Clone()
	clone.Engine.Aliases["x"] = "z"
	if cfg.Engine.Aliases["x"] != "y" {
		t.Error("Clone shares the aliases map")
	}
}

func TestPaths_ExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	cfg := Default()
	cfg.Storage.DataDir = "~/chatdata"
	if got, want := cfg.DataDir(), filepath.Join(home, "chatdata"); got != want {
		t.Errorf("DataDir = %s, want %s", got, want)
	}
	if got := cfg.LogFile(); !strings.HasPrefix(got, filepath.Join(home, "chatdata")) {
		t.Errorf("LogFile = %s", got)
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.toml")
	writeFile(t, path, "system_prompt = \"first\"\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan string, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, nil, func(c *Config) { got <- c.SystemPrompt })
	}()

	// Give the watcher time to register.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, "system_prompt = \"second\"\n")

	select {
	case prompt := <-got:
		if prompt != "second" {
			t.Errorf("reloaded prompt = %q", prompt)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch returned %v", err)
	}
}
