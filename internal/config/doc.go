// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for localchat.
//
// Configuration is TOML with sensible defaults, environment variable
// overrides and struct-tag validation.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - EngineConfig: Inference engine selection (ollama, openai)
//   - StorageConfig: Persistence backend and retention
//   - ValidateErrors: Every failed rule, keyed by TOML path
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (LOCALCHAT_*)
//   - ~/.localchat/config.toml (LOCALCHAT_HOME moves the directory)
//   - Built-in defaults
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Follow edits to the system prompt:
//
//	go config.Watch(ctx, path, logger, func(c *config.Config) {
//	    session.SetSystemPrompt(c.SystemPrompt)
//	})
package config
