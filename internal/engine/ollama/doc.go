// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the Ollama engine adapter and its HTTP client.
//
// Loading a model pulls it with /api/pull when it is not already local,
// reporting aggregated byte progress, and then warms it into memory with
// an empty /api/generate request. Generation streams /api/chat NDJSON.
//
// # Key Types
//
//   - Engine: engine.Engine implementation
//   - Client: HTTP client for the Ollama API
//   - StreamReader: line-by-line reader over a streaming chat response
//   - ClientError: categorized client failure (not running, timeout, ...)
//
// # Usage
//
//	eng := ollama.New(ollama.Config{
//	    Aliases:   map[string]string{"Qwen2.5-1.5B-Instruct-q4f32_1-MLC": "qwen2.5:1.5b"},
//	    AutoStart: true,
//	})
//	h, err := eng.Load(ctx, "Qwen2.5-1.5B-Instruct-q4f32_1-MLC", onProgress)
package ollama
