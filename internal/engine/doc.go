// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package engine defines the boundary to a local inference engine.
//
// An Engine acquires a model and hands back a Handle; a Handle opens one
// Stream per generation. Progress notifications emitted while a model is
// acquired are passed through untouched as ProgressFunc arguments because
// their shape is not contractually stable. The progress package turns them
// into percentages.
//
// # Key Types
//
//   - Engine: acquires a model by id
//   - Handle: a loaded model, opens generation streams
//   - Stream: pull-based sequence of token fragments ending in io.EOF
//   - EngineError: load or generation failure reported by an adapter
//
// # Usage
//
//	h, err := eng.Load(ctx, "Qwen2.5-1.5B-Instruct-q4f32_1-MLC", func(raw any) {
//	    sample := tracker.Observe(raw)
//	    fmt.Println(sample)
//	})
//	stream, err := h.Generate(ctx, msgs)
//	defer stream.Close()
//	for {
//	    frag, err := stream.Recv()
//	    if err == io.EOF {
//	        break
//	    }
//	    fmt.Print(frag)
//	}
//
// Adapters live in the ollama and openai subpackages; enginetest provides a
// scriptable in-memory engine.
package engine
