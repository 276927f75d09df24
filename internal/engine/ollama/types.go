// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import "time"

// =============================================================================
// REQUEST TYPES
// =============================================================================

// Message represents a single message in a conversation.
type Message struct {
	Role    string `json:"role"`    // "user", "assistant", "system"
	Content string `json:"content"` // The message content
}

// ChatRequest represents a request to the /api/chat endpoint.
type ChatRequest struct {
	Model     string    `json:"model"`                // Model tag (e.g., "qwen2.5:1.5b")
	Messages  []Message `json:"messages"`             // Conversation history
	Stream    bool      `json:"stream"`               // Enable streaming
	Options   *Options  `json:"options,omitempty"`    // Model parameters
	KeepAlive string    `json:"keep_alive,omitempty"` // How long the model stays loaded
}

// Options contains model parameters for inference.
type Options struct {
	Temperature float64 `json:"temperature,omitempty"` // 0.0-2.0, default 0.8
	TopP        float64 `json:"top_p,omitempty"`       // 0.0-1.0, default 0.9
	NumCtx      int     `json:"num_ctx,omitempty"`     // Context window size, default 2048
	NumPredict  int     `json:"num_predict,omitempty"` // Max tokens to generate, -1 for unlimited
	Seed        int     `json:"seed,omitempty"`        // Random seed
}

// GenerateRequest represents a request to the /api/generate endpoint.
// An empty Prompt only loads the model into memory.
type GenerateRequest struct {
	Model     string `json:"model"`
	Prompt    string `json:"prompt"`
	Stream    bool   `json:"stream"`
	KeepAlive string `json:"keep_alive,omitempty"`
}

// PullRequest represents a request to the /api/pull endpoint.
type PullRequest struct {
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// PullResponse is one line of a streaming /api/pull response.
// Total and Completed are only set while a layer is downloading.
type PullResponse struct {
	Status    string `json:"status"`
	Digest    string `json:"digest,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ChatResponse is one line of a streaming /api/chat response.
type ChatResponse struct {
	Model              string    `json:"model"`
	CreatedAt          time.Time `json:"created_at"`
	Message            Message   `json:"message"`
	Done               bool      `json:"done"`
	DoneReason         string    `json:"done_reason,omitempty"`
	TotalDuration      int64     `json:"total_duration,omitempty"`       // nanoseconds
	LoadDuration       int64     `json:"load_duration,omitempty"`        // nanoseconds
	PromptEvalCount    int       `json:"prompt_eval_count,omitempty"`    // number of tokens in prompt
	PromptEvalDuration int64     `json:"prompt_eval_duration,omitempty"` // nanoseconds
	EvalCount          int       `json:"eval_count,omitempty"`           // number of tokens generated
	EvalDuration       int64     `json:"eval_duration,omitempty"`        // nanoseconds
	Error              string    `json:"error,omitempty"`
}

// ModelInfo contains information about a locally available model.
type ModelInfo struct {
	Name       string       `json:"name"`
	ModifiedAt time.Time    `json:"modified_at"`
	Size       int64        `json:"size"`
	Digest     string       `json:"digest"`
	Details    ModelDetails `json:"details,omitempty"`
}

// ModelDetails contains detailed model information.
type ModelDetails struct {
	Format            string `json:"format"`
	Family            string `json:"family"`
	ParameterSize     string `json:"parameter_size"`
	QuantizationLevel string `json:"quantization_level"`
}

// ListModelsResponse is the response from /api/tags.
type ListModelsResponse struct {
	Models []ModelInfo `json:"models"`
}

// apiError is the error body returned by Ollama.
type apiError struct {
	Error string `json:"error"`
}

// =============================================================================
// STREAMING TYPES
// =============================================================================

// StreamChunk represents a single chunk from a streaming chat response.
type StreamChunk struct {
	// Content is the text fragment in this chunk.
	Content string

	// Completion info (only set when Done is true)
	Done             bool
	DoneReason       string
	TotalDuration    time.Duration
	LoadDuration     time.Duration
	EvalDuration     time.Duration
	PromptTokens     int
	CompletionTokens int

	Model string
}

// TokensPerSecond calculates the generation speed of a final chunk.
func (c *StreamChunk) TokensPerSecond() float64 {
	if c.EvalDuration <= 0 {
		return 0
	}
	return float64(c.CompletionTokens) / c.EvalDuration.Seconds()
}
