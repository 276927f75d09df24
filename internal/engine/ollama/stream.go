// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"
)

// =============================================================================
// STREAM READER
// =============================================================================

// StreamReader handles line-by-line JSON parsing of a streaming chat
// response. It is not safe for concurrent use.
type StreamReader struct {
	ctx    context.Context
	body   io.ReadCloser
	reader *bufio.Reader
	// PERFORMANCE: strings.Builder avoids quadratic allocations
	accumulator strings.Builder
	tokenCount  int
	model       string
	final       *StreamChunk
	closed      bool
}

// NewStreamReader creates a new stream reader over a response body.
func NewStreamReader(ctx context.Context, body io.ReadCloser) *StreamReader {
	return &StreamReader{
		ctx:    ctx,
		body:   body,
		reader: bufio.NewReader(body),
	}
}

// Next returns the next chunk. It returns io.EOF once the final chunk has
// been delivered.
func (s *StreamReader) Next() (*StreamChunk, error) {
	for {
		if s.final != nil || s.closed {
			return nil, io.EOF
		}
		if err := s.ctx.Err(); err != nil {
			return nil, &ClientError{Type: ErrTypeTimeout, Message: "stream cancelled", Cause: err}
		}

		chunk, err := s.readChunk()
		if err != nil {
			return nil, err
		}
		if chunk == nil {
			continue
		}
		if chunk.Done {
			s.final = chunk
		}
		return chunk, nil
	}
}

// readChunk reads and parses a single line from the stream. Blank and
// malformed lines yield a nil chunk.
func (s *StreamReader) readChunk() (*StreamChunk, error) {
	line, err := s.reader.ReadBytes('\n')
	if err != nil {
		if s.ctx.Err() != nil {
			return nil, &ClientError{Type: ErrTypeTimeout, Message: "stream cancelled", Cause: s.ctx.Err()}
		}
		if !errors.Is(err, io.EOF) {
			return nil, &ClientError{Type: ErrTypeConnection, Message: "stream read failed", Cause: err}
		}
		// Try to process the last line even on EOF
		if len(strings.TrimSpace(string(line))) == 0 {
			return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "stream ended before done"}
		}
	}

	// Skip empty lines
	if len(strings.TrimSpace(string(line))) == 0 {
		return nil, nil
	}

	var response ChatResponse
	if err := json.Unmarshal(line, &response); err != nil {
		// Skip malformed lines
		return nil, nil
	}
	if response.Error != "" {
		return nil, classifyMessage(response.Error)
	}

	// Track the model
	if response.Model != "" {
		s.model = response.Model
	}

	content := response.Message.Content
	if content != "" {
		s.accumulator.WriteString(content)
		s.tokenCount++
	}

	chunk := &StreamChunk{
		Content:    content,
		Done:       response.Done,
		DoneReason: response.DoneReason,
		Model:      s.model,
	}

	// On completion, extract statistics
	if response.Done {
		chunk.TotalDuration = time.Duration(response.TotalDuration)
		chunk.LoadDuration = time.Duration(response.LoadDuration)
		chunk.EvalDuration = time.Duration(response.EvalDuration)
		chunk.PromptTokens = response.PromptEvalCount
		chunk.CompletionTokens = response.EvalCount
	}

	return chunk, nil
}

// Close releases the response body.
func (s *StreamReader) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}

// Accumulated returns all content received so far.
func (s *StreamReader) Accumulated() string {
	return s.accumulator.String()
}

// TokenCount returns the number of non-empty fragments received.
func (s *StreamReader) TokenCount() int {
	return s.tokenCount
}

// Final returns the done chunk, or nil before the stream finished.
func (s *StreamReader) Final() *StreamChunk {
	return s.final
}
