// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ClientError represents an error from the Ollama client.
type ClientError struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// ErrorType categorizes client errors for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeNotRunning
	ErrTypeTimeout
	ErrTypeModelNotFound
	ErrTypeConnection
	ErrTypeInvalidResponse
)

// Sentinel errors for easy checking.
var (
	ErrNotRunning    = &ClientError{Type: ErrTypeNotRunning, Message: "Ollama is not running"}
	ErrTimeout       = &ClientError{Type: ErrTypeTimeout, Message: "request timed out"}
	ErrModelNotFound = &ClientError{Type: ErrTypeModelNotFound, Message: "model not found"}
)

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig holds configuration options for the Ollama client.
type ClientConfig struct {
	// BaseURL is the Ollama API base URL (default: http://127.0.0.1:11434)
	// Note: Uses explicit IPv4 address instead of localhost to avoid IPv6 resolution issues on Windows
	BaseURL string

	// Timeout for non-streaming requests (default: 30s)
	Timeout time.Duration

	// StartTimeout bounds how long EnsureRunning waits for a spawned
	// daemon (default: 15s)
	StartTimeout time.Duration

	// KeepAlive is forwarded to Ollama to control how long a model stays
	// in memory (default: "30m")
	KeepAlive string

	// Logger receives client diagnostics (default: slog.Default())
	Logger *slog.Logger
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:      "http://127.0.0.1:11434",
		Timeout:      30 * time.Second,
		StartTimeout: 15 * time.Second,
		KeepAlive:    "30m",
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client handles communication with the Ollama API.
//
// The Client is thread-safe for concurrent use.
//
// Example:
//
//	client := ollama.NewClient(nil)
//	if err := client.EnsureRunning(ctx); err != nil {
//	    log.Fatal("Ollama not available:", err)
//	}
//	err := client.Pull(ctx, "qwen2.5:1.5b", func(p ollama.PullResponse) {
//	    fmt.Println(p.Status)
//	})
type Client struct {
	config *ClientConfig
	logger *slog.Logger

	// httpClient carries the request timeout; streamClient relies on the
	// context alone since pulls and chats can run for minutes.
	httpClient   *http.Client
	streamClient *http.Client
}

// NewClient creates a new Ollama client. A nil config uses DefaultConfig.
func NewClient(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultConfig()
	}

	// Fill in defaults for any zero values
	defaults := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Timeout == 0 {
		config.Timeout = defaults.Timeout
	}
	if config.StartTimeout == 0 {
		config.StartTimeout = defaults.StartTimeout
	}
	if config.KeepAlive == "" {
		config.KeepAlive = defaults.KeepAlive
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		config: config,
		logger: logger.With("component", "ollama"),
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		// SECURITY: TLS not required - Ollama runs locally on localhost (127.0.0.1) over HTTP
		streamClient: &http.Client{},
	}
}

// Config returns the client configuration.
func (c *Client) Config() *ClientConfig {
	return c.config
}

// =============================================================================
// HEALTH CHECK
// =============================================================================

// CheckRunning verifies that Ollama is reachable and running.
func (c *Client) CheckRunning(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL, nil)
	if err != nil {
		return &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(ctx, err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &ClientError{
			Type:    ErrTypeConnection,
			Message: "unexpected status from Ollama: " + resp.Status,
		}
	}

	return nil
}

// EnsureRunning checks if Ollama is running, and starts it if not.
// The platform-specific spawn lives in start_unix.go and start_windows.go.
func (c *Client) EnsureRunning(ctx context.Context) error {
	if err := c.CheckRunning(ctx); err == nil {
		return nil
	}

	path, err := c.startOllamaProcess()
	if err != nil {
		return err
	}
	c.logger.Info("starting ollama service", "path", path)
	return c.waitReady(ctx, path)
}

// waitReady polls CheckRunning until the daemon answers or StartTimeout
// passes.
func (c *Client) waitReady(ctx context.Context, path string) error {
	startTime := time.Now()
	deadline := startTime.Add(c.config.StartTimeout)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	var lastErr error
	for time.Now().Before(deadline) {
		checkCtx, cancel := context.WithTimeout(ctx, time.Second)
		lastErr = c.CheckRunning(checkCtx)
		cancel()
		if lastErr == nil {
			c.logger.Info("ollama service started", "elapsed", time.Since(startTime).Round(100*time.Millisecond))
			return nil
		}

		select {
		case <-ctx.Done():
			return &ClientError{Type: ErrTypeConnection, Message: "Ollama startup cancelled", Cause: ctx.Err()}
		case <-ticker.C:
		}
	}

	return &ClientError{
		Type:    ErrTypeConnection,
		Message: "Ollama started but not responding (path: " + path + ")",
		Cause:   lastErr,
	}
}

// =============================================================================
// MODEL OPERATIONS
// =============================================================================

// ListModels retrieves all locally available models from Ollama.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/api/tags", nil)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp, "failed to list models")
	}

	var result ListModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}

	return result.Models, nil
}

// HasModel reports whether tag is already present locally. A tag without
// an explicit version matches ":latest".
func (c *Client) HasModel(ctx context.Context, tag string) (bool, error) {
	models, err := c.ListModels(ctx)
	if err != nil {
		return false, err
	}
	want := normalizeTag(tag)
	for _, m := range models {
		if normalizeTag(m.Name) == want {
			return true, nil
		}
	}
	return false, nil
}

// Pull downloads tag, calling fn for every status line in arrival order.
// It returns once Ollama reports success or the stream fails.
func (c *Client) Pull(ctx context.Context, tag string, fn func(PullResponse)) error {
	resp, err := c.post(ctx, c.streamClient, "/api/pull", PullRequest{Model: tag, Stream: true})
	if err != nil {
		return err
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp, "pull failed")
	}

	dec := json.NewDecoder(resp.Body)
	for {
		var line PullResponse
		if err := dec.Decode(&line); err != nil {
			if errors.Is(err, io.EOF) {
				return &ClientError{Type: ErrTypeInvalidResponse, Message: "pull ended before success"}
			}
			if ctx.Err() != nil {
				return transportError(ctx, err)
			}
			return &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode pull status", Cause: err}
		}
		if line.Error != "" {
			return classifyMessage(line.Error)
		}
		if fn != nil {
			fn(line)
		}
		if line.Status == "success" {
			return nil
		}
	}
}

// Warm loads tag into memory by sending an empty prompt.
func (c *Client) Warm(ctx context.Context, tag string) error {
	req := GenerateRequest{Model: tag, Stream: false, KeepAlive: c.config.KeepAlive}
	resp, err := c.post(ctx, c.streamClient, "/api/generate", req)
	if err != nil {
		return err
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp, "failed to load model")
	}
	return nil
}

// =============================================================================
// STREAMING CHAT
// =============================================================================

// ChatStream sends a streaming chat request and returns a reader over the
// response. The caller must Close the reader.
func (c *Client) ChatStream(ctx context.Context, req ChatRequest) (*StreamReader, error) {
	req.Stream = true
	if req.KeepAlive == "" {
		req.KeepAlive = c.config.KeepAlive
	}

	resp, err := c.post(ctx, c.streamClient, "/api/chat", req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		defer drainAndClose(resp.Body)
		return nil, decodeError(resp, "stream request failed")
	}

	return NewStreamReader(ctx, resp.Body), nil
}

// =============================================================================
// HELPERS
// =============================================================================

// post marshals body and sends it to path.
func (c *Client) post(ctx context.Context, hc *http.Client, path string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to marshal request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	return resp, nil
}

// transportError maps a failed round trip. Context errors stay reachable
// through errors.Is.
func transportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &ClientError{Type: ErrTypeTimeout, Message: "request cancelled", Cause: ctxErr}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ClientError{Type: ErrTypeTimeout, Message: ErrTimeout.Message, Cause: err}
	}
	return &ClientError{Type: ErrTypeNotRunning, Message: ErrNotRunning.Message, Cause: err}
}

// decodeError builds an error from a non-200 response, preferring the
// message in Ollama's error body.
func decodeError(resp *http.Response, action string) error {
	var body apiError
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		return classifyMessage(body.Error)
	}
	if resp.StatusCode == http.StatusNotFound {
		return ErrModelNotFound
	}
	return &ClientError{Type: ErrTypeInvalidResponse, Message: action + ": " + resp.Status}
}

// classifyMessage turns an Ollama error string into a ClientError.
func classifyMessage(msg string) error {
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "not found") || strings.Contains(lower, "file does not exist") {
		return &ClientError{Type: ErrTypeModelNotFound, Message: msg}
	}
	return &ClientError{Type: ErrTypeInvalidResponse, Message: msg}
}

func normalizeTag(tag string) string {
	if !strings.Contains(tag, ":") {
		return tag + ":latest"
	}
	return tag
}

// IsModelNotFound checks if an error is a model not found error.
func IsModelNotFound(err error) bool {
	return hasType(err, ErrTypeModelNotFound)
}

// IsNotRunning checks if an error indicates Ollama is not running.
func IsNotRunning(err error) bool {
	return hasType(err, ErrTypeNotRunning)
}

// IsTimeout checks if an error is a timeout or cancellation.
func IsTimeout(err error) bool {
	return hasType(err, ErrTypeTimeout)
}

func hasType(err error, t ErrorType) bool {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type == t
	}
	return false
}

// Helper to drain response body
func drainAndClose(r io.ReadCloser) {
	_, _ = io.Copy(io.Discard, r)
	r.Close()
}
