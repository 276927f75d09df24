// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package openai adapts any OpenAI-compatible server (llama.cpp, vLLM,
// LM Studio, LocalAI) to the engine interface.
//
// Such servers load their models out of band, so Load only confirms that
// the requested model is being served and reports it complete in a single
// progress notification.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/jeranaias/localchat/internal/engine"
	"github.com/jeranaias/localchat/internal/progress"
)

// ErrModelUnavailable is returned by Load when the server does not list
// the requested model.
var ErrModelUnavailable = errors.New("model not served")

// ErrHandleClosed is returned by Generate on a closed handle.
var ErrHandleClosed = errors.New("model handle closed")

// Config configures the adapter.
type Config struct {
	// BaseURL is the API root including the version, e.g.
	// "http://127.0.0.1:8080/v1".
	BaseURL string

	// APIKey is sent as a bearer token. Local servers usually ignore it.
	APIKey string

	// Aliases maps application model ids to served model names.
	Aliases map[string]string

	// Temperature is sent with every request when non-zero.
	Temperature float32

	Logger *slog.Logger
}

// Engine implements engine.Engine over the OpenAI chat completions API.
type Engine struct {
	client      *goopenai.Client
	aliases     map[string]string
	temperature float32
	logger      *slog.Logger
}

var _ engine.Engine = (*Engine)(nil)

// New creates an adapter for the server at cfg.BaseURL.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &Engine{
		client:      goopenai.NewClientWithConfig(clientCfg),
		aliases:     cfg.Aliases,
		temperature: cfg.Temperature,
		logger:      logger.With("component", "openai"),
	}
}

// Name resolves modelID to the name the server knows it by.
func (e *Engine) Name(modelID string) string {
	if name, ok := e.aliases[modelID]; ok && name != "" {
		return name
	}
	return modelID
}

// Load checks that the server lists modelID.
func (e *Engine) Load(ctx context.Context, modelID string, onProgress engine.ProgressFunc) (engine.Handle, error) {
	name := e.Name(modelID)

	list, err := e.client.ListModels(ctx)
	if err != nil {
		return nil, engine.Wrap("load", modelID, err)
	}

	served := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		if m.ID == name {
			if onProgress != nil {
				onProgress(progress.Report{
					Progress: progress.Fraction(1),
					Text:     name + " is served",
				})
			}
			return &handle{engine: e, id: modelID, name: name}, nil
		}
		served = append(served, m.ID)
	}

	e.logger.Debug("model not in server list", "model", name, "served", served)
	return nil, engine.Wrap("load", modelID,
		fmt.Errorf("%w: %s (server has %s)", ErrModelUnavailable, name, strings.Join(served, ", ")))
}

// =============================================================================
// HANDLE
// =============================================================================

type handle struct {
	engine *Engine
	id     string
	name   string
	closed atomic.Bool
}

func (h *handle) ModelID() string { return h.id }

func (h *handle) Close() error {
	h.closed.Store(true)
	return nil
}

func (h *handle) Generate(ctx context.Context, msgs []engine.Message) (engine.Stream, error) {
	if h.closed.Load() {
		return nil, engine.Wrap("generate", h.id, ErrHandleClosed)
	}

	req := goopenai.ChatCompletionRequest{
		Model:       h.name,
		Messages:    make([]goopenai.ChatCompletionMessage, len(msgs)),
		Temperature: h.engine.temperature,
		Stream:      true,
	}
	for i, m := range msgs {
		req.Messages[i] = goopenai.ChatCompletionMessage{Role: m.Role.String(), Content: m.Content}
	}

	stream, err := h.engine.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, engine.Wrap("generate", h.id, err)
	}
	return &chatStream{stream: stream, modelID: h.id}, nil
}

type chatStream struct {
	stream  *goopenai.ChatCompletionStream
	modelID string
}

func (s *chatStream) Recv() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", engine.Wrap("generate", s.modelID, err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if content := resp.Choices[0].Delta.Content; content != "" {
			return content, nil
		}
	}
}

func (s *chatStream) Close() error {
	s.stream.Close()
	return nil
}
