// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/dustin/go-humanize"

	"github.com/jeranaias/localchat/internal/engine"
	"github.com/jeranaias/localchat/internal/progress"
)

// ErrHandleClosed is returned by Generate on a closed handle.
var ErrHandleClosed = errors.New("model handle closed")

// =============================================================================
// ENGINE
// =============================================================================

// Config configures the Ollama engine adapter.
type Config struct {
	Client *ClientConfig

	// Aliases maps application model ids to Ollama tags. Ids without an
	// alias are used as tags verbatim.
	Aliases map[string]string

	// AutoStart spawns "ollama serve" when the daemon is not reachable.
	AutoStart bool

	// Options are sent with every chat request.
	Options *Options

	Logger *slog.Logger
}

// Engine implements engine.Engine on top of a local Ollama daemon.
type Engine struct {
	client    *Client
	aliases   map[string]string
	autoStart bool
	options   *Options
	logger    *slog.Logger
}

var _ engine.Engine = (*Engine)(nil)

// New creates an Ollama engine.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clientCfg := cfg.Client
	if clientCfg == nil {
		clientCfg = DefaultConfig()
	}
	if clientCfg.Logger == nil {
		clientCfg.Logger = logger
	}
	return &Engine{
		client:    NewClient(clientCfg),
		aliases:   cfg.Aliases,
		autoStart: cfg.AutoStart,
		options:   cfg.Options,
		logger:    logger.With("component", "ollama"),
	}
}

// Client returns the underlying API client.
func (e *Engine) Client() *Client {
	return e.client
}

// Tag resolves modelID to the Ollama tag that is pulled and chatted with.
func (e *Engine) Tag(modelID string) string {
	if tag, ok := e.aliases[modelID]; ok && tag != "" {
		return tag
	}
	return modelID
}

// Load makes modelID available. Progress is reported as progress.Report
// values: pull progress while downloading, a cache[1/1] marker when the
// tag is already local, then an indeterminate tick while the model is
// warmed into memory.
func (e *Engine) Load(ctx context.Context, modelID string, onProgress engine.ProgressFunc) (engine.Handle, error) {
	tag := e.Tag(modelID)
	emit := func(r progress.Report) {
		if onProgress != nil {
			onProgress(r)
		}
	}

	check := e.client.CheckRunning
	if e.autoStart {
		check = e.client.EnsureRunning
	}
	if err := check(ctx); err != nil {
		return nil, engine.Wrap("load", modelID, err)
	}

	present, err := e.client.HasModel(ctx, tag)
	if err != nil {
		return nil, engine.Wrap("load", modelID, err)
	}

	if present {
		emit(progress.Report{
			Progress: progress.Fraction(1),
			Text:     fmt.Sprintf("Loading %s from cache[1/1]", tag),
		})
	} else {
		e.logger.Info("pulling model", "model", modelID, "tag", tag)
		agg := newPullProgress()
		if err := e.client.Pull(ctx, tag, func(p PullResponse) {
			emit(agg.report(p))
		}); err != nil {
			return nil, engine.Wrap("load", modelID, err)
		}
	}

	emit(progress.Report{Text: "Initializing " + tag})
	if err := e.client.Warm(ctx, tag); err != nil {
		return nil, engine.Wrap("load", modelID, err)
	}

	return &handle{engine: e, id: modelID, tag: tag}, nil
}

// =============================================================================
// PULL PROGRESS
// =============================================================================

// pullProgress sums per-layer byte counts so the reported fraction covers
// the whole model rather than restarting for every layer.
type pullProgress struct {
	layers map[string][2]int64 // digest -> {completed, total}
}

func newPullProgress() *pullProgress {
	return &pullProgress{layers: make(map[string][2]int64)}
}

func (p *pullProgress) report(line PullResponse) progress.Report {
	if line.Status == "success" {
		return progress.Report{Progress: progress.Fraction(1), Text: line.Status}
	}
	if line.Digest != "" && line.Total > 0 {
		p.layers[line.Digest] = [2]int64{line.Completed, line.Total}
	}

	var completed, total int64
	for _, l := range p.layers {
		completed += l[0]
		total += l[1]
	}
	if total <= 0 {
		return progress.Report{Text: line.Status}
	}

	return progress.Report{
		Progress: progress.Fraction(float64(completed) / float64(total)),
		Text: fmt.Sprintf("%s (%s / %s)", line.Status,
			humanize.Bytes(uint64(completed)), humanize.Bytes(uint64(total))),
	}
}

// =============================================================================
// HANDLE
// =============================================================================

type handle struct {
	engine *Engine
	id     string
	tag    string
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

	req := ChatRequest{
		Model:    h.tag,
		Messages: make([]Message, len(msgs)),
		Options:  h.engine.options,
	}
	for i, m := range msgs {
		req.Messages[i] = Message{Role: m.Role.String(), Content: m.Content}
	}

	r, err := h.engine.client.ChatStream(ctx, req)
	if err != nil {
		return nil, engine.Wrap("generate", h.id, err)
	}
	return &chatStream{reader: r, modelID: h.id, logger: h.engine.logger}, nil
}

// chatStream adapts a StreamReader to engine.Stream.
type chatStream struct {
	reader  *StreamReader
	modelID string
	logger  *slog.Logger
}

func (s *chatStream) Recv() (string, error) {
	for {
		chunk, err := s.reader.Next()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", engine.Wrap("generate", s.modelID, err)
		}
		if chunk.Done {
			s.logger.Debug("generation finished",
				"model", s.modelID,
				"tokens", chunk.CompletionTokens,
				"tok_per_sec", fmt.Sprintf("%.1f", chunk.TokensPerSecond()),
				"reason", chunk.DoneReason)
		}
		if chunk.Content != "" {
			return chunk.Content, nil
		}
	}
}

func (s *chatStream) Close() error {
	return s.reader.Close()
}
