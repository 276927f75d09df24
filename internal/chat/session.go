// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/jeranaias/localchat/internal/engine"
	"github.com/jeranaias/localchat/internal/metrics"
	"github.com/jeranaias/localchat/internal/model"
	"github.com/jeranaias/localchat/internal/storage"
)

var tracer = otel.Tracer("github.com/jeranaias/localchat/internal/chat")

var (
	// ErrBusy is returned while another generation is in flight.
	ErrBusy = errors.New("a generation is already in progress")

	// ErrNotReady is returned when no model is loaded.
	ErrNotReady = errors.New("no model is ready")

	// ErrNothingToRetry is returned by Retry when there is no user prompt.
	ErrNothingToRetry = errors.New("no prompt to retry")
)

// HandleProvider supplies the engine handle of a ready model.
type HandleProvider interface {
	Current() (engine.Handle, bool)
}

// =============================================================================
// DELTAS
// =============================================================================

// DeltaKind identifies a transcript change.
type DeltaKind int

const (
	// MessageAdded is sent for the user prompt and the assistant placeholder.
	MessageAdded DeltaKind = iota
	// FragmentAppended carries one streamed fragment.
	FragmentAppended
	// MessageFinalized is sent when the assistant message is frozen.
	MessageFinalized
	// TranscriptReset is sent after a clear or restore.
	TranscriptReset
)

// Delta is a transcript change. Message is a detached copy.
type Delta struct {
	Kind     DeltaKind
	Message  *model.Message
	Fragment string
}

// =============================================================================
// SESSION
// =============================================================================

// Config configures a Session.
type Config struct {
	Handles HandleProvider
	Gateway *storage.Gateway

	// SystemPrompt is prepended to every request and never stored.
	SystemPrompt string

	// OnDelta, when set, is called synchronously for every change.
	OnDelta func(Delta)

	Logger *slog.Logger
}

// Session owns one transcript.
//
// Session is safe for concurrent use; generations are serialized.
type Session struct {
	handles HandleProvider
	gateway *storage.Gateway
	onDelta func(Delta)
	logger  *slog.Logger

	mu           sync.Mutex
	transcript   *model.Transcript
	systemPrompt string
	generating   bool
}

// New creates a Session with an empty transcript.
func New(cfg Config) *Session {
	s := &Session{
		handles:      cfg.Handles,
		gateway:      cfg.Gateway,
		onDelta:      cfg.OnDelta,
		logger:       cfg.Logger,
		transcript:   model.NewTranscript(),
		systemPrompt: cfg.SystemPrompt,
	}
	if s.onDelta == nil {
		s.onDelta = func(Delta) {}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Transcript returns a detached copy of the transcript.
func (s *Session) Transcript() *model.Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript.Snapshot()
}

// Generating reports whether a generation is in flight.
func (s *Session) Generating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generating
}

// SystemPrompt returns the current system prompt.
func (s *Session) SystemPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.systemPrompt
}

// SetSystemPrompt replaces the system prompt used by later generations.
func (s *Session) SetSystemPrompt(prompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.systemPrompt = prompt
}

// LastPrompt returns the most recent user message.
func (s *Session) LastPrompt() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.transcript.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == model.RoleUser {
			return msgs[i].Content, true
		}
	}
	return "", false
}

// =============================================================================
// GENERATE
// =============================================================================

// Generate runs one turn for prompt.
//
// Description:
//
//	Fails with ErrBusy or ErrNotReady without touching the transcript.
//	Otherwise appends the user message and an assistant placeholder, streams
//	fragments into the placeholder in arrival order, freezes it and saves
//	the transcript. A stream error or a cancelled ctx keeps the partial
//	reply and records the error on the message.
//
// Outputs:
//
//	error - ErrBusy, ErrNotReady, or an *engine.EngineError. Save failures
//	        are logged and not returned.
func (s *Session) Generate(ctx context.Context, prompt string) error {
	s.mu.Lock()
	if s.generating {
		s.mu.Unlock()
		metrics.GenerationsTotal.WithLabelValues("busy").Inc()
		s.logger.Debug("generate rejected", "reason", "busy")
		return ErrBusy
	}
	h, ok := s.handles.Current()
	if !ok {
		s.mu.Unlock()
		metrics.GenerationsTotal.WithLabelValues("not_ready").Inc()
		s.logger.Debug("generate rejected", "reason", "not ready")
		return ErrNotReady
	}
	user, err := s.transcript.AppendUser(prompt)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.generating = true
	msgs := s.outbound()
	userCopy := user.Clone()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.generating = false
		s.mu.Unlock()
	}()

	s.onDelta(Delta{Kind: MessageAdded, Message: userCopy})

	modelID := h.ModelID()
	ctx, span := tracer.Start(ctx, "chat.generate")
	defer span.End()
	span.SetAttributes(attribute.String("model", modelID), attribute.Int("messages", len(msgs)))

	stats := model.NewStatistics()
	streamErr := s.stream(ctx, h, msgs, stats)
	stats.Finalize()

	errText := ""
	result := "ok"
	if streamErr != nil {
		streamErr = engine.Wrap("generate", modelID, streamErr)
		errText = streamErr.Error()
		result = "engine_error"
		span.RecordError(streamErr)
		span.SetStatus(codes.Error, streamErr.Error())
		s.logger.Warn("generation failed", "model", modelID, "error", streamErr)
	}

	s.mu.Lock()
	final := s.transcript.FinalizeLast(stats, errText)
	var finalCopy *model.Message
	if final != nil {
		finalCopy = final.Clone()
	}
	snapshot := s.transcript.Snapshot()
	s.mu.Unlock()

	metrics.GenerationsTotal.WithLabelValues(result).Inc()
	metrics.GenerationDuration.Observe(stats.TotalDuration.Seconds())
	if finalCopy != nil {
		span.SetAttributes(attribute.Int("fragments", finalCopy.Fragments))
		s.onDelta(Delta{Kind: MessageFinalized, Message: finalCopy})
	}

	// The turn is saved even when ctx was cancelled.
	s.gateway.SaveTranscript(context.WithoutCancel(ctx), snapshot, modelID)
	return streamErr
}

// stream opens the engine stream and drains it into the placeholder.
func (s *Session) stream(ctx context.Context, h engine.Handle, msgs []engine.Message, stats *model.Statistics) error {
	st, openErr := h.Generate(ctx, msgs)

	s.mu.Lock()
	placeholder, err := s.transcript.BeginAssistant()
	var phCopy *model.Message
	if err == nil {
		phCopy = placeholder.Clone()
	}
	s.mu.Unlock()
	if err != nil {
		if st != nil {
			st.Close()
		}
		return err
	}
	s.onDelta(Delta{Kind: MessageAdded, Message: phCopy})

	if openErr != nil {
		return openErr
	}
	defer st.Close()

	for {
		frag, err := st.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if stats.FirstTokenTime.IsZero() {
			stats.RecordFirstToken()
			metrics.TimeToFirstFragment.Observe(stats.TTFT.Seconds())
		}

		s.mu.Lock()
		err = s.transcript.AppendToLast(frag)
		s.mu.Unlock()
		if err != nil {
			return err
		}
		metrics.FragmentsTotal.Inc()
		s.onDelta(Delta{Kind: FragmentAppended, Fragment: frag})
	}
}

// outbound builds the request: the system prompt, if any, then the
// transcript. Callers hold s.mu.
func (s *Session) outbound() []engine.Message {
	msgs := s.transcript.Messages()
	out := make([]engine.Message, 0, len(msgs)+1)
	if s.systemPrompt != "" {
		out = append(out, engine.Message{Role: model.RoleSystem, Content: s.systemPrompt})
	}
	for _, m := range msgs {
		out = append(out, engine.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

// Retry submits the most recent user prompt again as a new turn.
func (s *Session) Retry(ctx context.Context) error {
	prompt, ok := s.LastPrompt()
	if !ok {
		return ErrNothingToRetry
	}
	return s.Generate(ctx, prompt)
}

// =============================================================================
// HISTORY
// =============================================================================

// Restore replaces an empty transcript with the most recently saved one. It
// reports whether anything was restored.
func (s *Session) Restore(ctx context.Context) (bool, error) {
	stored, err := s.gateway.LoadMostRecentTranscript(ctx)
	if err != nil || stored == nil || stored.Len() == 0 {
		return false, err
	}

	s.mu.Lock()
	if s.generating {
		s.mu.Unlock()
		return false, ErrBusy
	}
	if s.transcript.Len() > 0 {
		s.mu.Unlock()
		return false, nil
	}
	s.transcript = stored
	s.mu.Unlock()

	s.logger.Info("transcript restored", "messages", stored.Len())
	s.onDelta(Delta{Kind: TranscriptReset})
	return true, nil
}

// ClearHistory empties the live transcript and deletes every stored one, so
// nothing is restored afterwards. The live transcript is cleared even when
// the store fails; the store error is returned.
func (s *Session) ClearHistory(ctx context.Context) error {
	s.mu.Lock()
	if s.generating {
		s.mu.Unlock()
		s.logger.Debug("clear rejected", "reason", "busy")
		return ErrBusy
	}
	s.transcript.Clear()
	s.mu.Unlock()

	s.onDelta(Delta{Kind: TranscriptReset})
	start := time.Now()
	err := s.gateway.ClearTranscripts(ctx)
	s.logger.Info("history cleared", "took", time.Since(start).Round(time.Millisecond).String(), "persisted", err == nil)
	return err
}
