// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jeranaias/localchat/internal/catalog"
	"github.com/jeranaias/localchat/internal/chat"
	"github.com/jeranaias/localchat/internal/engine"
	"github.com/jeranaias/localchat/internal/lifecycle"
	"github.com/jeranaias/localchat/internal/model"
	"github.com/jeranaias/localchat/internal/storage"
)

// PrefSystemPrompt is the preference key holding the /system prompt.
const PrefSystemPrompt = "system_prompt"

// =============================================================================
// PRESENTER PORT
// =============================================================================

// Level classifies a notice.
type Level int

const (
	LevelInfo Level = iota
	LevelWarn
	LevelError
)

// Presenter renders core events. All methods are called synchronously from
// the goroutine performing the operation.
type Presenter interface {
	lifecycle.Observer

	// TranscriptChanged receives streamed transcript changes.
	TranscriptChanged(d chat.Delta)

	// Notice shows a one-line message.
	Notice(level Level, text string)
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Config configures a Controller.
type Config struct {
	Engine    engine.Engine
	Gateway   *storage.Gateway
	Presenter Presenter
	Logger    *slog.Logger

	// DefaultModel is loaded on first start. Defaults to
	// catalog.DefaultModelID.
	DefaultModel string

	// SystemPrompt applies until one is set with SetSystemPrompt.
	SystemPrompt string

	LoadTimeout time.Duration

	// Memory reports usable model memory in bytes. Optional; when set,
	// models larger than it get a warning before loading.
	Memory func(ctx context.Context) (uint64, error)
}

// Controller dispatches user intents.
type Controller struct {
	gateway      *storage.Gateway
	presenter    Presenter
	logger       *slog.Logger
	defaultModel string
	memory       func(ctx context.Context) (uint64, error)

	models  *lifecycle.Manager
	session *chat.Session
}

// New wires a lifecycle manager and a chat session around cfg.
func New(cfg Config) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	defaultModel := cfg.DefaultModel
	if defaultModel == "" {
		defaultModel = catalog.DefaultModelID
	}

	c := &Controller{
		gateway:      cfg.Gateway,
		presenter:    cfg.Presenter,
		logger:       logger,
		defaultModel: defaultModel,
		memory:       cfg.Memory,
	}
	c.models = lifecycle.New(lifecycle.Config{
		Engine:      cfg.Engine,
		Gateway:     cfg.Gateway,
		Observer:    cfg.Presenter,
		Logger:      logger.With("component", "lifecycle"),
		LoadTimeout: cfg.LoadTimeout,
	})
	c.session = chat.New(chat.Config{
		Handles:      c.models,
		Gateway:      cfg.Gateway,
		SystemPrompt: cfg.SystemPrompt,
		OnDelta:      cfg.Presenter.TranscriptChanged,
		Logger:       logger.With("component", "chat"),
	})
	return c
}

// Models returns the lifecycle manager.
func (c *Controller) Models() *lifecycle.Manager {
	return c.models
}

// Session returns the chat session.
func (c *Controller) Session() *chat.Session {
	return c.session
}

// Start restores the last transcript and then loads the last used model,
// or the default model when none was used before. The transcript is
// restored even when the load fails.
func (c *Controller) Start(ctx context.Context) error {
	if prompt, ok := c.gateway.GetPreference(ctx, PrefSystemPrompt); ok {
		c.session.SetSystemPrompt(prompt)
	}

	restored, err := c.session.Restore(ctx)
	if err != nil {
		c.presenter.Notice(LevelWarn, "Could not restore the previous conversation.")
	} else if restored {
		n := c.session.Transcript().Len()
		c.presenter.Notice(LevelInfo, fmt.Sprintf("Restored previous conversation (%d messages).", n))
	}

	id := c.defaultModel
	if last, err := c.gateway.GetLastUsedModel(ctx); err == nil && last != nil && last.ModelID != "" {
		id = last.ModelID
	}
	return c.SelectModel(ctx, id)
}

// SelectModel resolves input against the catalog and loads it. Large
// models get a resource warning first.
func (c *Controller) SelectModel(ctx context.Context, input string) error {
	id := catalog.Resolve(input)
	if id == "" {
		return errors.New("model id is required")
	}
	entry := catalog.Describe(id)
	if warning := entry.ResourceWarning(); warning != "" {
		c.presenter.Notice(LevelWarn, warning)
	}
	if c.memory != nil {
		if available, err := c.memory(ctx); err != nil {
			c.logger.Debug("memory probe failed", "error", err)
		} else if warning := entry.MemoryWarning(available); warning != "" {
			c.presenter.Notice(LevelWarn, warning)
		}
	}

	err := c.models.Load(ctx, id)
	if errors.Is(err, lifecycle.ErrBusy) {
		c.presenter.Notice(LevelInfo, "A model is still loading; wait for it to finish.")
	}
	return err
}

// Submit sends prompt to the session. Blank prompts are ignored.
func (c *Controller) Submit(ctx context.Context, prompt string) error {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil
	}
	err := c.session.Generate(ctx, prompt)
	c.noticeFor(err)
	return err
}

// Retry reloads the selected model after a failed load, and otherwise
// resubmits the last prompt.
func (c *Controller) Retry(ctx context.Context) error {
	if c.models.State() == lifecycle.Failed {
		return c.SelectModel(ctx, c.models.ModelID())
	}
	err := c.session.Retry(ctx)
	c.noticeFor(err)
	return err
}

// ClearHistory empties the conversation and the stored transcripts.
func (c *Controller) ClearHistory(ctx context.Context) error {
	err := c.session.ClearHistory(ctx)
	switch {
	case err == nil:
		c.presenter.Notice(LevelInfo, "Conversation cleared.")
	case errors.Is(err, chat.ErrBusy):
		c.presenter.Notice(LevelInfo, "Wait for the current reply to finish before clearing.")
	default:
		c.presenter.Notice(LevelWarn, "Conversation cleared, but stored history could not be deleted.")
	}
	return err
}

// SetSystemPrompt changes the system prompt and remembers it. An empty
// prompt forgets the stored one so the config value applies again.
func (c *Controller) SetSystemPrompt(ctx context.Context, prompt string) error {
	prompt = strings.TrimSpace(prompt)
	c.session.SetSystemPrompt(prompt)
	if prompt == "" {
		return c.gateway.DeletePreference(ctx, PrefSystemPrompt)
	}
	return c.gateway.SetPreference(ctx, PrefSystemPrompt, prompt)
}

// ApplySystemPrompt changes the system prompt for this process only, as
// when the config file is edited.
func (c *Controller) ApplySystemPrompt(prompt string) {
	if _, ok := c.gateway.GetPreference(context.Background(), PrefSystemPrompt); ok {
		return
	}
	c.session.SetSystemPrompt(prompt)
}

// Close releases the loaded model.
func (c *Controller) Close() error {
	return c.models.Close()
}

// noticeFor reports precondition failures. Engine failures are already on
// the transcript.
func (c *Controller) noticeFor(err error) {
	switch {
	case errors.Is(err, chat.ErrNotReady):
		c.presenter.Notice(LevelInfo, "No model is ready yet. Use /model to load one.")
	case errors.Is(err, chat.ErrBusy):
		c.presenter.Notice(LevelInfo, "Still answering the previous prompt.")
	case errors.Is(err, chat.ErrNothingToRetry):
		c.presenter.Notice(LevelInfo, "Nothing to retry yet.")
	}
}

// =============================================================================
// STATUS
// =============================================================================

// Status summarizes the controller.
type Status struct {
	State        lifecycle.State
	ModelID      string
	DisplayName  string
	LastError    error
	Messages     int
	Generating   bool
	SystemPrompt string
	Last         *model.Message
}

// Status returns a snapshot of the current state.
func (c *Controller) Status() Status {
	t := c.session.Transcript()
	st := Status{
		State:        c.models.State(),
		ModelID:      c.models.ModelID(),
		LastError:    c.models.LastError(),
		Messages:     t.Len(),
		Generating:   c.session.Generating(),
		SystemPrompt: c.session.SystemPrompt(),
		Last:         t.Last(),
	}
	if st.ModelID != "" {
		st.DisplayName = catalog.Describe(st.ModelID).DisplayName()
	}
	return st
}
