// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/peterh/liner"

	"github.com/jeranaias/localchat/internal/app"
	"github.com/jeranaias/localchat/internal/catalog"
	"github.com/jeranaias/localchat/internal/chat"
	"github.com/jeranaias/localchat/internal/engine"
	"github.com/jeranaias/localchat/internal/lifecycle"
	"github.com/jeranaias/localchat/internal/util"
)

// =============================================================================
// INPUT
// =============================================================================

// LineReader reads one line of input. *liner.State satisfies it.
type LineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
}

// lineInput wraps liner with a history file.
type lineInput struct {
	*liner.State
	historyFile string
}

func newLineInput(historyFile string) *lineInput {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	in := &lineInput{State: line, historyFile: historyFile}
	if historyFile != "" {
		if f, err := os.Open(historyFile); err == nil {
			line.ReadHistory(f)
			f.Close()
		}
	}
	return in
}

// Close saves history with owner-only permissions and restores the
// terminal.
func (in *lineInput) Close() error {
	if in.historyFile != "" {
		if err := os.MkdirAll(filepath.Dir(in.historyFile), 0700); err == nil {
			if f, err := os.OpenFile(in.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
				in.WriteHistory(f)
				f.Close()
			}
		}
	}
	return in.State.Close()
}

// =============================================================================
// REPL
// =============================================================================

// REPLConfig configures a REPL.
type REPLConfig struct {
	Controller *app.Controller
	Presenter  *Presenter

	// Input defaults to a liner prompt using HistoryFile.
	Input       LineReader
	HistoryFile string

	// Local reports which catalog ids are available without a download.
	// Optional; used by /models.
	Local func(ctx context.Context) (map[string]bool, error)

	// Network describes the endpoint policy on /status, e.g. "local only".
	Network string

	// HandleSignals installs a SIGINT handler that cancels the running
	// operation.
	HandleSignals bool

	Logger *slog.Logger
}

// REPL is the interactive chat loop.
type REPL struct {
	ctrl    *app.Controller
	p       *Presenter
	input   LineReader
	history string
	local   func(ctx context.Context) (map[string]bool, error)
	network string
	signals bool
	logger  *slog.Logger
	started time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewREPL creates a REPL.
func NewREPL(cfg REPLConfig) *REPL {
	r := &REPL{
		ctrl:    cfg.Controller,
		p:       cfg.Presenter,
		input:   cfg.Input,
		history: cfg.HistoryFile,
		local:   cfg.Local,
		network: cfg.Network,
		signals: cfg.HandleSignals,
		logger:  cfg.Logger,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Run starts the controller and reads input until /quit, EOF or Ctrl+C at
// the prompt.
func (r *REPL) Run(ctx context.Context) error {
	r.started = time.Now()
	if r.input == nil {
		in := newLineInput(r.history)
		defer in.Close()
		r.input = in
	}
	if r.signals {
		stop := r.handleSignals()
		defer stop()
	}

	r.printWelcome()
	r.report(r.do(ctx, r.ctrl.Start))

	for {
		if ctx.Err() != nil {
			return nil
		}
		input, err := r.input.Prompt(promptStyle.Render("you> "))
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				r.printGoodbye()
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		r.input.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			keepGoing, err := r.handleCommand(ctx, input)
			if err != nil {
				r.p.Notice(app.LevelError, err.Error())
			}
			if !keepGoing {
				r.printGoodbye()
				return nil
			}
			continue
		}
		if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
			r.printGoodbye()
			return nil
		}

		r.report(r.do(ctx, func(ctx context.Context) error {
			return r.ctrl.Submit(ctx, input)
		}))
	}
}

// do runs fn with a context that Interrupt cancels.
func (r *REPL) do(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.cancel = nil
		r.mu.Unlock()
		cancel()
	}()
	return fn(ctx)
}

// Interrupt cancels the running load or generation. It reports whether
// anything was running.
func (r *REPL) Interrupt() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel == nil {
		return false
	}
	r.cancel()
	r.cancel = nil
	return true
}

// handleSignals cancels the running operation on Ctrl+C. At the prompt
// liner reads Ctrl+C itself.
func (r *REPL) handleSignals() (stop func()) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-sigChan:
				if r.Interrupt() {
					r.p.Printf("\n%s\n", warningStyle.Render("[Cancelled]"))
				}
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(sigChan)
		close(done)
	}
}

// report prints errors the presenter has not already shown.
func (r *REPL) report(err error) {
	switch {
	case err == nil,
		errors.Is(err, context.Canceled),
		errors.Is(err, chat.ErrBusy),
		errors.Is(err, chat.ErrNotReady),
		errors.Is(err, chat.ErrNothingToRetry),
		errors.Is(err, lifecycle.ErrBusy),
		engine.IsEngineFailure(err):
		return
	}
	r.logger.Debug("command failed", "error", err)
	r.p.Notice(app.LevelError, err.Error())
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// handleCommand runs a slash command. It returns false to exit.
func (r *REPL) handleCommand(ctx context.Context, line string) (bool, error) {
	parts := strings.Fields(line)
	command := strings.ToLower(parts[0])
	rest := strings.TrimSpace(strings.TrimPrefix(line, parts[0]))

	switch command {
	case "/help", "/h", "/?", "/":
		r.printHelp()

	case "/quit", "/q", "/exit":
		return false, nil

	case "/model", "/m":
		if rest == "" {
			st := r.ctrl.Status()
			if st.ModelID == "" {
				r.p.Printf("%s none (use /models to see the catalog)\n", dimStyle.Render("[Model]"))
			} else {
				r.p.Printf("%s %s (%s)\n", dimStyle.Render("[Model]"), commandStyle.Render(st.DisplayName), st.State)
			}
			return true, nil
		}
		r.report(r.do(ctx, func(ctx context.Context) error {
			return r.ctrl.SelectModel(ctx, rest)
		}))

	case "/models":
		r.printModels(ctx)

	case "/clear", "/c":
		r.report(r.ctrl.ClearHistory(ctx))

	case "/system":
		if rest == "" {
			prompt := r.ctrl.Status().SystemPrompt
			if prompt == "" {
				prompt = "(none)"
			}
			r.p.Printf("%s %s\n", dimStyle.Render("[System]"), prompt)
			return true, nil
		}
		if err := r.ctrl.SetSystemPrompt(ctx, rest); err != nil {
			r.p.Notice(app.LevelWarn, "System prompt set for this session, but could not be saved.")
			return true, nil
		}
		r.p.Printf("%s\n", commandStyle.Render("[System prompt updated]"))

	case "/status", "/s":
		r.printStatus()

	case "/retry", "/r":
		r.report(r.do(ctx, r.ctrl.Retry))

	case "/history":
		r.p.History(r.ctrl.Session().Transcript().Messages())

	default:
		return true, fmt.Errorf("unknown command: %s (type /help for commands)", command)
	}
	return true, nil
}

// =============================================================================
// DISPLAY FUNCTIONS
// =============================================================================

func (r *REPL) printWelcome() {
	r.p.Printf("\n%s\n%s\n%s\n\n",
		titleStyle.Render("localchat"),
		renderSeparator(30),
		dimStyle.Render("Type your message and press Enter. Commands: /help, /quit"))
}

func (r *REPL) printHelp() {
	commands := []struct {
		cmd  string
		desc string
	}{
		{"/model <id>", "Load a model by id or name"},
		{"/models", "List available models"},
		{"/clear", "Clear the conversation and saved history"},
		{"/system [text]", "Show or set the system prompt"},
		{"/status", "Show model and session state"},
		{"/retry", "Retry a failed load or the last prompt"},
		{"/history", "Show the conversation"},
		{"/help", "Show this help"},
		{"/quit", "Exit"},
	}

	var b strings.Builder
	b.WriteString("\n" + titleStyle.Render("Available Commands") + "\n")
	b.WriteString(renderSeparator(20) + "\n")
	for _, c := range commands {
		fmt.Fprintf(&b, "  %s  %s\n", commandStyle.Render(util.PadWidth(c.cmd, 16)), dimStyle.Render(c.desc))
	}
	b.WriteString("\n" + dimStyle.Render("Tip: Ctrl+C cancels the current reply, Ctrl+D exits") + "\n\n")
	r.p.Printf("%s", b.String())
}

func (r *REPL) printModels(ctx context.Context) {
	var local map[string]bool
	if r.local != nil {
		lctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		m, err := r.local(lctx)
		if err != nil {
			r.logger.Debug("local model probe failed", "error", err)
		}
		local = m
	}
	current := r.ctrl.Status().ModelID
	r.p.Printf("\n%s\n", catalog.Table(local, current, r.p.opts.Width))
}

func (r *REPL) printStatus() {
	st := r.ctrl.Status()

	var b strings.Builder
	b.WriteString("\n" + titleStyle.Render("Session Status") + "\n")
	b.WriteString(renderSeparator(20) + "\n")
	row := func(label, value string) {
		fmt.Fprintf(&b, "  %s %s\n", renderLabel(label), valueStyle.Render(value))
	}

	model := st.DisplayName
	if model == "" {
		model = "none"
	}
	row("Model", model)
	row("State", st.State.String())
	if r.network != "" {
		row("Network", r.network)
	}
	if st.LastError != nil {
		row("Last error", st.LastError.Error())
	}
	row("Messages", fmt.Sprintf("%d", st.Messages))
	if st.Generating {
		row("Generating", "yes")
	}
	prompt := st.SystemPrompt
	if prompt == "" {
		prompt = "(none)"
	}
	row("System", util.TruncateWidth(util.OneLine(prompt), 50))
	if st.Last != nil {
		if stats := st.Last.FormatStats(); stats != "" {
			row("Last reply", stats)
		}
	}
	row("Duration", time.Since(r.started).Round(time.Second).String())
	b.WriteString("\n")
	r.p.Printf("%s", b.String())
}

func (r *REPL) printGoodbye() {
	r.p.Printf("\n%s\n", dimStyle.Render("Goodbye!"))
}
