// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/localchat/internal/app"
	"github.com/jeranaias/localchat/internal/chat"
	"github.com/jeranaias/localchat/internal/lifecycle"
	"github.com/jeranaias/localchat/internal/model"
	"github.com/jeranaias/localchat/internal/progress"
	"github.com/jeranaias/localchat/internal/util"
)

// PresenterOptions controls rendering.
type PresenterOptions struct {
	// Markdown renders finished replies with glamour instead of streaming
	// raw fragments.
	Markdown bool

	// ShowStats prints timing after each reply.
	ShowStats bool

	// Inline redraws the progress bar in place. Without it a new line is
	// printed every ten percent.
	Inline bool

	// Width is the wrap width. Defaults to DefaultTerminalWidth.
	Width int
}

// Presenter renders core events to a writer. It implements app.Presenter.
type Presenter struct {
	mu       sync.Mutex
	out      io.Writer
	opts     PresenterOptions
	renderer *glamour.TermRenderer

	tick         int
	lastBucket   int
	progressOpen bool
	reply        strings.Builder
}

var _ app.Presenter = (*Presenter)(nil)

// NewPresenter creates a Presenter writing to out.
func NewPresenter(out io.Writer, opts PresenterOptions) *Presenter {
	if opts.Width <= 0 {
		opts.Width = DefaultTerminalWidth
	}
	p := &Presenter{out: out, opts: opts, lastBucket: -1}
	if opts.Markdown {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(opts.Width),
		)
		if err == nil {
			p.renderer = r
		}
	}
	return p
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// StateChanged prints a line for each lifecycle transition.
func (p *Presenter) StateChanged(ev lifecycle.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeProgress()

	name := ev.DisplayName
	if name == "" {
		name = ev.ModelID
	}
	switch ev.State {
	case lifecycle.Downloading:
		p.lastBucket = -1
		p.tick = 0
		fmt.Fprintf(p.out, "%s %s\n", dimStyle.Render("[Model]"), "Downloading "+name+"...")
	case lifecycle.Initializing:
		fmt.Fprintf(p.out, "%s %s\n", dimStyle.Render("[Model]"), "Initializing "+name+"...")
	case lifecycle.Ready:
		how := "downloaded"
		if ev.CacheRestore {
			how = "from cache"
		}
		fmt.Fprintf(p.out, "%s %s ready (%s, %s)\n",
			commandStyle.Render("[OK]"),
			name,
			how,
			ev.Elapsed.Round(100*time.Millisecond))
	case lifecycle.Failed:
		fmt.Fprintf(p.out, "%s Failed to load %s: %v\n",
			errorStyle.Render("[Error]"),
			name,
			ev.Err)
		fmt.Fprintln(p.out, dimStyle.Render("Type /retry to try again, or /model to pick another model."))
	}
}

// Progress draws the progress bar.
func (p *Presenter) Progress(_ string, s progress.Sample) {
	p.mu.Lock()
	defer p.mu.Unlock()

	line := renderBar(s, barWidth, p.tick)
	p.tick++
	if p.opts.Inline {
		fmt.Fprint(p.out, "\r\033[K"+barFillStyle.Render(line))
		p.progressOpen = true
		return
	}
	if !s.Known {
		return
	}
	bucket := s.Percent / 10
	if bucket == p.lastBucket {
		return
	}
	p.lastBucket = bucket
	fmt.Fprintln(p.out, line)
}

// closeProgress ends an inline progress line. Callers hold p.mu.
func (p *Presenter) closeProgress() {
	if p.progressOpen {
		fmt.Fprintln(p.out)
		p.progressOpen = false
	}
}

// =============================================================================
// TRANSCRIPT
// =============================================================================

// TranscriptChanged streams the reply as it arrives.
func (p *Presenter) TranscriptChanged(d chat.Delta) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch d.Kind {
	case chat.MessageAdded:
		if d.Message != nil && d.Message.Role == model.RoleAssistant {
			p.closeProgress()
			p.reply.Reset()
			fmt.Fprintln(p.out)
		}
	case chat.FragmentAppended:
		if p.renderer != nil {
			p.reply.WriteString(d.Fragment)
			return
		}
		fmt.Fprint(p.out, d.Fragment)
	case chat.MessageFinalized:
		p.finishReply(d.Message)
	}
}

// finishReply prints the rendered reply, its error annotation and stats.
// Callers hold p.mu.
func (p *Presenter) finishReply(msg *model.Message) {
	if p.renderer != nil && msg.Content != "" {
		if rendered, err := p.renderer.Render(msg.Content); err == nil {
			fmt.Fprint(p.out, rendered)
		} else {
			fmt.Fprint(p.out, msg.Content)
		}
	}
	p.reply.Reset()
	fmt.Fprintln(p.out)

	if msg.Error != "" {
		fmt.Fprintf(p.out, "%s %s\n", errorStyle.Render("[Error]"), msg.Error)
	}
	if p.opts.ShowStats {
		if stats := msg.FormatStats(); stats != "" {
			fmt.Fprintln(p.out, dimStyle.Render("[Stats] "+stats))
		}
	}
	fmt.Fprintln(p.out)
}

// =============================================================================
// NOTICES
// =============================================================================

// Notice prints a one-line message.
func (p *Presenter) Notice(level app.Level, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeProgress()

	switch level {
	case app.LevelWarn:
		fmt.Fprintf(p.out, "%s %s\n", warningStyle.Render("[Warning]"), text)
	case app.LevelError:
		fmt.Fprintf(p.out, "%s %s\n", errorStyle.Render("[Error]"), text)
	default:
		fmt.Fprintln(p.out, dimStyle.Render(text))
	}
}

// Printf writes formatted text.
func (p *Presenter) Printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeProgress()
	fmt.Fprintf(p.out, format, args...)
}

// History prints a numbered one-line summary of each message.
func (p *Presenter) History(msgs []*model.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(msgs) == 0 {
		fmt.Fprintln(p.out, dimStyle.Render("[No messages yet]"))
		return
	}
	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, titleStyle.Render("Conversation History"))
	fmt.Fprintln(p.out, renderSeparator(25))
	for i, msg := range msgs {
		content := util.TruncateRunes(util.OneLine(msg.Content), 100)
		if msg.Error != "" {
			content += " " + errorStyle.Render("[error]")
		}
		fmt.Fprintf(p.out, "  %d. %s: %s\n", i+1, roleName(msg.Role), content)
	}
	fmt.Fprintln(p.out)
}

func roleName(r model.Role) string {
	switch r {
	case model.RoleUser:
		return promptStyle.Render("You")
	case model.RoleAssistant:
		return titleStyle.Render("AI")
	default:
		return warningStyle.Render(r.DisplayName())
	}
}
