// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/localchat/internal/storage"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter exports transcripts to Markdown.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a new Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts}
}

// Export converts a transcript to Markdown.
func (e *MarkdownExporter) Export(t *storage.StoredTranscript) ([]byte, error) {
	if t == nil {
		return nil, errors.New("transcript is nil")
	}
	if len(t.Messages) == 0 {
		return nil, ErrEmptyTranscript
	}

	var sb strings.Builder

	if e.options.IncludeMetadata {
		sb.WriteString("---\n")
		fmt.Fprintf(&sb, "title: %s\n", escapeYAML(t.Summary))
		if t.Model != "" {
			fmt.Fprintf(&sb, "model: %s\n", escapeYAML(t.Model))
		}
		if !t.SavedAt.IsZero() {
			fmt.Fprintf(&sb, "saved: %s\n", t.SavedAt.Format(time.RFC3339))
		}
		fmt.Fprintf(&sb, "messages: %d\n", len(t.Messages))
		sb.WriteString("generator: localchat\n")
		sb.WriteString("---\n\n")
	}

	fmt.Fprintf(&sb, "# %s\n\n", escapeMarkdown(t.Summary))

	for i, msg := range t.Messages {
		label := roleLabel(msg.Role)
		if e.options.IncludeTimestamps && !msg.Timestamp.IsZero() {
			fmt.Fprintf(&sb, "### %s <sub>%s</sub>\n\n", label, msg.Timestamp.Format("15:04:05"))
		} else {
			fmt.Fprintf(&sb, "### %s\n\n", label)
		}

		sb.WriteString(strings.TrimSpace(msg.Content))
		sb.WriteString("\n\n")

		if msg.Error != "" {
			fmt.Fprintf(&sb, "> **Error:** %s\n\n", msg.Error)
		}
		if msg.Role == "assistant" && e.options.IncludeMetadata {
			if stats := formatStats(&msg); stats != "" {
				sb.WriteString(stats)
				sb.WriteString("\n\n")
			}
		}

		if i < len(t.Messages)-1 {
			sb.WriteString("---\n\n")
		}
	}

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// =============================================================================
// FORMATTING HELPERS
// =============================================================================

func roleLabel(role string) string {
	switch role {
	case "user":
		return "User"
	case "assistant":
		return "Assistant"
	case "system":
		return "System"
	case "":
		return "Unknown"
	default:
		return role
	}
}

func formatStats(msg *storage.StoredMessage) string {
	var parts []string
	if msg.Fragments > 0 {
		parts = append(parts, fmt.Sprintf("Fragments: %d", msg.Fragments))
	}
	if msg.DurationMs > 0 {
		parts = append(parts, "Duration: "+formatDuration(msg.DurationMs))
	}
	if msg.TTFTMs > 0 {
		parts = append(parts, "TTFT: "+formatDuration(msg.TTFTMs))
	}
	if len(parts) == 0 {
		return ""
	}
	return "<sub>Stats: " + strings.Join(parts, " | ") + "</sub>"
}

// escapeMarkdown escapes characters that would break a heading.
func escapeMarkdown(s string) string {
	r := strings.NewReplacer("#", `\#`, "*", `\*`, "_", `\_`, "[", `\[`, "]", `\]`)
	return r.Replace(s)
}

// escapeYAML quotes values containing YAML special characters.
func escapeYAML(s string) string {
	if strings.ContainsAny(s, ":#|>@`\"'[]{}!%&*\n\r\\") || strings.HasPrefix(s, " ") || strings.HasSuffix(s, " ") {
		r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", `\r`)
		return `"` + r.Replace(s) + `"`
	}
	return s
}
