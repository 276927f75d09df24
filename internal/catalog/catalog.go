// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package catalog

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/jeranaias/localchat/internal/util"
)

// DefaultModelID is loaded on first start when no model was used before.
const DefaultModelID = "Qwen2.5-1.5B-Instruct-q4f32_1-MLC"

// =============================================================================
// SIZE CLASS
// =============================================================================

// SizeClass groups models by the hardware they need.
type SizeClass int

const (
	SizeUnknown SizeClass = iota
	SizeSmall
	SizeMedium
	SizeLarge
)

var titleCaser = cases.Title(language.English)

func (c SizeClass) String() string {
	switch c {
	case SizeSmall:
		return "small"
	case SizeMedium:
		return "medium"
	case SizeLarge:
		return "large"
	default:
		return "unknown"
	}
}

// Label returns the capitalized class name.
func (c SizeClass) Label() string {
	return titleCaser.String(c.String())
}

// GroupTitle returns the heading used when listing models by class.
func (c SizeClass) GroupTitle() string {
	switch c {
	case SizeSmall:
		return "Small Models (Recommended for most devices)"
	case SizeMedium:
		return "Medium Models (Faster GPUs recommended)"
	case SizeLarge:
		return "Large Models (Powerful but requires high-end GPU)"
	default:
		return "Other Models"
	}
}

// =============================================================================
// ENTRIES
// =============================================================================

// Entry describes one model.
type Entry struct {
	ID    string
	Label string
	Size  uint64 // bytes; 0 when unknown
	Class SizeClass

	// OllamaTag is the equivalent Ollama library tag, if one exists.
	OllamaTag string

	// Hidden entries are known but not offered in listings.
	Hidden bool
}

// DisplayName renders "Qwen2.5 1.5B (1.9 GB)".
func (e Entry) DisplayName() string {
	if e.Size == 0 {
		return e.Label
	}
	return fmt.Sprintf("%s (%s)", e.Label, e.SizeText())
}

// SizeText returns the human readable download size, or "" when unknown.
func (e Entry) SizeText() string {
	if e.Size == 0 {
		return ""
	}
	return humanize.Bytes(e.Size)
}

// ResourceWarning returns a warning for large models, "" otherwise.
func (e Entry) ResourceWarning() string {
	if e.Class != SizeLarge {
		return ""
	}
	return fmt.Sprintf("%s is a large model: it needs a high-end GPU and plenty of memory, and may load slowly or fail on this machine.", e.Label)
}

// MemoryWarning returns a warning when the download is larger than the
// usable memory reported for this machine. available 0 means unknown.
func (e Entry) MemoryWarning(available uint64) string {
	if e.Size == 0 || available == 0 || e.Size <= available {
		return ""
	}
	return fmt.Sprintf("%s needs about %s but only %s of model memory was found; loading may fail.",
		e.Label, humanize.Bytes(e.Size), humanize.IBytes(available))
}

func gb(f float64) uint64 {
	return uint64(f * 1e9)
}

var entries = []Entry{
	{ID: "Qwen2.5-0.5B-Instruct-q4f32_1-MLC", Label: "Qwen2.5 0.5B", Size: gb(1.1), Class: SizeSmall, OllamaTag: "qwen2.5:0.5b"},
	{ID: "SmolLM2-360M-Instruct-q4f32_1-MLC", Label: "SmolLM2 360M", Size: gb(0.6), Class: SizeSmall, OllamaTag: "smollm2:360m"},
	{ID: "Qwen2.5-1.5B-Instruct-q4f32_1-MLC", Label: "Qwen2.5 1.5B", Size: gb(1.9), Class: SizeSmall, OllamaTag: "qwen2.5:1.5b"},
	{ID: "TinyLlama-1.1B-Chat-v1.0-q4f32_1-MLC", Label: "TinyLlama 1.1B", Size: gb(0.8), Class: SizeSmall, OllamaTag: "tinyllama:1.1b"},
	{ID: "phi-1_5-q4f32_1-MLC", Label: "Phi 1.5", Size: gb(1.7), Class: SizeSmall},
	{ID: "Qwen2.5-3B-Instruct-q4f32_1-MLC", Label: "Qwen2.5 3B", Class: SizeMedium, OllamaTag: "qwen2.5:3b", Hidden: true},
	{ID: "Qwen2.5-7B-Instruct-q4f32_1-MLC", Label: "Qwen2.5 7B", Size: gb(5.9), Class: SizeMedium, OllamaTag: "qwen2.5:7b"},
	{ID: "DeepSeek-R1-Distill-Llama-8B-q4f32_1-MLC", Label: "DeepSeek R1 Llama 8B", Size: gb(6.1), Class: SizeMedium, OllamaTag: "deepseek-r1:8b"},
	{ID: "Llama-3.1-8B-Instruct-q4f32_1-MLC", Label: "Llama 3.1 8B", Size: gb(6.1), Class: SizeMedium, OllamaTag: "llama3.1:8b"},
	{ID: "Hermes-3-Llama-3.1-8B-q4f32_1-MLC", Label: "Hermes 3 Llama 8B", Size: gb(5.8), Class: SizeMedium, OllamaTag: "hermes3:8b"},
	{ID: "Qwen2.5-32B-Instruct-q4f32_1-MLC", Label: "Qwen2.5 32B", Size: gb(32), Class: SizeLarge, OllamaTag: "qwen2.5:32b"},
	{ID: "Phi-3.5-mini-instruct-q4f32_1-MLC", Label: "Phi 3.5 Mini", Size: gb(5.5), Class: SizeLarge, OllamaTag: "phi3.5:3.8b"},
	{ID: "gemma-2-9b-it-q4f32_1-MLC", Label: "Gemma 2 9B", Size: gb(8.4), Class: SizeLarge, OllamaTag: "gemma2:9b"},
}

var byID = func() map[string]Entry {
	m := make(map[string]Entry, len(entries))
	for _, e := range entries {
		m[e.ID] = e
	}
	return m
}()

// All returns every listed entry in display order.
func All() []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if !e.Hidden {
			out = append(out, e)
		}
	}
	return out
}

// Lookup finds a catalog entry by exact id.
func Lookup(id string) (Entry, bool) {
	e, ok := byID[id]
	return e, ok
}

// Describe returns the catalog entry for id, or a bare entry labelled with
// the id when it is not in the catalog.
func Describe(id string) Entry {
	if e, ok := byID[id]; ok {
		return e
	}
	return Entry{ID: id, Label: id}
}

// Resolve matches user input against ids case-insensitively, then against
// display labels. Unmatched input is returned as is.
func Resolve(input string) string {
	input = strings.TrimSpace(input)
	if _, ok := byID[input]; ok {
		return input
	}
	for _, e := range entries {
		if strings.EqualFold(e.ID, input) || strings.EqualFold(e.Label, input) || (e.OllamaTag != "" && e.OllamaTag == input) {
			return e.ID
		}
	}
	return input
}

// OllamaAliases maps catalog ids to Ollama tags.
func OllamaAliases() map[string]string {
	m := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.OllamaTag != "" {
			m[e.ID] = e.OllamaTag
		}
	}
	return m
}

// =============================================================================
// TABLE
// =============================================================================

// Table renders the listed entries grouped by size class. local marks ids
// already available without a download; current marks the loaded model.
func Table(local map[string]bool, current string, width int) string {
	if width <= 0 {
		width = 80
	}
	nameWidth := width - 34
	if nameWidth < 16 {
		nameWidth = 16
	}

	var sb strings.Builder
	class := SizeUnknown
	for _, e := range All() {
		if e.Class != class {
			if class != SizeUnknown {
				sb.WriteByte('\n')
			}
			class = e.Class
			sb.WriteString(class.GroupTitle())
			sb.WriteByte('\n')
		}

		marker := "  "
		if e.ID == current {
			marker = "* "
		}
		status := ""
		if local[e.ID] {
			status = "local"
		}

		sb.WriteString(marker)
		sb.WriteString(util.PadWidth(e.DisplayName(), nameWidth))
		sb.WriteString("  ")
		sb.WriteString(util.PadWidth(status, 6))
		sb.WriteString("  ")
		sb.WriteString(util.TruncateWidth(e.ID, 40))
		sb.WriteByte('\n')
	}
	return sb.String()
}
