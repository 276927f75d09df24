// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes stored transcripts to Markdown or JSON files.
package export

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeranaias/localchat/internal/storage"
	"github.com/jeranaias/localchat/internal/util"
)

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Exporter defines the interface for transcript exporters.
type Exporter interface {
	// Export converts a transcript to the target format.
	Export(t *storage.StoredTranscript) ([]byte, error)

	// FileExtension returns the file extension (e.g., ".md").
	FileExtension() string
}

// ErrEmptyTranscript is returned when there is nothing to export.
var ErrEmptyTranscript = errors.New("transcript has no messages")

// =============================================================================
// EXPORT OPTIONS
// =============================================================================

// Options configures export behavior.
type Options struct {
	// OutputDir is the directory where files are written.
	OutputDir string

	// Path overrides the generated file name when set.
	Path string

	// IncludeMetadata adds a front-matter header and per-message stats.
	IncludeMetadata bool

	// IncludeTimestamps adds per-message timestamps.
	IncludeTimestamps bool
}

// DefaultOptions returns default export options.
func DefaultOptions() *Options {
	return &Options{
		OutputDir:         ".",
		IncludeMetadata:   true,
		IncludeTimestamps: true,
	}
}

// =============================================================================
// EXPORT FUNCTIONS
// =============================================================================

// ForFormat returns the exporter for a format name.
func ForFormat(format string, opts *Options) (Exporter, error) {
	switch strings.ToLower(format) {
	case "markdown", "md":
		return NewMarkdownExporter(opts), nil
	case "json":
		return NewJSONExporter(), nil
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}

// ToFile renders t in format and writes it, returning the output path.
func ToFile(t *storage.StoredTranscript, format string, opts *Options) (string, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	exporter, err := ForFormat(format, opts)
	if err != nil {
		return "", err
	}
	return ExportToFile(t, exporter, opts)
}

// ExportToFile exports a transcript using exporter and returns the path.
func ExportToFile(t *storage.StoredTranscript, exporter Exporter, opts *Options) (string, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	content, err := exporter.Export(t)
	if err != nil {
		return "", fmt.Errorf("export failed: %w", err)
	}

	outputPath := opts.Path
	if outputPath == "" {
		filename := fmt.Sprintf("transcript_%s_%s%s",
			sanitizeFilename(t.Summary),
			time.Now().Format("20060102_150405"),
			exporter.FileExtension(),
		)
		outputPath = filepath.Join(opts.OutputDir, filename)
	}

	if err := util.AtomicWriteFile(outputPath, content, 0644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return outputPath, nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// sanitizeFilename replaces characters that are invalid in filenames.
func sanitizeFilename(s string) string {
	runes := []rune(s)
	if len(runes) > 50 {
		runes = runes[:50]
	}

	result := make([]rune, 0, len(runes))
	for _, r := range runes {
		switch {
		case strings.ContainsRune(`/\:*?"<>|`, r):
			result = append(result, '-')
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			result = append(result, '_')
		case r < 32 || r == 127:
			result = append(result, '-')
		default:
			result = append(result, r)
		}
	}

	if len(result) == 0 {
		return "transcript"
	}
	return string(result)
}

// formatDuration formats milliseconds for display.
func formatDuration(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	seconds := float64(ms) / 1000.0
	if seconds < 60 {
		return fmt.Sprintf("%.2fs", seconds)
	}
	return fmt.Sprintf("%dm %ds", int(seconds/60), int(seconds)%60)
}
