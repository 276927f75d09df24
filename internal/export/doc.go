// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes stored transcripts to Markdown or JSON files.
//
// # Key Types
//
//   - Exporter: Format-specific renderer
//   - MarkdownExporter: Human-readable Markdown with optional metadata
//   - JSONExporter: Faithful JSON dump of the stored transcript
//   - Options: Output directory and metadata toggles
//
// # Usage
//
//	path, err := export.ToFile(transcript, "markdown", export.DefaultOptions())
//
// Files are written atomically so a crash never leaves a half-written export.
package export
