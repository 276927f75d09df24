// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across localchat.
//
// # Key Functions
//
// String Utilities:
//   - TruncateRunes: UTF-8 safe truncation with ellipsis
//   - TruncateWidth, PadWidth: Display-width aware truncation and padding
//   - OneLine: Collapse newlines for single-line previews
//
// File Operations:
//   - AtomicWriteFile: Crash-safe file writing with fsync
//
// # Usage
//
//	display := util.TruncateRunes(longText, 50)
//	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
//	    return err
//	}
package util
