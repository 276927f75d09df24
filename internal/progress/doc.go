// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package progress converts engine progress notifications into percentages.
//
// Inference engines report load progress in whatever shape they like: a bare
// fraction, an object with a progress field, or free-form status text. This
// package resolves all of them into a single renderable Sample.
//
// # Key Types
//
//   - Sample: Normalized percent, ETA text, and where the value came from
//   - Report: Structured notification emitted by the bundled engine adapters
//   - Source: Which input shape produced the percent
//
// # Usage
//
//	started := time.Now()
//	onProgress := func(raw any) {
//	    s := progress.Normalize(raw, started)
//	    if !s.Known {
//	        spinner.Tick()
//	        return
//	    }
//	    bar.Set(s.Percent, s.ETA)
//	}
//
// Normalize is total: it never panics and always returns either a known
// percent in [0,100] or the unknown sentinel.
package progress
