// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry wires OpenTelemetry tracing for localchat.
//
// Spans are recorded around model loads, generations and persistence
// calls by the packages that perform them; this package only installs the
// global tracer provider. Traces are exported as JSON lines to a rotating
// local file. Nothing is transmitted.
//
// # Key Types
//
//   - Options: where and whether to export spans
//   - Shutdown: flushes pending spans and closes the file
//
// # Usage
//
//	shutdown, err := telemetry.Init(ctx, telemetry.Options{
//	    Enabled: true,
//	    File:    filepath.Join(dataDir, "logs", "traces.jsonl"),
//	})
//	defer shutdown(context.Background())
package telemetry
