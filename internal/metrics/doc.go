// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics exposes Prometheus instruments for model loads,
// generations, and persistence.
//
// # Key Types
//
//   - Server: Optional HTTP endpoint serving /metrics
//
// Instruments are package-level and registered on the default registry, so
// every component records into the same process-wide set.
package metrics
