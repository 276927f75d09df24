// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package offline keeps conversations on the machine.
//
// In local-only mode every endpoint localchat talks to or listens on must be
// a loopback address, so prompts and replies never leave the host. URL
// schemes other than http and https are rejected in every mode.
//
// # Key Types
//
//   - Policy: the local-only switch and the checks it implies
//
// # Usage
//
//	policy := offline.Policy{LocalOnly: cfg.Engine.LocalOnly}
//	if err := policy.CheckEndpoint(cfg.Engine.OllamaURL); err != nil {
//		return err
//	}
//	if err := policy.CheckListen(cfg.Telemetry.MetricsAddr); err != nil {
//		return err
//	}
package offline
