// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package catalog lists the models offered for selection.
//
// # Key Types
//
//   - Entry: one selectable model with display name, size and size class
//   - SizeClass: small, medium or large; large models carry a resource warning
//   - Inventory: cached, deduplicated view of which models are already local
//
// # Usage
//
//	e := catalog.Describe(catalog.DefaultModelID)
//	fmt.Println(e.DisplayName()) // "Qwen2.5 1.5B (1.9 GB)"
//	if w := e.ResourceWarning(); w != "" {
//	    fmt.Println(w)
//	}
//
// Ids that are not in the catalog are still valid; Describe returns an
// entry whose display name is the id itself.
package catalog
