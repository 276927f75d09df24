// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package catalog

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ListFunc returns the model names the engine already has locally.
type ListFunc func(ctx context.Context) ([]string, error)

// Inventory answers "which catalog models are local" from a ListFunc.
// Concurrent callers share one in-flight query and results are cached for
// TTL.
type Inventory struct {
	list    ListFunc
	nameFor func(id string) string
	ttl     time.Duration

	group singleflight.Group

	mu        sync.Mutex
	cached    map[string]bool
	fetchedAt time.Time
	now       func() time.Time
}

// NewInventory creates an inventory. nameFor maps a model id to the name
// the engine lists it under; nil means the id itself.
func NewInventory(list ListFunc, nameFor func(id string) string, ttl time.Duration) *Inventory {
	if nameFor == nil {
		nameFor = func(id string) string { return id }
	}
	return &Inventory{list: list, nameFor: nameFor, ttl: ttl, now: time.Now}
}

// Local returns the set of ids, catalog or not, whose engine name is
// listed. Names that match no catalog entry are included verbatim.
func (inv *Inventory) Local(ctx context.Context) (map[string]bool, error) {
	inv.mu.Lock()
	if inv.cached != nil && inv.now().Sub(inv.fetchedAt) < inv.ttl {
		out := copySet(inv.cached)
		inv.mu.Unlock()
		return out, nil
	}
	inv.mu.Unlock()

	v, err, _ := inv.group.Do("local", func() (any, error) {
		names, err := inv.list(ctx)
		if err != nil {
			return nil, err
		}
		set := make(map[string]bool, len(names))
		listed := make(map[string]bool, len(names))
		for _, n := range names {
			listed[n] = true
			set[n] = true
		}
		for _, e := range entries {
			if listed[inv.nameFor(e.ID)] {
				set[e.ID] = true
			}
		}

		inv.mu.Lock()
		inv.cached = set
		inv.fetchedAt = inv.now()
		inv.mu.Unlock()
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return copySet(v.(map[string]bool)), nil
}

// Invalidate drops the cached result, e.g. after a model was pulled.
func (inv *Inventory) Invalidate() {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.cached = nil
}

func copySet(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
