// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchDebounce is how long Watch waits after the last change event before
// reloading. Editors often write a file in several steps.
const WatchDebounce = 200 * time.Millisecond

// Watch reloads path whenever it changes and calls fn with the new,
// validated configuration. Invalid edits are logged and skipped. Watch
// blocks until ctx is done.
//
// The parent directory is watched rather than the file so that editors
// which save by rename keep triggering reloads.
func Watch(ctx context.Context, path string, logger *slog.Logger, fn func(*Config)) error {
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(WatchDebounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", "error", err)

		case <-timer.C:
			cfg, err := LoadFromPath(abs)
			if err != nil {
				logger.Warn("config reload skipped", "path", abs, "error", err)
				continue
			}
			logger.Info("config reloaded", "path", abs)
			fn(cfg)
		}
	}
}
