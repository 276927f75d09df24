// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jeranaias/localchat/internal/catalog"
	"github.com/jeranaias/localchat/internal/config"
	"github.com/jeranaias/localchat/internal/detect"
	"github.com/jeranaias/localchat/internal/engine"
	"github.com/jeranaias/localchat/internal/engine/ollama"
	"github.com/jeranaias/localchat/internal/engine/openai"
	"github.com/jeranaias/localchat/internal/logging"
	"github.com/jeranaias/localchat/internal/offline"
	"github.com/jeranaias/localchat/internal/storage"
	"github.com/jeranaias/localchat/internal/telemetry"
)

// inventoryTTL bounds how stale the /models "local" column may be.
const inventoryTTL = 30 * time.Second

// runtime holds the process-wide services built from a Config.
type runtime struct {
	cfg     *config.Config
	policy  offline.Policy
	logger  *slog.Logger
	gateway *storage.Gateway
	engine  engine.Engine

	// inventory is nil when the engine cannot list local models.
	inventory *catalog.Inventory

	detector *detect.Detector

	closers []func(ctx context.Context) error
}

// openRuntime builds the logger, tracer, store and engine. Close releases
// them in reverse order.
func openRuntime(ctx context.Context, cfg *config.Config) (_ *runtime, err error) {
	rt := &runtime{
		cfg:      cfg,
		policy:   offline.Policy{LocalOnly: cfg.Engine.LocalOnly},
		detector: detect.New(),
	}
	endpoint := cfg.Engine.OllamaURL
	if cfg.Engine.Kind == "openai" {
		endpoint = cfg.Engine.OpenAIURL
	}
	if err := rt.policy.CheckEndpoint(endpoint); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	defer func() {
		if err != nil {
			rt.Close(context.Background())
		}
	}()

	logger, logCloser, err := logging.New(logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.LogFile(),
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Stderr:     cfg.Logging.Stderr,
	})
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	rt.logger = logger
	rt.onClose(closeFunc(logCloser))
	slog.SetDefault(logger)

	shutdown, err := telemetry.Init(ctx, telemetry.Options{
		Enabled: cfg.Telemetry.TracesEnabled,
		File:    cfg.TracesFile(),
		Version: Version,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	rt.onClose(shutdown)

	store, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	rt.gateway = storage.NewGateway(store, logger.With("component", "storage"))
	rt.onClose(func(context.Context) error { return rt.gateway.Close() })

	rt.engine, rt.inventory = newEngine(cfg, logger)
	logger.Info("localchat starting",
		"version", Version,
		"engine", cfg.Engine.Kind,
		"storage", cfg.Storage.Backend,
		"network", rt.policy.Badge(),
		"data_dir", cfg.DataDir())
	return rt, nil
}

// openStore opens the configured storage backend.
func openStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case "badger":
		store, err := storage.OpenBadger(storage.BadgerConfig{
			Path:           cfg.StorePath(),
			Logger:         logger.With("component", "badger"),
			MaxTranscripts: cfg.Storage.MaxTranscripts,
		})
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		return store, nil
	default:
		store, err := storage.OpenSQLite(storage.SQLiteConfig{
			Path:           cfg.StorePath(),
			MaxTranscripts: cfg.Storage.MaxTranscripts,
		})
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		return store, nil
	}
}

// newEngine builds the configured engine adapter. Configured aliases
// override the built-in catalog mapping.
func newEngine(cfg *config.Config, logger *slog.Logger) (engine.Engine, *catalog.Inventory) {
	switch cfg.Engine.Kind {
	case "openai":
		return openai.New(openai.Config{
			BaseURL:     cfg.Engine.OpenAIURL,
			APIKey:      cfg.Engine.OpenAIKey,
			Aliases:     cfg.Engine.Aliases,
			Temperature: float32(cfg.Engine.Temperature),
			Logger:      logger,
		}), nil
	default:
		aliases := catalog.OllamaAliases()
		for id, tag := range cfg.Engine.Aliases {
			aliases[id] = tag
		}
		clientCfg := ollama.DefaultConfig()
		clientCfg.BaseURL = cfg.Engine.OllamaURL
		eng := ollama.New(ollama.Config{
			Client:    clientCfg,
			Aliases:   aliases,
			AutoStart: cfg.Engine.AutoStart,
			Options:   &ollama.Options{Temperature: cfg.Engine.Temperature},
			Logger:    logger,
		})
		inv := catalog.NewInventory(func(ctx context.Context) ([]string, error) {
			models, err := eng.Client().ListModels(ctx)
			if err != nil {
				return nil, err
			}
			names := make([]string, len(models))
			for i, m := range models {
				names[i] = m.Name
			}
			return names, nil
		}, eng.Tag, inventoryTTL)
		return eng, inv
	}
}

func (rt *runtime) onClose(fn func(ctx context.Context) error) {
	rt.closers = append(rt.closers, fn)
}

// Close releases everything openRuntime acquired, newest first.
func (rt *runtime) Close(ctx context.Context) error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// local reports which catalog ids need no download. Without an inventory
// it answers from the downloaded flags the gateway recorded.
func (rt *runtime) local(ctx context.Context) (map[string]bool, error) {
	if rt.inventory != nil {
		return rt.inventory.Local(ctx)
	}
	set := make(map[string]bool)
	for _, e := range catalog.All() {
		if rt.gateway.IsDownloaded(ctx, e.ID) {
			set[e.ID] = true
		}
	}
	return set, nil
}

// memory reports usable model memory on this machine. It only applies when
// the engine is local.
func (rt *runtime) memory() func(ctx context.Context) (uint64, error) {
	if !rt.policy.LocalOnly {
		return nil
	}
	return func(ctx context.Context) (uint64, error) {
		acc, err := rt.detector.Cached(ctx)
		if err != nil {
			return 0, err
		}
		rt.logger.Debug("accelerator detected", "name", acc.Name, "kind", acc.Kind.String(), "memory", acc.Memory)
		return acc.Memory, nil
	}
}

func closeFunc(c io.Closer) func(context.Context) error {
	return func(context.Context) error { return c.Close() }
}
