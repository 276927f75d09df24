// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/localchat/internal/app"
	"github.com/jeranaias/localchat/internal/cli"
	"github.com/jeranaias/localchat/internal/config"
	"github.com/jeranaias/localchat/internal/metrics"
)

// shutdownTimeout bounds flushing traces and closing the store on exit.
const shutdownTimeout = 5 * time.Second

func newChatCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, opts)
		},
	}
}

// runChat runs the REPL alongside the metrics server and the config
// watcher. Leaving the REPL stops the others.
func runChat(cmd *cobra.Command, opts *options) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	config.SetGlobal(cfg)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rt, err := openRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := rt.Close(sctx); err != nil {
			rt.logger.Warn("shutdown incomplete", "error", err)
		}
	}()

	tty := cli.IsStdoutTTY()
	presenter := cli.NewPresenter(cmd.OutOrStdout(), cli.PresenterOptions{
		Markdown:  cfg.UI.Markdown && tty,
		ShowStats: cfg.UI.ShowStats,
		Inline:    tty,
		Width:     cli.GetTerminalWidth(),
	})

	var loadTimeout time.Duration
	if cfg.Engine.LoadTimeoutSecs > 0 {
		loadTimeout = time.Duration(cfg.Engine.LoadTimeoutSecs) * time.Second
	}
	ctrl := app.New(app.Config{
		Engine:       rt.engine,
		Gateway:      rt.gateway,
		Presenter:    presenter,
		Logger:       rt.logger,
		DefaultModel: cfg.DefaultModel,
		SystemPrompt: cfg.SystemPrompt,
		LoadTimeout:  loadTimeout,
		Memory:       rt.memory(),
	})
	defer ctrl.Close()

	repl := cli.NewREPL(cli.REPLConfig{
		Controller:    ctrl,
		Presenter:     presenter,
		HistoryFile:   cfg.HistoryFile(),
		Local:         rt.local,
		Network:       rt.policy.Badge(),
		HandleSignals: true,
		Logger:        rt.logger.With("component", "repl"),
	})

	g, gctx := errgroup.WithContext(ctx)
	runCtx, stop := context.WithCancel(gctx)
	defer stop()

	if addr := cfg.Telemetry.MetricsAddr; addr != "" {
		if err := rt.policy.CheckListen(addr); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		srv := metrics.NewServer(addr, rt.logger.With("component", "metrics"))
		g.Go(func() error {
			if err := srv.Run(runCtx); err != nil {
				// Chat keeps working without metrics.
				rt.logger.Warn("metrics server stopped", "addr", addr, "error", err)
			}
			return nil
		})
	}

	if path, err := opts.path(); err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			g.Go(func() error {
				return config.Watch(runCtx, path, rt.logger.With("component", "config"), func(next *config.Config) {
					config.SetGlobal(next)
					ctrl.ApplySystemPrompt(next.SystemPrompt)
				})
			})
		}
	}

	g.Go(func() error {
		defer stop()
		return repl.Run(runCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
