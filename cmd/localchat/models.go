// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/localchat/internal/catalog"
	"github.com/jeranaias/localchat/internal/cli"
)

func newModelsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the model catalog and which models are already local",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			rt, err := openRuntime(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer rt.Close(context.Background())

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			local, err := rt.local(ctx)
			if err != nil {
				rt.logger.Debug("local model probe failed", "error", err)
				fmt.Fprintln(cmd.ErrOrStderr(), "Warning: could not reach the engine; local models are not marked.")
			}

			var current string
			if last, err := rt.gateway.GetLastUsedModel(ctx); err == nil && last != nil {
				current = last.ModelID
			}
			out := cmd.OutOrStdout()
			if rt.policy.LocalOnly {
				if acc, err := rt.detector.Cached(ctx); err == nil {
					fmt.Fprintf(out, "Detected: %s\n\n", acc)
				}
			}
			fmt.Fprintln(out, catalog.Table(local, current, cli.GetTerminalWidth()))
			return nil
		},
	}
}
