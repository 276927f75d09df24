// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jeranaias/localchat/internal/export"
	"github.com/jeranaias/localchat/internal/storage"
	"github.com/jeranaias/localchat/internal/util"
)

func newHistoryCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List, export or clear saved conversations",
	}
	cmd.AddCommand(
		newHistoryListCmd(opts),
		newHistoryExportCmd(opts),
		newHistoryClearCmd(opts),
	)
	return cmd
}

// withGateway opens the runtime for a one-shot command.
func withGateway(cmd *cobra.Command, opts *options, fn func(rt *runtime) error) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	rt, err := openRuntime(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())
	return fn(rt)
}

func newHistoryListCmd(opts *options) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved conversations, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGateway(cmd, opts, func(rt *runtime) error {
				metas, err := rt.gateway.ListTranscripts(cmd.Context(), limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(metas) == 0 {
					fmt.Fprintln(out, "No saved conversations.")
					return nil
				}
				for _, m := range metas {
					fmt.Fprintf(out, "%s  %-14s  %3d msgs  %s\n",
						util.PadWidth(m.ID, 36),
						humanize.Time(m.SavedAt),
						m.MessageCount,
						util.TruncateWidth(util.OneLine(m.Summary), 50))
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of conversations")
	return cmd
}

func newHistoryExportCmd(opts *options) *cobra.Command {
	var (
		format     string
		output     string
		dir        string
		noMetadata bool
	)
	cmd := &cobra.Command{
		Use:   "export [id]",
		Short: "Export a conversation (the latest when no id is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGateway(cmd, opts, func(rt *runtime) error {
				var (
					stored *storage.StoredTranscript
					err    error
				)
				if len(args) == 1 {
					stored, err = rt.gateway.Store().LoadTranscript(cmd.Context(), args[0])
				} else {
					stored, err = rt.gateway.LatestStored(cmd.Context())
				}
				if err != nil {
					return err
				}
				if stored == nil {
					return fmt.Errorf("no saved conversation to export")
				}

				exportOpts := export.DefaultOptions()
				exportOpts.Path = output
				if dir != "" {
					exportOpts.OutputDir = dir
				}
				exportOpts.IncludeMetadata = !noMetadata
				path, err := export.ToFile(stored, format, exportOpts)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Exported %d messages to %s\n", len(stored.Messages), path)
				return nil
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&format, "format", "f", "markdown", "export format: markdown or json")
	flags.StringVarP(&output, "output", "o", "", "output file (default: generated name)")
	flags.StringVar(&dir, "dir", "", "output directory for generated names")
	flags.BoolVar(&noMetadata, "no-metadata", false, "omit the header and per-message stats")
	return cmd
}

func newHistoryClearCmd(opts *options) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all saved conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes && !confirm(cmd, "Delete all saved conversations? [y/N] ") {
				fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
				return nil
			}
			return withGateway(cmd, opts, func(rt *runtime) error {
				if err := rt.gateway.ClearTranscripts(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Saved conversations deleted.")
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

// confirm reads a yes/no answer from the command's input.
func confirm(cmd *cobra.Command, question string) bool {
	fmt.Fprint(cmd.OutOrStdout(), question)
	answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
