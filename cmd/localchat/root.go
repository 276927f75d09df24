// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jeranaias/localchat/internal/config"
)

// options holds the persistent flags.
type options struct {
	configPath string
	model      string
	engine     string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "localchat",
		Short: "Chat with a local language model",
		Long: `localchat downloads, loads and chats with language models running on
your own machine. Conversations are saved locally and restored on the
next start.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", Version, GitCommit, BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, opts)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "config file (default ~/.localchat/config.toml)")
	flags.StringVarP(&opts.model, "model", "m", "", "model to load on first start")
	flags.StringVar(&opts.engine, "engine", "", "inference engine: ollama or openai")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "mirror debug logs to stderr")

	root.AddCommand(
		newChatCmd(opts),
		newModelsCmd(opts),
		newHistoryCmd(opts),
		newConfigCmd(opts),
	)
	return root
}

// path returns the --config value or the default location.
func (o *options) path() (string, error) {
	if o.configPath != "" {
		return o.configPath, nil
	}
	return config.ConfigPathTOML()
}

// loadConfig reads the config file, falling back to defaults when it does
// not exist, and applies environment and flag overrides.
func (o *options) loadConfig() (*config.Config, error) {
	path, err := o.path()
	if err != nil {
		return nil, err
	}

	var cfg *config.Config
	if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
		cfg = config.Default()
	} else {
		cfg = config.Default()
		if err := config.LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	}
	cfg.ApplyEnvOverrides()

	if o.model != "" {
		cfg.DefaultModel = o.model
	}
	if o.engine != "" {
		cfg.Engine.Kind = o.engine
	}
	if o.verbose {
		cfg.Logging.Level = "debug"
		cfg.Logging.Stderr = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
