// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the interactive chat REPL for localchat.
//
// The REPL is the Presenter of the app package: it renders lifecycle state,
// a progress bar while a model loads, streamed reply fragments and inline
// error annotations. Input is read with line editing and a persistent
// history file. Ctrl+C cancels the reply being generated.
//
// # Key Types
//
//   - REPL: the read-eval-print loop
//   - Presenter: renders core events to a writer
//   - LineReader: line input, satisfied by liner
//
// # Usage
//
//	p := cli.NewPresenter(os.Stdout, cli.PresenterOptions{Markdown: true})
//	ctrl := app.New(app.Config{Engine: eng, Gateway: gw, Presenter: p})
//	repl := cli.NewREPL(cli.REPLConfig{Controller: ctrl, Presenter: p})
//	return repl.Run(ctx)
//
// # Interactive Commands
//
//	/model <id>     Load a model by id or label
//	/models         List the catalog
//	/clear          Clear the conversation and stored history
//	/system [text]  Show or set the system prompt
//	/status         Show model and session state
//	/retry          Retry a failed load or the last prompt
//	/help           Show commands
//	/quit           Exit
package cli
