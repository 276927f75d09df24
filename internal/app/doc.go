// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package app connects user intents to the model lifecycle and the chat
// session, and mirrors their state to a Presenter.
//
// # Key Types
//
//   - Controller: intent dispatch (select model, submit, clear, retry)
//   - Presenter: the port a front end implements
//   - Status: point-in-time summary for status displays
//
// # Usage
//
//	ctrl := app.New(app.Config{Engine: eng, Gateway: gw, Presenter: repl})
//	if err := ctrl.Start(ctx); err != nil {
//	    // load failures are also reported to the presenter
//	}
//	ctrl.Submit(ctx, "Hello")
package app
