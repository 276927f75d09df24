// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// init configures the lipgloss color profile for this terminal.
func init() {
	lipgloss.SetColorProfile(GetColorProfile())
}

// =============================================================================
// STYLES
// =============================================================================

var (
	// promptStyle is the REPL prompt
	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")). // Cyan
			Bold(true)

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("141")). // Purple
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")). // Light gray
			Width(14)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	commandStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")) // Green

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")) // Yellow/Orange

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")). // Red
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("242"))

	// barFillStyle colors the filled part of the progress bar
	barFillStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("75")) // Blue

	separatorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

// renderSeparator renders a horizontal rule of width w.
func renderSeparator(w int) string {
	return separatorStyle.Render(strings.Repeat("─", w))
}

// renderLabel renders "Label:" padded to the label column.
func renderLabel(label string) string {
	return labelStyle.Render(label + ":")
}
