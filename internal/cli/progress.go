// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"strings"

	"github.com/jeranaias/localchat/internal/progress"
	"github.com/jeranaias/localchat/internal/util"
)

// barWidth is the number of cells between the brackets.
const barWidth = 20

// renderBar draws "[#####...............] 25% (12s remaining)". An unknown
// sample draws a block that moves with tick, followed by the last known
// percent, so the bar keeps moving while the engine reports nothing usable.
func renderBar(s progress.Sample, width, tick int) string {
	if width < 4 {
		width = 4
	}
	var b strings.Builder
	b.Grow(width + 32)
	b.WriteByte('[')

	if s.Known {
		filled := s.Percent * width / 100
		b.WriteString(strings.Repeat("#", filled))
		b.WriteString(strings.Repeat(".", width-filled))
		b.WriteString("] ")
		b.WriteString(s.String())
		return b.String()
	}

	const block = 3
	pos := tick % (width - block + 1)
	b.WriteString(strings.Repeat(".", pos))
	b.WriteString(strings.Repeat("#", block))
	b.WriteString(strings.Repeat(".", width-pos-block))
	b.WriteString("] ")
	b.WriteString(progress.Sample{Percent: s.Percent, Known: true}.String())
	if s.Text != "" {
		b.WriteString(" ")
		b.WriteString(util.TruncateWidth(util.OneLine(s.Text), 40))
	}
	return b.String()
}
