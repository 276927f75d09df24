// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for transcripts and messages.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// ParseRole converts a stored role string back into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in a transcript.
//
// Messages are handled by pointer inside a Transcript; use Clone to hand a
// copy to another goroutine.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	// Streaming state (not persisted)
	// PERFORMANCE: strings.Builder avoids quadratic allocations during streaming
	InProgress    bool            `json:"-"`
	streamContent strings.Builder `json:"-"`

	// Error is the inline annotation left when generation failed part way.
	Error string `json:"error,omitempty"`

	// Performance metrics (for assistant messages)
	Fragments     int           `json:"fragments,omitempty"`
	TTFT          time.Duration `json:"ttft_ns,omitempty"`
	TotalDuration time.Duration `json:"total_duration_ns,omitempty"`
}

// NewMessage creates a new frozen message with a generated ID.
func NewMessage(role Role, content string) *Message {
	return &Message{
		ID:        generateID(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) *Message {
	return NewMessage(RoleUser, content)
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) *Message {
	return NewMessage(RoleSystem, content)
}

// NewAssistantMessage creates an empty assistant message that accepts
// streamed fragments until it is finalized.
func NewAssistantMessage() *Message {
	return &Message{
		ID:         generateID(),
		Role:       RoleAssistant,
		Timestamp:  time.Now(),
		InProgress: true,
	}
}

// =============================================================================
// MESSAGE METHODS
// =============================================================================

// AppendFragment appends a streamed fragment. Frozen messages ignore it.
func (m *Message) AppendFragment(fragment string) bool {
	if !m.InProgress {
		return false
	}
	m.streamContent.WriteString(fragment)
	m.Fragments++
	return true
}

// Finalize freezes a streaming message and copies in the statistics.
func (m *Message) Finalize(stats *Statistics) {
	if !m.InProgress {
		return
	}

	m.Content = m.streamContent.String()
	m.streamContent.Reset()
	m.InProgress = false

	if stats != nil {
		m.TTFT = stats.TTFT
		m.TotalDuration = stats.TotalDuration
	}
}

// DisplayContent returns the content to display (streaming or final).
func (m *Message) DisplayContent() string {
	if m.InProgress {
		return m.streamContent.String()
	}
	return m.Content
}

// Clone returns a detached copy carrying the current display content.
func (m *Message) Clone() *Message {
	return &Message{
		ID:            m.ID,
		Role:          m.Role,
		Content:       m.DisplayContent(),
		Timestamp:     m.Timestamp,
		InProgress:    false,
		Error:         m.Error,
		Fragments:     m.Fragments,
		TTFT:          m.TTFT,
		TotalDuration: m.TotalDuration,
	}
}

// Preview returns a truncated preview of the message content.
// Uses rune-based truncation to handle Unicode correctly.
func (m *Message) Preview(maxLen int) string {
	content := m.DisplayContent()
	runes := []rune(content)
	if len(runes) <= maxLen || maxLen < 4 {
		return content
	}
	return string(runes[:maxLen-3]) + "..."
}

// FormatStats returns a short summary like "2.5s | 128 fragments | TTFT 234ms".
func (m *Message) FormatStats() string {
	if m.Role != RoleAssistant || m.TotalDuration == 0 {
		return ""
	}
	return fmt.Sprintf("%s | %d fragments | TTFT %dms",
		formatDuration(m.TotalDuration), m.Fragments, m.TTFT.Milliseconds())
}

// =============================================================================
// STATISTICS TYPE
// =============================================================================

// Statistics holds timing information for a generation.
type Statistics struct {
	StartTime      time.Time
	FirstTokenTime time.Time
	EndTime        time.Time

	TTFT          time.Duration
	TotalDuration time.Duration
}

// NewStatistics creates a new Statistics with the start time set.
func NewStatistics() *Statistics {
	return &Statistics{
		StartTime: time.Now(),
	}
}

// RecordFirstToken records when the first fragment was received.
func (s *Statistics) RecordFirstToken() {
	if s.FirstTokenTime.IsZero() {
		s.FirstTokenTime = time.Now()
		s.TTFT = s.FirstTokenTime.Sub(s.StartTime)
	}
}

// Finalize computes the total duration.
func (s *Statistics) Finalize() {
	s.EndTime = time.Now()
	s.TotalDuration = s.EndTime.Sub(s.StartTime)
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// generateID creates a unique message ID.
func generateID() string {
	return "msg_" + uuid.NewString()
}

// formatDuration formats a duration as "850ms" or "2.5s".
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}
