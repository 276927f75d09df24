// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"errors"
)

// ErrStreamOpen is returned when a message is appended while the trailing
// assistant message is still in progress.
var ErrStreamOpen = errors.New("assistant message still in progress")

// ErrNoStream is returned when streaming into a transcript whose last
// message is frozen.
var ErrNoStream = errors.New("no assistant message in progress")

// =============================================================================
// TRANSCRIPT TYPE
// =============================================================================

// Transcript is an ordered, append-only list of messages.
//
// Transcript is not safe for concurrent use; its owner serializes access.
type Transcript struct {
	messages []*Message
}

// NewTranscript creates an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{messages: make([]*Message, 0)}
}

// TranscriptFrom builds a frozen transcript from stored messages.
func TranscriptFrom(msgs []*Message) *Transcript {
	t := NewTranscript()
	for _, m := range msgs {
		if m == nil {
			continue
		}
		c := m.Clone()
		t.messages = append(t.messages, c)
	}
	return t
}

// Len returns the number of messages.
func (t *Transcript) Len() int {
	return len(t.messages)
}

// Last returns the last message, or nil when empty.
func (t *Transcript) Last() *Message {
	if len(t.messages) == 0 {
		return nil
	}
	return t.messages[len(t.messages)-1]
}

// InProgress reports whether the trailing message is still streaming.
func (t *Transcript) InProgress() bool {
	last := t.Last()
	return last != nil && last.InProgress
}

// Append adds a frozen message to the end of the transcript.
func (t *Transcript) Append(msg *Message) error {
	if t.InProgress() {
		return ErrStreamOpen
	}
	msg.InProgress = false
	t.messages = append(t.messages, msg)
	return nil
}

// AppendUser adds a user message and returns it.
func (t *Transcript) AppendUser(content string) (*Message, error) {
	msg := NewUserMessage(content)
	if err := t.Append(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// BeginAssistant appends an empty in-progress assistant placeholder.
func (t *Transcript) BeginAssistant() (*Message, error) {
	if t.InProgress() {
		return nil, ErrStreamOpen
	}
	msg := NewAssistantMessage()
	t.messages = append(t.messages, msg)
	return msg, nil
}

// AppendToLast concatenates a fragment onto the in-progress message.
func (t *Transcript) AppendToLast(fragment string) error {
	last := t.Last()
	if last == nil || !last.AppendFragment(fragment) {
		return ErrNoStream
	}
	return nil
}

// FinalizeLast freezes the in-progress message. errText, if non-empty, is
// kept as an inline annotation and the partial content is retained.
func (t *Transcript) FinalizeLast(stats *Statistics, errText string) *Message {
	last := t.Last()
	if last == nil || !last.InProgress {
		return nil
	}
	last.Finalize(stats)
	last.Error = errText
	return last
}

// Messages returns detached copies of every message in order.
func (t *Transcript) Messages() []*Message {
	out := make([]*Message, len(t.messages))
	for i, m := range t.messages {
		out[i] = m.Clone()
	}
	return out
}

// Snapshot returns a detached copy of the whole transcript.
func (t *Transcript) Snapshot() *Transcript {
	return &Transcript{messages: t.Messages()}
}

// Clear removes all messages.
func (t *Transcript) Clear() {
	t.messages = make([]*Message, 0)
}
