// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

// =============================================================================
// ROLE TESTS
// =============================================================================

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{"user", RoleUser, false},
		{" Assistant ", RoleAssistant, false},
		{"SYSTEM", RoleSystem, false},
		{"tool", "", true},
		{"", "", true},
	}

	for _, tc := range tests {
		got, err := ParseRole(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseRole(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseRole(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

// =============================================================================
// MESSAGE TESTS
// =============================================================================

func TestMessage_StreamingLifecycle(t *testing.T) {
	msg := NewAssistantMessage()
	if !msg.InProgress {
		t.Fatal("new assistant message should be in progress")
	}

	msg.AppendFragment("Hi")
	msg.AppendFragment(" there")
	if got := msg.DisplayContent(); got != "Hi there" {
		t.Errorf("DisplayContent() = %q, want %q", got, "Hi there")
	}
	if msg.Content != "" {
		t.Errorf("Content should stay empty until finalized, got %q", msg.Content)
	}

	stats := NewStatistics()
	stats.RecordFirstToken()
	stats.Finalize()
	msg.Finalize(stats)

	if msg.InProgress {
		t.Error("message should be frozen after Finalize")
	}
	if msg.Content != "Hi there" {
		t.Errorf("Content = %q, want %q", msg.Content, "Hi there")
	}
	if msg.Fragments != 2 {
		t.Errorf("Fragments = %d, want 2", msg.Fragments)
	}
	if msg.AppendFragment("late") {
		t.Error("frozen message accepted a fragment")
	}
}

func TestMessage_Clone(t *testing.T) {
	msg := NewAssistantMessage()
	msg.AppendFragment("partial")

	c := msg.Clone()
	if c.InProgress {
		t.Error("clone should be frozen")
	}
	if c.Content != "partial" {
		t.Errorf("clone content = %q, want %q", c.Content, "partial")
	}

	msg.AppendFragment(" more")
	if c.Content != "partial" {
		t.Error("clone changed after the original kept streaming")
	}
}

func TestMessage_Preview(t *testing.T) {
	msg := NewUserMessage(strings.Repeat("é", 20))
	if got := []rune(msg.Preview(10)); len(got) != 10 {
		t.Errorf("Preview(10) has %d runes, want 10", len(got))
	}
	if got := msg.Preview(100); got != msg.Content {
		t.Error("short content should not be truncated")
	}
}

func TestMessage_FormatStats(t *testing.T) {
	msg := NewAssistantMessage()
	msg.AppendFragment("x")
	msg.Finalize(&Statistics{TTFT: 234 * time.Millisecond, TotalDuration: 2500 * time.Millisecond})

	got := msg.FormatStats()
	for _, want := range []string{"2.5s", "1 fragments", "TTFT 234ms"} {
		if !strings.Contains(got, want) {
			t.Errorf("FormatStats() = %q, want to contain %q", got, want)
		}
	}

	if NewUserMessage("hi").FormatStats() != "" {
		t.Error("user messages have no stats")
	}
}

// =============================================================================
// TRANSCRIPT TESTS
// =============================================================================

func TestTranscript_StreamingAppend(t *testing.T) {
	tr := NewTranscript()
	if _, err := tr.AppendUser("Hello"); err != nil {
		t.Fatalf("AppendUser: %v", err)
	}
	if _, err := tr.BeginAssistant(); err != nil {
		t.Fatalf("BeginAssistant: %v", err)
	}
	for _, f := range []string{"Hi", " there"} {
		if err := tr.AppendToLast(f); err != nil {
			t.Fatalf("AppendToLast: %v", err)
		}
	}
	tr.FinalizeLast(nil, "")

	msgs := tr.Messages()
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want 2", len(msgs))
	}
	if msgs[0].Role != RoleUser || msgs[0].Content != "Hello" {
		t.Errorf("first = %+v", msgs[0])
	}
	if msgs[1].Role != RoleAssistant || msgs[1].Content != "Hi there" {
		t.Errorf("second = %+v", msgs[1])
	}
}

func TestTranscript_SingleOpenAssistant(t *testing.T) {
	tr := NewTranscript()
	tr.BeginAssistant()

	if _, err := tr.BeginAssistant(); !errors.Is(err, ErrStreamOpen) {
		t.Errorf("second BeginAssistant error = %v, want ErrStreamOpen", err)
	}
	if _, err := tr.AppendUser("x"); !errors.Is(err, ErrStreamOpen) {
		t.Errorf("AppendUser during stream error = %v, want ErrStreamOpen", err)
	}
	if tr.Len() != 1 {
		t.Errorf("Len = %d, want 1", tr.Len())
	}
}

func TestTranscript_AppendToFrozen(t *testing.T) {
	tr := NewTranscript()
	tr.AppendUser("hi")
	if err := tr.AppendToLast("x"); !errors.Is(err, ErrNoStream) {
		t.Errorf("AppendToLast on frozen = %v, want ErrNoStream", err)
	}
	if err := NewTranscript().AppendToLast("x"); !errors.Is(err, ErrNoStream) {
		t.Errorf("AppendToLast on empty = %v, want ErrNoStream", err)
	}
}

func TestTranscript_FinalizeWithError(t *testing.T) {
	tr := NewTranscript()
	tr.BeginAssistant()
	tr.AppendToLast("half")

	msg := tr.FinalizeLast(nil, "connection reset")
	if msg == nil {
		t.Fatal("FinalizeLast returned nil")
	}
	if msg.Content != "half" || msg.Error != "connection reset" {
		t.Errorf("got content=%q error=%q", msg.Content, msg.Error)
	}
	if tr.FinalizeLast(nil, "") != nil {
		t.Error("second FinalizeLast should be a no-op")
	}
}

func TestTranscript_KeepsLongHistory(t *testing.T) {
	tr := NewTranscript()
	const n = 2500
	for i := 0; i < n; i++ {
		if _, err := tr.AppendUser(fmt.Sprintf("m%d", i)); err != nil {
			t.Fatalf("AppendUser(%d): %v", i, err)
		}
	}
	if tr.Len() != n {
		t.Errorf("Len = %d, want %d", tr.Len(), n)
	}
	msgs := tr.Messages()
	if msgs[0].Content != "m0" || msgs[n-1].Content != fmt.Sprintf("m%d", n-1) {
		t.Errorf("first=%q last=%q", msgs[0].Content, msgs[n-1].Content)
	}
}

func TestTranscriptFrom_Detached(t *testing.T) {
	src := []*Message{NewUserMessage("a"), nil, NewMessage(RoleAssistant, "b")}
	tr := TranscriptFrom(src)
	if tr.Len() != 2 {
		t.Fatalf("Len = %d, want 2", tr.Len())
	}
	src[0].Content = "changed"
	if tr.Messages()[0].Content != "a" {
		t.Error("transcript shares memory with its source")
	}
}
