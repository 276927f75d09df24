// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/localchat/internal/model"
	"github.com/jeranaias/localchat/internal/util"
)

// =============================================================================
// STORED TRANSCRIPT TYPE
// =============================================================================

// StoredTranscript is the persisted form of a transcript.
type StoredTranscript struct {
	ID       string          `json:"id"`
	Summary  string          `json:"summary"`
	Model    string          `json:"model,omitempty"`
	SavedAt  time.Time       `json:"saved_at"`
	Messages []StoredMessage `json:"messages"`
}

// StoredMessage is a persisted message.
type StoredMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`

	// Statistics (for assistant messages)
	Fragments  int   `json:"fragments,omitempty"`
	DurationMs int64 `json:"duration_ms,omitempty"`
	TTFTMs     int64 `json:"ttft_ms,omitempty"`
}

// TranscriptMeta contains metadata for listing transcripts.
type TranscriptMeta struct {
	ID           string    `json:"id"`
	Summary      string    `json:"summary"`
	Model        string    `json:"model,omitempty"`
	SavedAt      time.Time `json:"saved_at"`
	MessageCount int       `json:"message_count"`
	Preview      string    `json:"preview"`
}

// NewStoredTranscript converts a live transcript. In-progress content is
// captured as it stands.
func NewStoredTranscript(t *model.Transcript, modelID string) *StoredTranscript {
	msgs := t.Messages()
	st := &StoredTranscript{
		Model:    modelID,
		Messages: make([]StoredMessage, 0, len(msgs)),
	}
	for _, m := range msgs {
		st.Messages = append(st.Messages, StoredMessage{
			ID:         m.ID,
			Role:       m.Role.String(),
			Content:    m.Content,
			Timestamp:  m.Timestamp,
			Error:      m.Error,
			Fragments:  m.Fragments,
			DurationMs: m.TotalDuration.Milliseconds(),
			TTFTMs:     m.TTFT.Milliseconds(),
		})
	}
	return st
}

// Transcript converts back to a live, fully frozen transcript. Messages with
// unknown roles are skipped.
func (s *StoredTranscript) Transcript() *model.Transcript {
	msgs := make([]*model.Message, 0, len(s.Messages))
	for _, sm := range s.Messages {
		role, err := model.ParseRole(sm.Role)
		if err != nil {
			continue
		}
		msgs = append(msgs, &model.Message{
			ID:            sm.ID,
			Role:          role,
			Content:       sm.Content,
			Timestamp:     sm.Timestamp,
			Error:         sm.Error,
			Fragments:     sm.Fragments,
			TotalDuration: time.Duration(sm.DurationMs) * time.Millisecond,
			TTFT:          time.Duration(sm.TTFTMs) * time.Millisecond,
		})
	}
	return model.TranscriptFrom(msgs)
}

// Meta returns the listing metadata for the transcript.
func (s *StoredTranscript) Meta() TranscriptMeta {
	return TranscriptMeta{
		ID:           s.ID,
		Summary:      s.Summary,
		Model:        s.Model,
		SavedAt:      s.SavedAt,
		MessageCount: len(s.Messages),
		Preview:      s.Preview(),
	}
}

// Preview returns the first user message, truncated.
func (s *StoredTranscript) Preview() string {
	for _, msg := range s.Messages {
		if msg.Role == "user" && msg.Content != "" {
			return util.TruncateRunes(util.OneLine(msg.Content), 80)
		}
	}
	return ""
}

// prepare fills ID, summary, and timestamp before a save.
func (s *StoredTranscript) prepare(now time.Time) {
	if s.ID == "" {
		s.ID = generateTranscriptID()
	}
	if s.Summary == "" {
		s.Summary = generateSummary(s)
	}
	s.SavedAt = now
}

// generateSummary creates a summary from the first user message.
func generateSummary(s *StoredTranscript) string {
	for _, msg := range s.Messages {
		if msg.Role == "user" && msg.Content != "" {
			return util.TruncateRunes(util.OneLine(msg.Content), 50)
		}
	}
	return "New conversation"
}

// generateTranscriptID creates a unique transcript ID.
func generateTranscriptID() string {
	return "tr_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func encodeMessages(msgs []StoredMessage) ([]byte, error) {
	if msgs == nil {
		msgs = []StoredMessage{}
	}
	return json.Marshal(msgs)
}

func decodeMessages(data []byte) ([]StoredMessage, error) {
	var msgs []StoredMessage
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}
