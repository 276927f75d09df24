// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Schema is the SQLite schema. Timestamps are unix nanoseconds.
const Schema = `
-- Transcripts: append-only, seq gives save order
CREATE TABLE IF NOT EXISTS transcripts (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    summary TEXT NOT NULL,
    model TEXT NOT NULL DEFAULT '',
    saved_at INTEGER NOT NULL,
    message_count INTEGER NOT NULL,
    preview TEXT NOT NULL DEFAULT '',
    messages TEXT NOT NULL            -- JSON array of StoredMessage
);

CREATE INDEX IF NOT EXISTS idx_transcripts_saved_at ON transcripts(saved_at);

CREATE TABLE IF NOT EXISTS preferences (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
) WITHOUT ROWID;

-- Models: one row per model id plus the fixed last-used slot
CREATE TABLE IF NOT EXISTS models (
    key TEXT PRIMARY KEY,
    model_id TEXT NOT NULL,
    display_name TEXT NOT NULL DEFAULT '',
    last_used_at INTEGER NOT NULL DEFAULT 0,
    downloaded INTEGER NOT NULL DEFAULT 0
) WITHOUT ROWID;
`

// SQLiteConfig configures a SQLiteStore.
type SQLiteConfig struct {
	// Path is the database file. Parent directories are created.
	Path string

	// MaxTranscripts limits stored transcripts (0 = unlimited).
	MaxTranscripts int
}

// SQLiteStore is a Store backed by a single SQLite file.
type SQLiteStore struct {
	db             *sql.DB
	maxTranscripts int

	mu     sync.Mutex
	closed bool
}

// OpenSQLite opens (and if needed creates) the database at cfg.Path.
func OpenSQLite(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db, maxTranscripts: cfg.MaxTranscripts}, nil
}

// =============================================================================
// TRANSCRIPTS
// =============================================================================

// SaveTranscript appends t as a new row and applies retention.
func (s *SQLiteStore) SaveTranscript(ctx context.Context, t *StoredTranscript) (string, error) {
	if err := s.checkOpen(); err != nil {
		return "", err
	}
	t.prepare(time.Now())

	data, err := encodeMessages(t.Messages)
	if err != nil {
		return "", fmt.Errorf("encode messages: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO transcripts (id, summary, model, saved_at, message_count, preview, messages)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Summary, t.Model, t.SavedAt.UnixNano(), len(t.Messages), t.Preview(), string(data))
	if err != nil {
		return "", fmt.Errorf("insert transcript: %w", err)
	}

	if s.maxTranscripts > 0 {
		_, err = tx.ExecContext(ctx,
			`DELETE FROM transcripts WHERE seq NOT IN (
			     SELECT seq FROM transcripts ORDER BY seq DESC LIMIT ?)`,
			s.maxTranscripts)
		if err != nil {
			return "", fmt.Errorf("enforce retention: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return t.ID, nil
}

// LatestTranscript returns the last saved transcript.
func (s *SQLiteStore) LatestTranscript(ctx context.Context) (*StoredTranscript, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, summary, model, saved_at, messages FROM transcripts ORDER BY seq DESC LIMIT 1`)
	return scanTranscript(row)
}

// LoadTranscript returns the transcript with the given ID.
func (s *SQLiteStore) LoadTranscript(ctx context.Context, id string) (*StoredTranscript, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, summary, model, saved_at, messages FROM transcripts WHERE id = ?`, id)
	return scanTranscript(row)
}

// ListTranscripts returns metadata, newest first.
func (s *SQLiteStore) ListTranscripts(ctx context.Context, limit int) ([]TranscriptMeta, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, summary, model, saved_at, message_count, preview
		 FROM transcripts ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	metas := make([]TranscriptMeta, 0)
	for rows.Next() {
		var m TranscriptMeta
		var savedAt int64
		if err := rows.Scan(&m.ID, &m.Summary, &m.Model, &savedAt, &m.MessageCount, &m.Preview); err != nil {
			return nil, err
		}
		m.SavedAt = time.Unix(0, savedAt)
		metas = append(metas, m)
	}
	return metas, rows.Err()
}

// ClearTranscripts deletes all transcripts.
func (s *SQLiteStore) ClearTranscripts(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM transcripts`)
	return err
}

func scanTranscript(row *sql.Row) (*StoredTranscript, error) {
	var t StoredTranscript
	var savedAt int64
	var data string
	if err := row.Scan(&t.ID, &t.Summary, &t.Model, &savedAt, &data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	msgs, err := decodeMessages([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("decode transcript %s: %w", t.ID, err)
	}
	t.SavedAt = time.Unix(0, savedAt)
	t.Messages = msgs
	return &t, nil
}

// =============================================================================
// PREFERENCES
// =============================================================================

// SetPreference upserts a preference.
func (s *SQLiteStore) SetPreference(ctx context.Context, key, value string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO preferences (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// GetPreference returns a preference or ErrNotFound.
func (s *SQLiteStore) GetPreference(ctx context.Context, key string) (string, error) {
	if err := s.checkOpen(); err != nil {
		return "", err
	}
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM preferences WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return value, err
}

// DeletePreference removes a preference.
func (s *SQLiteStore) DeletePreference(ctx context.Context, key string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM preferences WHERE key = ?`, key)
	return err
}

// =============================================================================
// MODELS
// =============================================================================

// PutModel upserts a models-table row.
func (s *SQLiteStore) PutModel(ctx context.Context, key string, rec ModelRecord) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO models (key, model_id, display_name, last_used_at, downloaded)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		     model_id = excluded.model_id,
		     display_name = excluded.display_name,
		     last_used_at = excluded.last_used_at,
		     downloaded = excluded.downloaded`,
		key, rec.ModelID, rec.DisplayName, timeToNanos(rec.LastUsedAt), boolToInt(rec.Downloaded))
	return err
}

// GetModel returns a models-table row or ErrNotFound.
func (s *SQLiteStore) GetModel(ctx context.Context, key string) (*ModelRecord, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var rec ModelRecord
	var lastUsed int64
	var downloaded int
	err := s.db.QueryRowContext(ctx,
		`SELECT model_id, display_name, last_used_at, downloaded FROM models WHERE key = ?`, key).
		Scan(&rec.ModelID, &rec.DisplayName, &lastUsed, &downloaded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lastUsed != 0 {
		rec.LastUsedAt = time.Unix(0, lastUsed)
	}
	rec.Downloaded = downloaded != 0
	return &rec, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *SQLiteStore) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func timeToNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
