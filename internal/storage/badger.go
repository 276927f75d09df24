// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Key layout:
//
//	transcript/seq/<8-byte big-endian seq> -> StoredTranscript JSON
//	transcript/id/<id>                      -> seq key
//	pref/<key>                              -> value
//	model/<key>                             -> ModelRecord JSON
var (
	prefixTranscripts  = []byte("transcript/")
	prefixSeq          = []byte("transcript/seq/")
	prefixTranscriptID = []byte("transcript/id/")
	prefixPref         = []byte("pref/")
	prefixModel        = []byte("model/")
	keySequence        = []byte("meta/transcript-seq")
)

// BadgerConfig configures a BadgerStore.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in RAM. Useful for testing.
	InMemory bool

	// SyncWrites fsyncs every write.
	SyncWrites bool

	// Logger receives BadgerDB's internal logs. Nil disables them.
	Logger *slog.Logger

	// MaxTranscripts limits stored transcripts (0 = unlimited).
	MaxTranscripts int
}

// BadgerStore is a Store backed by an embedded BadgerDB.
type BadgerStore struct {
	db             *badger.DB
	seq            *badger.Sequence
	maxTranscripts int
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenBadger opens a BadgerStore.
//
// Description:
//
//	Opens the database at cfg.Path, or in memory if cfg.InMemory is set.
//	The directory is created if it doesn't exist.
//
// Outputs:
//
//	*BadgerStore - The opened store. Caller must call Close() when done.
//	error - Non-nil if the path is missing or the database cannot be opened.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	seq, err := db.GetSequence(keySequence, 64)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open transcript sequence: %w", err)
	}

	return &BadgerStore{db: db, seq: seq, maxTranscripts: cfg.MaxTranscripts}, nil
}

// =============================================================================
// TRANSCRIPTS
// =============================================================================

// SaveTranscript appends t under the next sequence number.
func (s *BadgerStore) SaveTranscript(ctx context.Context, t *StoredTranscript) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	n, err := s.seq.Next()
	if err != nil {
		return "", fmt.Errorf("next sequence: %w", err)
	}
	t.prepare(time.Now())

	data, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("encode transcript: %w", err)
	}
	key := seqKey(n)

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, data); err != nil {
			return err
		}
		if err := txn.Set(idKey(t.ID), key); err != nil {
			return err
		}
		return s.enforceLimit(txn)
	})
	if err != nil {
		return "", mapBadgerErr(err)
	}
	return t.ID, nil
}

// enforceLimit deletes the oldest transcripts beyond maxTranscripts.
func (s *BadgerStore) enforceLimit(txn *badger.Txn) error {
	if s.maxTranscripts <= 0 {
		return nil
	}
	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	opts.Prefix = prefixSeq
	it := txn.NewIterator(opts)

	var stale []*StoredTranscript
	var staleKeys [][]byte
	count := 0
	for it.Seek(seekLast(prefixSeq)); it.Valid(); it.Next() {
		count++
		if count <= s.maxTranscripts {
			continue
		}
		var st StoredTranscript
		if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &st) }); err != nil {
			it.Close()
			return err
		}
		stale = append(stale, &st)
		staleKeys = append(staleKeys, it.Item().KeyCopy(nil))
	}
	it.Close()

	for i, key := range staleKeys {
		if err := txn.Delete(key); err != nil {
			return err
		}
		if err := txn.Delete(idKey(stale[i].ID)); err != nil {
			return err
		}
	}
	return nil
}

// LatestTranscript returns the transcript with the highest sequence.
func (s *BadgerStore) LatestTranscript(ctx context.Context) (*StoredTranscript, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out *StoredTranscript
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefixSeq
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Seek(seekLast(prefixSeq))
		if !it.Valid() {
			return ErrNotFound
		}
		var st StoredTranscript
		if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &st) }); err != nil {
			return err
		}
		out = &st
		return nil
	})
	if err != nil {
		return nil, mapBadgerErr(err)
	}
	return out, nil
}

// LoadTranscript returns the transcript with the given ID.
func (s *BadgerStore) LoadTranscript(ctx context.Context, id string) (*StoredTranscript, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out StoredTranscript
	err := s.db.View(func(txn *badger.Txn) error {
		ref, err := txn.Get(idKey(id))
		if err != nil {
			return err
		}
		key, err := ref.ValueCopy(nil)
		if err != nil {
			return err
		}
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error { return json.Unmarshal(v, &out) })
	})
	if err != nil {
		return nil, mapBadgerErr(err)
	}
	return &out, nil
}

// ListTranscripts returns metadata, newest first.
func (s *BadgerStore) ListTranscripts(ctx context.Context, limit int) ([]TranscriptMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	metas := make([]TranscriptMeta, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefixSeq
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(seekLast(prefixSeq)); it.Valid(); it.Next() {
			if limit > 0 && len(metas) >= limit {
				break
			}
			var st StoredTranscript
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &st) }); err != nil {
				return err
			}
			metas = append(metas, st.Meta())
		}
		return nil
	})
	if err != nil {
		return nil, mapBadgerErr(err)
	}
	return metas, nil
}

// ClearTranscripts deletes every transcript key.
func (s *BadgerStore) ClearTranscripts(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefixTranscripts
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return mapBadgerErr(err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return mapBadgerErr(err)
		}
	}
	return mapBadgerErr(wb.Flush())
}

// =============================================================================
// PREFERENCES AND MODELS
// =============================================================================

// SetPreference stores a preference.
func (s *BadgerStore) SetPreference(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return mapBadgerErr(s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(prefKey(key), []byte(value))
	}))
}

// GetPreference returns a preference or ErrNotFound.
func (s *BadgerStore) GetPreference(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(prefKey(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return "", mapBadgerErr(err)
	}
	return string(value), nil
}

// DeletePreference removes a preference.
func (s *BadgerStore) DeletePreference(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return mapBadgerErr(s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(prefKey(key))
	}))
}

// PutModel stores a models-table row.
func (s *BadgerStore) PutModel(ctx context.Context, key string, rec ModelRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return mapBadgerErr(s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(modelKey(key), data)
	}))
}

// GetModel returns a models-table row or ErrNotFound.
func (s *BadgerStore) GetModel(ctx context.Context, key string) (*ModelRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rec ModelRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(modelKey(key))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error { return json.Unmarshal(v, &rec) })
	})
	if err != nil {
		return nil, mapBadgerErr(err)
	}
	return &rec, nil
}

// Close releases the sequence lease and closes the database.
func (s *BadgerStore) Close() error {
	if s.db.IsClosed() {
		return nil
	}
	seqErr := s.seq.Release()
	if err := s.db.Close(); err != nil {
		return err
	}
	return seqErr
}

// =============================================================================
// HELPERS
// =============================================================================

func seqKey(n uint64) []byte {
	key := make([]byte, len(prefixSeq)+8)
	copy(key, prefixSeq)
	binary.BigEndian.PutUint64(key[len(prefixSeq):], n)
	return key
}

func idKey(id string) []byte {
	return append(append([]byte{}, prefixTranscriptID...), id...)
}

func prefKey(key string) []byte {
	return append(append([]byte{}, prefixPref...), key...)
}

func modelKey(key string) []byte {
	return append(append([]byte{}, prefixModel...), key...)
}

// seekLast returns a key sorting after every key with the given prefix, for
// reverse iteration.
func seekLast(prefix []byte) []byte {
	return append(append([]byte{}, prefix...), 0xFF)
}

func mapBadgerErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return ErrNotFound
	case errors.Is(err, badger.ErrDBClosed):
		return ErrClosed
	}
	return err
}
