// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jeranaias/localchat/internal/metrics"
	"github.com/jeranaias/localchat/internal/model"
)

var tracer = otel.Tracer("github.com/jeranaias/localchat/internal/storage")

// ModelMeta is the descriptive data saved alongside the last used model.
type ModelMeta struct {
	DisplayName string
}

// =============================================================================
// GATEWAY
// =============================================================================

// Gateway is the best-effort persistence contract used by the rest of the
// application. Every failure is logged and returned as a *PersistenceError;
// none of them invalidates in-memory state.
//
// Gateway is safe for concurrent use if its Store is.
type Gateway struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewGateway wraps store. A nil logger uses slog.Default().
func NewGateway(store Store, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{store: store, logger: logger, now: time.Now}
}

// Store returns the underlying backend.
func (g *Gateway) Store() Store {
	return g.store
}

// Close closes the underlying backend.
func (g *Gateway) Close() error {
	return g.store.Close()
}

// run executes one store operation with tracing, metrics, and logging.
// ErrNotFound passes through unwrapped and is not counted as a failure.
func (g *Gateway) run(ctx context.Context, op string, fn func(ctx context.Context) error, attrs ...attribute.KeyValue) error {
	ctx, span := tracer.Start(ctx, "storage."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...))
	defer span.End()

	err := fn(ctx)
	if errors.Is(err, ErrNotFound) {
		metrics.PersistenceOps.WithLabelValues(op, "ok").Inc()
		return err
	}
	metrics.PersistenceOps.WithLabelValues(op, metrics.Result(err)).Inc()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.logger.Warn("persistence operation failed", "op", op, "error", err)
		return &PersistenceError{Op: op, Err: err}
	}
	return nil
}

// =============================================================================
// TRANSCRIPTS
// =============================================================================

// SaveTranscript stores a snapshot of t as a new record.
func (g *Gateway) SaveTranscript(ctx context.Context, t *model.Transcript, modelID string) (string, error) {
	st := NewStoredTranscript(t, modelID)
	var id string
	err := g.run(ctx, "save_transcript", func(ctx context.Context) error {
		var err error
		id, err = g.store.SaveTranscript(ctx, st)
		return err
	}, attribute.Int("messages", len(st.Messages)))
	if err != nil {
		return "", err
	}
	g.logger.Debug("transcript saved", "id", id, "messages", len(st.Messages))
	return id, nil
}

// LoadMostRecentTranscript returns the last saved transcript, or nil when
// none exists.
func (g *Gateway) LoadMostRecentTranscript(ctx context.Context) (*model.Transcript, error) {
	st, err := g.LatestStored(ctx)
	if err != nil || st == nil {
		return nil, err
	}
	return st.Transcript(), nil
}

// LatestStored is LoadMostRecentTranscript without the conversion.
func (g *Gateway) LatestStored(ctx context.Context) (*StoredTranscript, error) {
	var st *StoredTranscript
	err := g.run(ctx, "load_transcript", func(ctx context.Context) error {
		var err error
		st, err = g.store.LatestTranscript(ctx)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return st, err
}

// ListTranscripts returns stored transcript metadata, newest first.
func (g *Gateway) ListTranscripts(ctx context.Context, limit int) ([]TranscriptMeta, error) {
	var metas []TranscriptMeta
	err := g.run(ctx, "list_transcripts", func(ctx context.Context) error {
		var err error
		metas, err = g.store.ListTranscripts(ctx, limit)
		return err
	})
	return metas, err
}

// ClearTranscripts deletes every stored transcript.
func (g *Gateway) ClearTranscripts(ctx context.Context) error {
	return g.run(ctx, "clear_transcripts", g.store.ClearTranscripts)
}

// =============================================================================
// MODELS
// =============================================================================

// SetLastUsedModel records modelID in its own row and in the last-used
// slot, keeping any downloaded hint already stored for it.
func (g *Gateway) SetLastUsedModel(ctx context.Context, modelID string, meta ModelMeta) error {
	return g.run(ctx, "set_last_used", func(ctx context.Context) error {
		rec := ModelRecord{ModelID: modelID, DisplayName: meta.DisplayName, LastUsedAt: g.now()}
		if existing, err := g.store.GetModel(ctx, modelID); err == nil {
			rec.Downloaded = existing.Downloaded
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		if err := g.store.PutModel(ctx, modelID, rec); err != nil {
			return err
		}
		return g.store.PutModel(ctx, LastUsedSlot, rec)
	}, attribute.String("model", modelID))
}

// GetLastUsedModel returns the last used model, or nil when none is stored.
func (g *Gateway) GetLastUsedModel(ctx context.Context) (*ModelRecord, error) {
	var rec *ModelRecord
	err := g.run(ctx, "get_last_used", func(ctx context.Context) error {
		var err error
		rec, err = g.store.GetModel(ctx, LastUsedSlot)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return rec, err
}

// SetDownloaded marks modelID as present in the engine's local cache.
func (g *Gateway) SetDownloaded(ctx context.Context, modelID string) error {
	return g.run(ctx, "set_downloaded", func(ctx context.Context) error {
		rec := ModelRecord{ModelID: modelID}
		if existing, err := g.store.GetModel(ctx, modelID); err == nil {
			rec = *existing
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		rec.Downloaded = true
		return g.store.PutModel(ctx, modelID, rec)
	}, attribute.String("model", modelID))
}

// IsDownloaded reports the downloaded hint for modelID. Read failures are
// logged and reported as false.
func (g *Gateway) IsDownloaded(ctx context.Context, modelID string) bool {
	var rec *ModelRecord
	err := g.run(ctx, "is_downloaded", func(ctx context.Context) error {
		var err error
		rec, err = g.store.GetModel(ctx, modelID)
		return err
	}, attribute.String("model", modelID))
	return err == nil && rec.Downloaded
}

// =============================================================================
// PREFERENCES
// =============================================================================

// SetPreference stores a preference value.
func (g *Gateway) SetPreference(ctx context.Context, key, value string) error {
	return g.run(ctx, "set_preference", func(ctx context.Context) error {
		return g.store.SetPreference(ctx, key, value)
	}, attribute.String("key", key))
}

// DeletePreference removes a preference.
func (g *Gateway) DeletePreference(ctx context.Context, key string) error {
	return g.run(ctx, "delete_preference", func(ctx context.Context) error {
		return g.store.DeletePreference(ctx, key)
	}, attribute.String("key", key))
}

// GetPreference returns a preference and whether it was found.
func (g *Gateway) GetPreference(ctx context.Context, key string) (string, bool) {
	var value string
	err := g.run(ctx, "get_preference", func(ctx context.Context) error {
		var err error
		value, err = g.store.GetPreference(ctx, key)
		return err
	}, attribute.String("key", key))
	return value, err == nil
}
