// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/jeranaias/localchat/internal/catalog"
	"github.com/jeranaias/localchat/internal/engine"
	"github.com/jeranaias/localchat/internal/metrics"
	"github.com/jeranaias/localchat/internal/progress"
	"github.com/jeranaias/localchat/internal/storage"
)

var tracer = otel.Tracer("github.com/jeranaias/localchat/internal/lifecycle")

// ErrBusy is returned by Load while another load is in flight.
var ErrBusy = errors.New("a model load is already in progress")

// Config configures a Manager.
type Config struct {
	Engine  engine.Engine
	Gateway *storage.Gateway

	// Describe supplies display names. Defaults to catalog.Describe.
	Describe func(id string) catalog.Entry

	Observer Observer
	Logger   *slog.Logger

	// LoadTimeout bounds each load when positive.
	LoadTimeout time.Duration

	// Now is the clock used for progress and ETA. Defaults to time.Now.
	Now func() time.Time
}

// Manager drives model loads and owns the current handle.
//
// Manager is safe for concurrent use.
type Manager struct {
	engine      engine.Engine
	gateway     *storage.Gateway
	describe    func(string) catalog.Entry
	observer    Observer
	logger      *slog.Logger
	loadTimeout time.Duration
	now         func() time.Time

	// rawLog throttles debug logging of raw progress payloads.
	rawLog rate.Sometimes

	mu      sync.Mutex
	state   State
	modelID string
	handle  engine.Handle
	lastErr error
}

// New creates a Manager in the Idle state.
func New(cfg Config) *Manager {
	m := &Manager{
		engine:      cfg.Engine,
		gateway:     cfg.Gateway,
		describe:    cfg.Describe,
		observer:    cfg.Observer,
		logger:      cfg.Logger,
		loadTimeout: cfg.LoadTimeout,
		now:         cfg.Now,
		rawLog:      rate.Sometimes{First: 3, Interval: 2 * time.Second},
	}
	if m.describe == nil {
		m.describe = catalog.Describe
	}
	if m.observer == nil {
		m.observer = ObserverFuncs{}
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.now == nil {
		m.now = time.Now
	}
	metrics.SetState(Idle.String(), allStates)
	return m
}

// =============================================================================
// ACCESSORS
// =============================================================================

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ModelID returns the id of the selected model, which is the model being
// loaded while a load is in flight.
func (m *Manager) ModelID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.modelID
}

// LastError returns the error of the most recent failed load, or nil.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Current returns the handle when the manager is Ready.
func (m *Manager) Current() (engine.Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Ready || m.handle == nil {
		return nil, false
	}
	return m.handle, true
}

// Close releases the current handle and returns to Idle. It returns ErrBusy
// while a load is in flight.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.state.Loading() {
		m.mu.Unlock()
		return ErrBusy
	}
	h := m.handle
	m.handle = nil
	m.state = Idle
	m.mu.Unlock()

	metrics.SetState(Idle.String(), allStates)
	if h != nil {
		return h.Close()
	}
	return nil
}

// =============================================================================
// LOAD
// =============================================================================

// Load acquires modelID and makes it current.
//
// Description:
//
//	Rejects the call with ErrBusy when a load is already running. Otherwise
//	the state moves to Downloading (or Initializing when the model is known
//	to be downloaded) and progress is forwarded to the Observer until the
//	engine returns. On success the previous handle is closed and replaced.
//	On failure the state becomes Failed and may be retried at once.
//
// Outputs:
//
//	error - ErrBusy, or an *engine.EngineError. Cancelling ctx fails the
//	        load with an error wrapping ctx.Err().
func (m *Manager) Load(ctx context.Context, modelID string) error {
	m.mu.Lock()
	if m.state.Loading() {
		inFlight := m.modelID
		m.mu.Unlock()
		metrics.LoadsTotal.WithLabelValues("busy").Inc()
		m.logger.Debug("load rejected", "model", modelID, "in_flight", inFlight)
		return ErrBusy
	}
	m.state = Downloading
	m.modelID = modelID
	m.lastErr = nil
	m.mu.Unlock()

	ctx, span := tracer.Start(ctx, "lifecycle.load")
	defer span.End()
	span.SetAttributes(attribute.String("model", modelID))

	if m.loadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.loadTimeout)
		defer cancel()
	}

	entry := m.describe(modelID)
	startedAt := m.now()
	downloaded := m.gateway.IsDownloaded(ctx, modelID)

	l := &load{
		m:         m,
		modelID:   modelID,
		entry:     entry,
		startedAt: startedAt,
		tracker:   progress.NewTracker(startedAt),
		state:     Downloading,
	}
	if downloaded {
		l.state = Initializing
	}
	m.logger.Info("loading model", "model", modelID, "downloaded", downloaded)
	m.transition(l.event(l.state, nil))

	h, err := m.engine.Load(ctx, modelID, l.onProgress)
	l.done.Store(true)
	if err == nil && ctx.Err() != nil {
		// The engine finished after the caller gave up.
		h.Close()
		err = ctx.Err()
	}
	if err != nil {
		err = engine.Wrap("load", modelID, err)
		m.fail(l, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	m.ready(ctx, l, h, downloaded)
	return nil
}

// load is the state of one Load call.
type load struct {
	m         *Manager
	modelID   string
	entry     catalog.Entry
	startedAt time.Time
	tracker   *progress.Tracker
	restored  bool

	// state is only touched on the goroutine running Load.
	state State

	// done is set once the engine returned; late callbacks are dropped.
	done atomic.Bool
}

func (l *load) event(s State, err error) Event {
	return Event{
		ModelID:     l.modelID,
		DisplayName: l.entry.DisplayName(),
		State:       s,
		Err:         err,
		Elapsed:     l.m.now().Sub(l.startedAt),
	}
}

// onProgress normalizes one raw notification and forwards it.
func (l *load) onProgress(raw any) {
	if l.done.Load() {
		return
	}
	m := l.m
	sample := l.tracker.ObserveAt(raw, m.now())
	metrics.ProgressSamples.WithLabelValues(sample.Source.String()).Inc()
	m.rawLog.Do(func() {
		m.logger.Debug("raw load progress", "model", l.modelID, "raw", fmt.Sprintf("%+v", raw), "sample", sample.String())
	})

	if sample.IsCacheRestore() {
		l.restored = true
	}
	if l.state == Downloading && (sample.IsCacheRestore() || (sample.Known && sample.Percent >= 100)) {
		l.state = Initializing
		m.transition(l.event(Initializing, nil))
	}
	m.observer.Progress(l.modelID, sample)
}

// transition records ev.State and notifies the observer.
func (m *Manager) transition(ev Event) {
	m.mu.Lock()
	m.state = ev.State
	if ev.State == Failed {
		m.lastErr = ev.Err
	}
	m.mu.Unlock()

	metrics.SetState(ev.State.String(), allStates)
	m.observer.StateChanged(ev)
}

func (m *Manager) fail(l *load, err error) {
	m.mu.Lock()
	old := m.handle
	m.handle = nil
	m.mu.Unlock()
	if old != nil {
		if cerr := old.Close(); cerr != nil {
			m.logger.Warn("failed to release previous model", "model", old.ModelID(), "error", cerr)
		}
	}

	metrics.LoadsTotal.WithLabelValues("failed").Inc()
	m.logger.Warn("model load failed", "model", l.modelID, "error", err)
	m.transition(l.event(Failed, err))
}

// ready swaps in h, persists the model record and announces Ready.
// Persistence is best effort and uses a context that outlives ctx.
func (m *Manager) ready(ctx context.Context, l *load, h engine.Handle, downloaded bool) {
	m.mu.Lock()
	old := m.handle
	m.handle = h
	m.mu.Unlock()
	if old != nil && old != h {
		if err := old.Close(); err != nil {
			m.logger.Warn("failed to release previous model", "model", old.ModelID(), "error", err)
		}
	}

	pctx := context.WithoutCancel(ctx)
	m.gateway.SetLastUsedModel(pctx, l.modelID, storage.ModelMeta{DisplayName: l.entry.DisplayName()})
	if !downloaded {
		m.gateway.SetDownloaded(pctx, l.modelID)
	}

	path := "download"
	if downloaded || l.restored {
		path = "cache"
	}
	elapsed := m.now().Sub(l.startedAt)
	metrics.LoadsTotal.WithLabelValues("ready").Inc()
	metrics.LoadDuration.WithLabelValues(path).Observe(elapsed.Seconds())
	m.logger.Info("model loaded", "model", l.modelID, "path", path, "load_time", elapsed.Round(time.Millisecond).String())

	ev := l.event(Ready, nil)
	ev.CacheRestore = downloaded
	m.transition(ev)
}
