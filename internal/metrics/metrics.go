// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "localchat"

// =============================================================================
// INSTRUMENTS
// =============================================================================

var (
	// LoadsTotal counts load attempts by result (ready, failed, busy).
	LoadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "lifecycle",
		Name:      "loads_total",
		Help:      "Model load attempts by result",
	}, []string{"result"})

	// LoadDuration records how long successful loads took, split by
	// download versus cache-restore path.
	LoadDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "lifecycle",
		Name:      "load_duration_seconds",
		Help:      "Time from load request to ready",
		Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
	}, []string{"path"})

	// State is 1 for the current lifecycle state and 0 for the others.
	State = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "lifecycle",
		Name:      "state",
		Help:      "Current model lifecycle state",
	}, []string{"state"})

	// ProgressSamples counts normalized progress samples by source shape.
	ProgressSamples = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "lifecycle",
		Name:      "progress_samples_total",
		Help:      "Progress notifications by resolved shape",
	}, []string{"source"})

	// GenerationsTotal counts generate calls by result
	// (ok, engine_error, busy, not_ready).
	GenerationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "generations_total",
		Help:      "Generate calls by result",
	}, []string{"result"})

	GenerationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "generation_duration_seconds",
		Help:      "Time from prompt submission to end of stream",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	TimeToFirstFragment = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "ttft_seconds",
		Help:      "Time to the first streamed fragment",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	FragmentsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "fragments_total",
		Help:      "Streamed fragments appended to transcripts",
	})

	// PersistenceOps counts store operations by op and result (ok, error).
	PersistenceOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "storage",
		Name:      "operations_total",
		Help:      "Persistence operations by op and result",
	}, []string{"op", "result"})
)

// Result maps an error to the "ok"/"error" label value.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// SetState marks current as the active lifecycle state among all.
func SetState(current string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		State.WithLabelValues(s).Set(v)
	}
}

// =============================================================================
// SERVER
// =============================================================================

// Server serves the default registry over HTTP.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// NewServer creates a metrics server listening on addr.
func NewServer(addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("metrics server listening", "addr", ln.Addr().String())
		errCh <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
