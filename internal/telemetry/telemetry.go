// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// ServiceName identifies localchat in exported spans.
const ServiceName = "localchat"

// Options configures Init.
type Options struct {
	Enabled bool
	File    string
	Version string

	// Exporter overrides the file exporter, mainly for tests.
	Exporter sdktrace.SpanExporter
}

// Shutdown flushes and stops tracing.
type Shutdown func(ctx context.Context) error

func noop(context.Context) error { return nil }

// Init installs a global tracer provider. When tracing is disabled the
// global no-op provider is left in place and the returned Shutdown does
// nothing.
func Init(ctx context.Context, opts Options) (Shutdown, error) {
	if !opts.Enabled {
		return noop, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", ServiceName),
		attribute.String("service.version", opts.Version),
	))
	if err != nil {
		res = resource.NewSchemaless(attribute.String("service.name", ServiceName))
	}

	exporter := opts.Exporter
	var traceFile *lumberjack.Logger
	if exporter == nil {
		if opts.File == "" {
			return nil, errors.New("trace file path is required")
		}
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return nil, fmt.Errorf("failed to create trace directory: %w", err)
		}
		traceFile = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10, // 10 MB
			MaxBackups: 3,
			MaxAge:     28,
			Compress:   true,
		}
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(traceFile))
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		err := tp.Shutdown(ctx)
		if traceFile != nil {
			err = errors.Join(err, traceFile.Close())
		}
		return err
	}, nil
}
