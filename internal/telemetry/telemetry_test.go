// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init(context.Background(), Options{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_ExportsSpans(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	exporter := tracetest.NewInMemoryExporter()
	shutdown, err := Init(context.Background(), Options{Enabled: true, Version: "test", Exporter: exporter})
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "lifecycle.load")
	span.End()
	require.NoError(t, shutdown(context.Background()))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "lifecycle.load", spans[0].Name)

	found := false
	for _, kv := range spans[0].Resource.Attributes() {
		if string(kv.Key) == "service.name" && kv.Value.AsString() == ServiceName {
			found = true
		}
	}
	assert.True(t, found)
}

func TestInit_WritesFile(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	path := filepath.Join(t.TempDir(), "logs", "traces.jsonl")
	shutdown, err := Init(context.Background(), Options{Enabled: true, File: path})
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "storage.save_transcript")
	span.End()
	require.NoError(t, shutdown(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "storage.save_transcript")
}

func TestInit_RequiresFile(t *testing.T) {
	_, err := Init(context.Background(), Options{Enabled: true})
	assert.Error(t, err)
}
