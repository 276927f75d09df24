// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package metrics

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResult(t *testing.T) {
	assert.Equal(t, "ok", Result(nil))
	assert.Equal(t, "error", Result(errors.New("x")))
}

func TestSetState(t *testing.T) {
	all := []string{"idle", "ready", "failed"}
	SetState("ready", all)

	assert.Equal(t, 1.0, testutil.ToFloat64(State.WithLabelValues("ready")))
	assert.Equal(t, 0.0, testutil.ToFloat64(State.WithLabelValues("idle")))

	SetState("failed", all)
	assert.Equal(t, 0.0, testutil.ToFloat64(State.WithLabelValues("ready")))
	assert.Equal(t, 1.0, testutil.ToFloat64(State.WithLabelValues("failed")))
}

func TestServer_ServesMetrics(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	FragmentsTotal.Add(3)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	srv := NewServer(ln.Addr().String(), nil)
	go func() { done <- srv.Serve(ctx, ln) }()

	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		body = string(data)
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	assert.True(t, strings.Contains(body, "localchat_session_fragments_total"))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
