// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/stacklok/mcpgw/pkg/api/v1"
	"github.com/stacklok/mcpgw/pkg/auth"
	"github.com/stacklok/mcpgw/pkg/storage"
)

func denyAll(http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})
}

func testOptions(authMW func(http.Handler) http.Handler) Options {
	return Options{
		BasePath: "/mcp",
		Auth:     authMW,
		Proxy: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, _ := auth.IdentityFromContext(r.Context())
			w.Header().Set("X-Test-Path", r.URL.Path)
			w.Header().Set("X-Test-Caller", id.Subject)
			w.WriteHeader(http.StatusAccepted)
		}),
		API: v1.Deps{Store: storage.NewMemoryStore()},
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("mcpgw_proxy_requests 0\n"))
		}),
		MetricsPath: "/metrics",
	}
}

func TestNewRouter(t *testing.T) {
	t.Parallel()

	open, err := NewRouter(testOptions(auth.AnonymousMiddleware(auth.AdminRole)))
	require.NoError(t, err)
	closed, err := NewRouter(testOptions(denyAll))
	require.NoError(t, err)

	tests := []struct {
		name       string
		handler    http.Handler
		method     string
		path       string
		wantStatus int
	}{
		{name: "health is public", handler: closed, method: http.MethodGet, path: "/health", wantStatus: http.StatusNoContent},
		{name: "metrics are public", handler: closed, method: http.MethodGet, path: "/metrics", wantStatus: http.StatusOK},
		{name: "api needs auth", handler: closed, method: http.MethodGet, path: "/api/v1/version", wantStatus: http.StatusUnauthorized},
		{name: "proxy needs auth", handler: closed, method: http.MethodPost, path: "/mcp/search", wantStatus: http.StatusUnauthorized},
		{name: "api", handler: open, method: http.MethodGet, path: "/api/v1/version", wantStatus: http.StatusOK},
		{name: "proxy", handler: open, method: http.MethodPost, path: "/mcp/search", wantStatus: http.StatusAccepted},
		{name: "unknown", handler: open, method: http.MethodGet, path: "/nope", wantStatus: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			tt.handler.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}

	rec := httptest.NewRecorder()
	open.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp/search", nil))
	assert.Equal(t, "anonymous", rec.Header().Get("X-Test-Caller"))
}

func TestNewRouter_RequiresCollaborators(t *testing.T) {
	t.Parallel()

	opts := testOptions(nil)
	_, err := NewRouter(opts)
	require.Error(t, err)

	opts = testOptions(denyAll)
	opts.Proxy = nil
	_, err = NewRouter(opts)
	require.Error(t, err)
}

func TestServe_UnixSocket(t *testing.T) {
	t.Parallel()

	socket := filepath.Join(t.TempDir(), "run", "mcpgw.sock")
	opts := testOptions(auth.AnonymousMiddleware())
	opts.Address = unixPrefix + socket

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, opts) }()

	client := &http.Client{Transport: &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socket)
		},
	}}
	require.Eventually(t, func() bool {
		resp, err := client.Get("http://gateway/health")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusNoContent
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.NoFileExists(t, socket)
}
