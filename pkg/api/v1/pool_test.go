// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/mcpgw/pkg/gateway/pool"
)

func TestPoolRouter_RequiresAdmin(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	for _, path := range []string{"/pool", "/pool/evict", "/pool/health-check"} {
		method := http.MethodPost
		if path == "/pool" {
			method = http.MethodGet
		}
		assert.Equal(t, http.StatusForbidden, do(t, h.handler, alice, method, path, `{}`).Code, path)
		assert.Equal(t, http.StatusUnauthorized, do(t, h.handler, nil, method, path, `{}`).Code, path)
	}
}

func TestPoolRouter_StatusAndEvict(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.seed(t, httpServer("search", "alice"))

	idle, err := h.pool.Acquire(t.Context(), "search")
	require.NoError(t, err)
	busy, err := h.pool.Acquire(t.Context(), "search")
	require.NoError(t, err)
	h.pool.Release(idle)

	rec := do(t, h.handler, admin, http.MethodGet, "/pool", "")
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[pool.Status](t, rec)
	assert.Equal(t, 2, status.ActiveCount)
	assert.Equal(t, 1, status.InUseCount)

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{name: "server required", body: `{}`, wantStatus: http.StatusBadRequest},
		{name: "unknown connection", body: `{"server":"search","connection_id":"nope"}`, wantStatus: http.StatusNotFound},
		{name: "malformed", body: `{"server":`, wantStatus: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h.handler, admin, http.MethodPost, "/pool/evict", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
		})
	}

	rec = do(t, h.handler, admin, http.MethodPost, "/pool/evict", `{"server":"search"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[pool.EvictResult](t, rec)
	assert.Equal(t, pool.EvictResult{Evicted: 1, Deferred: 1}, res)

	h.pool.Release(busy)
	assert.Zero(t, h.pool.Count("search"))
}

func TestPoolRouter_HealthCheck(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.seed(t, httpServer("search", "alice"), httpServer("docs", "alice"))
	conn, err := h.pool.Acquire(t.Context(), "search")
	require.NoError(t, err)
	h.pool.Release(conn)

	rec := do(t, h.handler, admin, http.MethodPost, "/pool/health-check", `{"server":"search"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[healthCheckResponse](t, rec)
	require.Len(t, resp.Reports, 1)
	assert.Equal(t, "search", resp.Reports[0].Server)
	assert.Equal(t, 1, resp.Reports[0].Probe.Checked)
	assert.True(t, resp.Reports[0].Healthy)

	rec = do(t, h.handler, admin, http.MethodPost, "/pool/health-check", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decode[healthCheckResponse](t, rec).Reports, 2)

	rec = do(t, h.handler, admin, http.MethodPost, "/pool/health-check", `{"server":"nope"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
