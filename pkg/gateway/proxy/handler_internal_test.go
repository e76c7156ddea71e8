// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		body     string
		wantErr  error
		wantID   string
		wantTool string
	}{
		{name: "request", body: `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`, wantID: "1"},
		{name: "string id", body: ` {"jsonrpc":"2.0","id":"a-1","method":"ping"}`, wantID: `"a-1"`},
		{
			name:     "tool call",
			body:     `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"search","arguments":{}}}`,
			wantID:   "2",
			wantTool: "search",
		},
		{name: "notification", body: `{"jsonrpc":"2.0","method":"notifications/initialized"}`},
		{name: "batch", body: `[{"jsonrpc":"2.0","id":1,"method":"ping"}]`, wantErr: errBatch},
		{name: "invalid json", body: `{"jsonrpc":`, wantErr: errParse},
		{name: "missing method", body: `{"jsonrpc":"2.0","id":1}`, wantErr: errInvalidRequest},
		{name: "object id", body: `{"jsonrpc":"2.0","id":{},"method":"ping"}`, wantErr: errInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			msg, err := parseMessage([]byte(tt.body))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, string(msg.id))
			assert.Equal(t, tt.wantID == "", msg.isNotification())
			assert.Equal(t, tt.wantTool, msg.tool)
		})
	}
}

func TestWriteRPCError(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	writeRPCError(rec, http.StatusBadRequest, nil, errBatch)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":null,"error":{"code":-32600,"message":"batch requests are not supported"}}`,
		rec.Body.String())

	rec = httptest.NewRecorder()
	writeRPCError(rec, http.StatusServiceUnavailable, []byte(`5`), nil)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":5,"error":{"code":-32000,"message":"Service Unavailable"}}`,
		rec.Body.String())
}

func TestUserLimiter(t *testing.T) {
	t.Parallel()

	unlimited := newUserLimiter(0, 0)
	for range 100 {
		assert.True(t, unlimited.allow("u1"))
	}

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l := newUserLimiter(1, 1)
	l.now = func() time.Time { return now }

	assert.True(t, l.allow("u1"))
	assert.False(t, l.allow("u1"))
	now = now.Add(time.Second)
	assert.True(t, l.allow("u1"))

	l.callers["stale"] = &limiterEntry{limiter: nil, lastSeen: now.Add(-time.Hour)}
	l.pruneLocked(now)
	assert.NotContains(t, l.callers, "stale")
	assert.Contains(t, l.callers, "u1")
}
