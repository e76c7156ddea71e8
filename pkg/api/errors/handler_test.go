// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stacklok/mcpgw/pkg/gateway"
)

func TestErrorHandler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{name: "no error", err: nil, wantStatus: http.StatusOK, wantBody: "ok"},
		{
			name:       "client error keeps message",
			err:        fmt.Errorf("server %q: %w", "search", gateway.ErrNotFound),
			wantStatus: http.StatusNotFound,
			wantBody:   `server "search": not found`,
		},
		{
			name:       "forbidden",
			err:        gateway.ErrPermissionDenied,
			wantStatus: http.StatusForbidden,
			wantBody:   "permission denied",
		},
		{
			name:       "server error hides details",
			err:        fmt.Errorf("dial tcp 10.0.0.3:5432: %w", gateway.ErrUpstreamUnavailable),
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "Service Unavailable",
		},
		{
			name:       "plain error is internal",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantBody:   "Internal Server Error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := ErrorHandler(func(w http.ResponseWriter, _ *http.Request) error {
				if tt.err != nil {
					return tt.err
				}
				_, _ = w.Write([]byte("ok"))
				return nil
			})
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/servers", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
			assert.NotContains(t, rec.Body.String(), "10.0.0.3")
		})
	}
}
