// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/mcpgw/pkg/gateway/toolindex"
)

func TestToolsRouter(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, "search", "private", "gone")
	private := httpServer("private", "carol")
	private.RequiredRoles = []string{"ops"}
	h.seed(t, httpServer("search", "alice"), private, httpServer("gone", "alice"))

	rec := do(t, h.handler, alice, http.MethodPost, "/tools/rebuild", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, h.handler, admin, http.MethodPost, "/tools/rebuild", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decode[toolindex.RebuildReport](t, rec)
	assert.Equal(t, 3, report.Tools)

	require.NoError(t, h.store.Delete(t.Context(), "gone"))

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{name: "everything readable", query: "", want: []string{"search_lookup"}},
		{name: "keyword", query: "?q=lookup", want: []string{"search_lookup"}},
		{name: "hidden server", query: "?q=private", want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := do(t, h.handler, bob, http.MethodGet, "/tools"+tt.query, "")
			require.Equal(t, http.StatusOK, rec.Code)
			resp := decode[toolSearchResponse](t, rec)
			got := []string{}
			for _, e := range resp.Tools {
				got = append(got, e.Tool)
			}
			assert.Equal(t, tt.want, got)
			assert.False(t, resp.BuiltAt.IsZero())
		})
	}

	rec = do(t, h.handler, admin, http.MethodGet, "/tools?q=lookup", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[toolSearchResponse](t, rec).Tools, 2)
}
