// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/mcpgw/pkg/auth"
)

func TestPrepareProxyHeaders_ReplacesCredentialsWithIdentity(t *testing.T) {
	t.Parallel()

	original := http.Header{
		"Authorization": {"Bearer xyz"},
		"X-Custom":      {"1"},
	}
	got := PrepareProxyHeaders(original, &auth.Identity{Subject: "u1", Roles: []string{"member"}})

	assert.Equal(t, "u1", got.Get(HeaderUserID))
	assert.Equal(t, "1", got.Get("X-Custom"))
	assert.Equal(t, "member", got.Get(HeaderRoles))
	_, hasAuth := got["Authorization"]
	assert.False(t, hasAuth)
	// The input is left untouched.
	assert.Equal(t, "Bearer xyz", original.Get("Authorization"))
}

func TestPrepareProxyHeaders_NeverLeaksStrippedHeaders(t *testing.T) {
	t.Parallel()

	identities := []*auth.Identity{
		nil,
		{Subject: "u1"},
		{Subject: "admin", Name: "Admin", Roles: []string{auth.AdminRole}},
		{Subject: "evil\r\nAuthorization: Bearer x", Roles: []string{"a", "a", " b "}},
	}
	inputs := []http.Header{
		{"authorization": {"Bearer a"}},
		{"COOKIE": {"session=1"}, "Accept": {"application/json"}},
		{"Proxy-Authorization": {"Basic x"}, "X-Csrf-Token": {"t"}, "x-xsrf-token": {"t"}},
		{"Connection": {"close"}, "Upgrade": {"websocket"}, "Transfer-Encoding": {"chunked"}},
		{"X-Mcp-UserId": {"spoofed"}, "x-mcp-roles": {"mcp.admin"}, "X-Mcp-Anything": {"1"}},
	}
	stripped := append(append([]string{}, credentialHeaders...), hopByHopHeaders...)

	for _, id := range identities {
		for _, in := range inputs {
			got := PrepareProxyHeaders(in, id)
			for name := range got {
				assert.NotContains(t, stripped, http.CanonicalHeaderKey(name))
			}
			if id == nil {
				assert.Empty(t, got.Get(HeaderUserID))
				assert.Empty(t, got.Get(HeaderRoles))
			}
			for _, values := range got {
				for _, v := range values {
					assert.NotContains(t, v, "\r")
					assert.NotContains(t, v, "\n")
				}
			}
		}
	}
}

func TestStripAuthHeaders(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   http.Header
		want http.Header
	}{
		{
			name: "keeps ordinary headers",
			in:   http.Header{"Accept": {"text/event-stream"}, "x-request-id": {"r1"}},
			want: http.Header{"Accept": {"text/event-stream"}, "X-Request-Id": {"r1"}},
		},
		{
			name: "drops credentials case-insensitively",
			in:   http.Header{"authorization": {"Bearer a"}, "cookie": {"c"}, "Mcp-Session-Id": {"s"}},
			want: http.Header{"Mcp-Session-Id": {"s"}},
		},
		{
			name: "drops spoofed identity",
			in:   http.Header{"X-Mcp-Userid": {"root"}},
			want: http.Header{},
		},
		{
			name: "empty",
			in:   nil,
			want: http.Header{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, StripAuthHeaders(tt.in))
		})
	}
}

func TestBuildIdentityHeaders(t *testing.T) {
	t.Parallel()

	h := BuildIdentityHeaders(&auth.Identity{
		Subject: "u1",
		Name:    "Jo\nSmith",
		Roles:   []string{"writer", "member", "writer", ""},
	})
	assert.Equal(t, "u1", h.Get(HeaderUserID))
	assert.Equal(t, "JoSmith", h.Get(HeaderUserName))
	assert.Equal(t, "member,writer", h.Get(HeaderRoles))

	h = BuildIdentityHeaders(&auth.Identity{Subject: "u2"})
	assert.Equal(t, "u2", h.Get(HeaderUserID))
	_, hasRoles := h[HeaderRoles]
	assert.False(t, hasRoles)

	assert.Empty(t, BuildIdentityHeaders(nil))
}

func TestOutboundHeadersContext(t *testing.T) {
	t.Parallel()

	_, ok := OutboundHeadersFromContext(context.Background())
	assert.False(t, ok)

	h := http.Header{HeaderUserID: {"u1"}}
	ctx := WithOutboundHeaders(context.Background(), h)
	h.Set(HeaderUserID, "changed")

	got, ok := OutboundHeadersFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "u1", got.Get(HeaderUserID))
}
