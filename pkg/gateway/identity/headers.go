// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package identity rewrites request headers for the reverse-proxy hop: it
// removes the caller's credentials and asserts the caller's identity to the
// upstream server with gateway-owned headers.
package identity

import (
	"net/http"
	"slices"
	"strings"

	"github.com/stacklok/mcpgw/pkg/auth"
)

// Identity header names asserted to upstream servers.
const (
	HeaderUserID   = "X-Mcp-UserId"
	HeaderUserName = "X-Mcp-UserName"
	HeaderRoles    = "X-Mcp-Roles"
)

// identityPrefix covers every header the gateway may assert. Inbound headers
// with this prefix are always dropped so callers cannot spoof an identity.
const identityPrefix = "X-Mcp-"

// credentialHeaders carry caller credentials and never leave the gateway.
var credentialHeaders = []string{
	"Authorization",
	"Cookie",
	"Proxy-Authorization",
	"X-Csrf-Token",
	"X-Xsrf-Token",
}

// hopByHopHeaders apply to a single connection only (RFC 9110 section 7.6.1).
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// StripAuthHeaders returns a copy of h without credential, hop-by-hop and
// identity headers. Header names are matched case-insensitively.
func StripAuthHeaders(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for name, values := range h {
		if isStripped(name) {
			continue
		}
		key := http.CanonicalHeaderKey(name)
		out[key] = append(out[key], values...)
	}
	return out
}

func isStripped(name string) bool {
	canonical := http.CanonicalHeaderKey(name)
	if slices.Contains(credentialHeaders, canonical) || slices.Contains(hopByHopHeaders, canonical) {
		return true
	}
	return strings.HasPrefix(strings.ToLower(canonical), strings.ToLower(identityPrefix))
}

// BuildIdentityHeaders returns the identity headers for id. Roles are
// sorted and deduplicated. A nil identity yields an empty set.
func BuildIdentityHeaders(id *auth.Identity) http.Header {
	h := make(http.Header)
	if id == nil {
		return h
	}

	h.Set(HeaderUserID, sanitize(id.Subject))
	if id.Name != "" {
		h.Set(HeaderUserName, sanitize(id.Name))
	}

	roles := make([]string, 0, len(id.Roles))
	for _, r := range id.Roles {
		r = strings.TrimSpace(sanitize(r))
		if r != "" {
			roles = append(roles, r)
		}
	}
	slices.Sort(roles)
	roles = slices.Compact(roles)
	if len(roles) > 0 {
		h.Set(HeaderRoles, strings.Join(roles, ","))
	}
	return h
}

// PrepareProxyHeaders strips original and injects the identity of id.
// The result never contains a credential header.
func PrepareProxyHeaders(original http.Header, id *auth.Identity) http.Header {
	out := StripAuthHeaders(original)
	for name, values := range BuildIdentityHeaders(id) {
		out[name] = values
	}
	for name := range out {
		if slices.Contains(credentialHeaders, http.CanonicalHeaderKey(name)) {
			delete(out, name)
		}
	}
	return out
}

// sanitize drops characters that could split or terminate a header line.
func sanitize(v string) string {
	return strings.Map(func(r rune) rune {
		if r == '\r' || r == '\n' || r == 0 {
			return -1
		}
		return r
	}, v)
}
