// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"io"
	"net/http"

	"github.com/stacklok/mcpgw/pkg/gateway/identity"
)

// transportOwnedHeaders are set by the MCP transport and never overridden
// by forwarded caller headers.
var transportOwnedHeaders = map[string]bool{
	"Accept":               true,
	"Content-Length":       true,
	"Content-Type":         true,
	"Host":                 true,
	"Last-Event-Id":        true,
	"Mcp-Protocol-Version": true,
	"Mcp-Session-Id":       true,
}

// roundTripperFunc is a function adapter for http.RoundTripper.
type roundTripperFunc func(*http.Request) (*http.Response, error)

// RoundTrip implements http.RoundTripper.
func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// identityHeaderRoundTripper applies the outbound header set prepared by the
// proxy for the request in flight.
type identityHeaderRoundTripper struct {
	base http.RoundTripper
}

func (i *identityHeaderRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	headers, ok := identity.OutboundHeadersFromContext(req.Context())
	if !ok || len(headers) == 0 {
		return i.base.RoundTrip(req)
	}

	reqClone := req.Clone(req.Context())
	for name, values := range headers {
		key := http.CanonicalHeaderKey(name)
		if transportOwnedHeaders[key] || len(reqClone.Header.Values(key)) > 0 {
			continue
		}
		reqClone.Header[key] = append([]string(nil), values...)
	}
	return i.base.RoundTrip(reqClone)
}

func newTransportChain(base http.RoundTripper, limit int64) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	withIdentity := &identityHeaderRoundTripper{base: base}

	return roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		resp, err := withIdentity.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		resp.Body = struct {
			io.Reader
			io.Closer
		}{
			Reader: io.LimitReader(resp.Body, limit),
			Closer: resp.Body,
		}
		return resp, nil
	})
}
