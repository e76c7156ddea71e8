// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"context"
	"net/http"
)

type outboundHeadersKey struct{}

// WithOutboundHeaders stores the prepared header set for the upstream hop.
func WithOutboundHeaders(ctx context.Context, h http.Header) context.Context {
	return context.WithValue(ctx, outboundHeadersKey{}, h.Clone())
}

// OutboundHeadersFromContext returns the header set stored by WithOutboundHeaders.
func OutboundHeadersFromContext(ctx context.Context) (http.Header, bool) {
	h, ok := ctx.Value(outboundHeadersKey{}).(http.Header)
	return h, ok
}
