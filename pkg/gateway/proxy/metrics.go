// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/stacklok/mcpgw/pkg/gateway/proxy"

var knownMethods = map[string]bool{
	"initialize":               true,
	"ping":                     true,
	"tools/list":               true,
	"tools/call":               true,
	"resources/list":           true,
	"resources/read":           true,
	"resources/templates/list": true,
	"prompts/list":             true,
	"prompts/get":              true,
	"completion/complete":      true,
	"logging/setLevel":         true,
}

type outcome struct {
	server string
	method string
	status int
}

type metrics struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
}

func newMetrics(mp metric.MeterProvider) (*metrics, error) {
	meter := mp.Meter(meterName)

	requests, err := meter.Int64Counter("mcpgw_proxy_requests",
		metric.WithDescription("Proxied MCP requests by server, method and status"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("mcpgw_proxy_request_duration",
		metric.WithDescription("End to end latency of proxied MCP requests"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &metrics{requests: requests, duration: duration}, nil
}

func (m *metrics) record(ctx context.Context, o *outcome, start time.Time) {
	// Route misses keep the server label bounded.
	server := o.server
	if o.status == 404 || o.status == 401 {
		server = "unrouted"
	}
	method := o.method
	if !knownMethods[method] && method != "unknown" {
		method = "other"
	}
	attrs := metric.WithAttributes(
		attribute.String("server", server),
		attribute.String("method", method),
		attribute.String("status", strconv.Itoa(o.status)),
	)
	m.requests.Add(ctx, 1, attrs)
	m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
}
