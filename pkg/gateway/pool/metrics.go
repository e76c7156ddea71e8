// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/stacklok/mcpgw/pkg/gateway/pool"

// Acquire outcomes.
const (
	outcomeReused     = "reused"
	outcomeCreated    = "created"
	outcomeExhausted  = "exhausted"
	outcomeDialFailed = "dial_failed"
	outcomeUnknown    = "unknown_server"
)

// Eviction reasons.
const (
	reasonExplicit = "explicit"
	reasonDeferred = "deferred"
	reasonLRU      = "lru"
	reasonHealth   = "health"
	reasonShutdown = "shutdown"
)

type metrics struct {
	acquires  metric.Int64Counter
	waitTime  metric.Float64Histogram
	evictions metric.Int64Counter
	now       func() time.Time
}

func newMetrics(mp metric.MeterProvider, p *Pool) (*metrics, error) {
	meter := mp.Meter(instrumentationName)

	acquires, err := meter.Int64Counter(
		"mcpgw_pool_acquires",
		metric.WithDescription("Total number of connection acquisitions by outcome"),
	)
	if err != nil {
		return nil, err
	}

	waitTime, err := meter.Float64Histogram(
		"mcpgw_pool_acquire_duration",
		metric.WithDescription("Time spent acquiring a connection (in seconds)"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	evictions, err := meter.Int64Counter(
		"mcpgw_pool_evictions",
		metric.WithDescription("Total number of destroyed connections by reason"),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(
		"mcpgw_pool_connections",
		metric.WithDescription("Live pooled connections per server"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			for _, s := range p.Status().Servers {
				inUse := 0
				for _, c := range s.Connections {
					if c.InUse {
						inUse++
					}
				}
				o.Observe(int64(inUse), metric.WithAttributes(
					attribute.String("server", s.Name), attribute.String("state", "in_use")))
				o.Observe(int64(len(s.Connections)-inUse), metric.WithAttributes(
					attribute.String("server", s.Name), attribute.String("state", "idle")))
			}
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	return &metrics{
		acquires:  acquires,
		waitTime:  waitTime,
		evictions: evictions,
		now:       p.now,
	}, nil
}

func (m *metrics) acquired(ctx context.Context, server, outcome string, start time.Time) {
	attrs := metric.WithAttributes(
		attribute.String("server", server),
		attribute.String("outcome", outcome),
	)
	m.acquires.Add(ctx, 1, attrs)
	m.waitTime.Record(ctx, m.now().Sub(start).Seconds(), attrs)
}

func (m *metrics) evicted(ctx context.Context, server, reason string) {
	m.evictions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("server", server),
		attribute.String("reason", reason),
	))
}
