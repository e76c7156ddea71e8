// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package telemetry wires OpenTelemetry metrics and traces for the gateway.
//
// Metrics can be scraped through a Prometheus handler, pushed over OTLP, or
// both. Traces are only exported over OTLP.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/stacklok/mcpgw/pkg/logger"
	"github.com/stacklok/mcpgw/pkg/telemetry/otlp"
	"github.com/stacklok/mcpgw/pkg/telemetry/prometheus"
)

const shutdownTimeout = 5 * time.Second

// Config holds the telemetry configuration.
type Config struct {
	ServiceName    string
	ServiceVersion string

	// PrometheusEnabled exposes a scrape handler.
	PrometheusEnabled bool

	OTLPEndpoint   string
	Headers        map[string]string
	Insecure       bool
	MetricsEnabled bool // push metrics over OTLP
	TracingEnabled bool // export traces over OTLP
	SamplingRate   float64
}

// Provider owns the meter and tracer providers of the process.
type Provider struct {
	meterProvider     metric.MeterProvider
	tracerProvider    trace.TracerProvider
	prometheusHandler http.Handler
	shutdownFuncs     []func(context.Context) error
}

// NewProvider builds providers for cfg. With nothing enabled it returns no-op
// providers and a nil Prometheus handler.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	p := &Provider{
		meterProvider:  noop.NewMeterProvider(),
		tracerProvider: tracenoop.NewTracerProvider(),
	}

	otlpMetrics := cfg.MetricsEnabled && cfg.OTLPEndpoint != ""
	otlpTraces := cfg.TracingEnabled && cfg.OTLPEndpoint != ""
	if !cfg.PrometheusEnabled && !otlpMetrics && !otlpTraces {
		logger.Debug("No telemetry configured, using no-op providers")
		return p, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource with service name '%s' and version '%s': %w",
			cfg.ServiceName, cfg.ServiceVersion, err)
	}

	exporterCfg := otlp.Config{
		Endpoint:     cfg.OTLPEndpoint,
		Headers:      cfg.Headers,
		Insecure:     cfg.Insecure,
		SamplingRate: cfg.SamplingRate,
	}

	var readers []sdkmetric.Option
	if cfg.PrometheusEnabled {
		reader, handler, err := prometheus.NewReader(prometheus.Config{IncludeRuntimeMetrics: true})
		if err != nil {
			return nil, err
		}
		readers = append(readers, sdkmetric.WithReader(reader))
		p.prometheusHandler = handler
	}
	if otlpMetrics {
		reader, err := otlp.NewMetricReader(ctx, exporterCfg, 0)
		if err != nil {
			return nil, err
		}
		readers = append(readers, sdkmetric.WithReader(reader))
	}
	if len(readers) > 0 {
		mp := sdkmetric.NewMeterProvider(append(readers, sdkmetric.WithResource(res))...)
		p.meterProvider = mp
		p.shutdownFuncs = append(p.shutdownFuncs, mp.Shutdown)
	}

	if otlpTraces {
		tp, shutdown, err := otlp.NewTracerProviderWithShutdown(ctx, exporterCfg, res)
		if err != nil {
			return nil, err
		}
		p.tracerProvider = tp
		if shutdown != nil {
			p.shutdownFuncs = append(p.shutdownFuncs, shutdown)
		}
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{}, propagation.Baggage{}))
	}

	logger.Infow("Telemetry providers created",
		"prometheus", cfg.PrometheusEnabled, "otlp_metrics", otlpMetrics, "otlp_traces", otlpTraces)
	return p, nil
}

// MeterProvider returns the meter provider.
func (p *Provider) MeterProvider() metric.MeterProvider {
	return p.meterProvider
}

// TracerProvider returns the tracer provider.
func (p *Provider) TracerProvider() trace.TracerProvider {
	return p.tracerProvider
}

// PrometheusHandler returns the scrape handler, or nil when Prometheus is disabled.
func (p *Provider) PrometheusHandler() http.Handler {
	return p.prometheusHandler
}

// Shutdown flushes and stops all providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	var errs []error
	for _, shutdown := range p.shutdownFuncs {
		if err := shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
