// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package otlp builds OpenTelemetry Protocol exporters for metrics and traces.
package otlp

// Config configures the OTLP HTTP exporters.
type Config struct {
	// Endpoint is the collector address, e.g. "localhost:4318".
	Endpoint string
	Headers  map[string]string
	Insecure bool
	// SamplingRate is the fraction of traces kept (0.0 to 1.0).
	SamplingRate float64
}
