// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"time"

	"dario.cat/mergo"
)

// Default values. Pool, health and proxy defaults match the package
// defaults of those components.
const (
	defaultListen    = ":8080"
	defaultBasePath  = "/mcp"
	defaultSecretEnv = "MCPGW_JWT_SECRET"
	defaultKeyPrefix = "mcpgw:"
	defaultDocker    = "docker"
	defaultMetrics   = "/metrics"
	defaultSampling  = 0.1

	defaultMaxConnections   = 20
	defaultAcquireTimeout   = 10 * time.Second
	defaultProbeTimeout     = 5 * time.Second
	defaultProbeConcurrency = 8

	defaultHealthInterval     = 30 * time.Second
	defaultUnhealthyThreshold = 3
	defaultContainerTimeout   = 5 * time.Second

	defaultRequestTimeout = 60 * time.Second
	defaultDrainTimeout   = 10 * time.Second
	defaultMaxBodyBytes   = 4 << 20
	defaultAcquireRetries = 2

	defaultHTTPTimeout      = 30 * time.Second
	defaultMaxResponseBytes = 100 << 20
)

// Default returns a fully populated configuration.
func Default() *Config {
	return &Config{
		Listen:   defaultListen,
		BasePath: defaultBasePath,
		Auth: AuthConfig{
			Mode:      AuthModeJWT,
			SecretEnv: defaultSecretEnv,
		},
		Store: StoreConfig{
			Type:  StoreMemory,
			Redis: RedisStore{KeyPrefix: defaultKeyPrefix},
		},
		Pool: PoolConfig{
			MaxConnections:   defaultMaxConnections,
			AcquireTimeout:   Duration(defaultAcquireTimeout),
			ProbeTimeout:     Duration(defaultProbeTimeout),
			ProbeConcurrency: defaultProbeConcurrency,
		},
		Health: HealthConfig{
			Interval:           Duration(defaultHealthInterval),
			UnhealthyThreshold: defaultUnhealthyThreshold,
			ContainerTimeout:   Duration(defaultContainerTimeout),
		},
		Proxy: ProxyConfig{
			RequestTimeout: Duration(defaultRequestTimeout),
			DrainTimeout:   Duration(defaultDrainTimeout),
			MaxBodyBytes:   defaultMaxBodyBytes,
			AcquireRetries: defaultAcquireRetries,
		},
		Client: ClientConfig{
			HTTPTimeout:      Duration(defaultHTTPTimeout),
			MaxResponseBytes: defaultMaxResponseBytes,
		},
		Containers: ContainersConfig{DockerBinary: defaultDocker},
		Metrics:    MetricsConfig{Path: defaultMetrics},
		Telemetry:  TelemetryConfig{SamplingRate: defaultSampling},
	}
}

// EnsureDefaults fills zero values with defaults, keeping every value the
// user provided. MaxPerServer stays zero (meaning "up to MaxConnections").
// Boolean switches default to false, so they are phrased as Disabled.
func (c *Config) EnsureDefaults() {
	if c == nil {
		return
	}
	// Merge defaults into target, only filling zero/nil values.
	_ = mergo.Merge(c, Default())
}
