// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidConfig indicates a configuration that cannot be used.
var ErrInvalidConfig = errors.New("invalid configuration")

// Validate checks cfg and reports every problem at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: configuration is nil", ErrInvalidConfig)
	}

	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if cfg.Listen == "" {
		add("listen address is required")
	}
	if !strings.HasPrefix(cfg.BasePath, "/") || cfg.BasePath == "/" || strings.HasSuffix(cfg.BasePath, "/") {
		add("basePath %q must start with / and not end with /", cfg.BasePath)
	}
	if strings.HasPrefix(cfg.BasePath, "/api") {
		add("basePath %q collides with the admin API", cfg.BasePath)
	}

	switch cfg.Auth.Mode {
	case AuthModeJWT:
		if cfg.Auth.SecretEnv == "" {
			add("auth.secretEnv is required in jwt mode")
		}
	case AuthModeAnonymous:
	default:
		add("auth.mode %q must be %q or %q", cfg.Auth.Mode, AuthModeJWT, AuthModeAnonymous)
	}

	switch cfg.Store.Type {
	case StoreMemory, StoreSQLite:
	case StoreRedis:
		if len(cfg.Store.Redis.Addrs) == 0 {
			add("store.redis.addrs needs at least one address")
		}
	default:
		add("store.type %q must be one of %s, %s, %s", cfg.Store.Type, StoreMemory, StoreSQLite, StoreRedis)
	}

	if cfg.Pool.MaxConnections < 1 {
		add("pool.maxConnections must be positive")
	}
	if cfg.Pool.MaxPerServer < 0 || cfg.Pool.MaxPerServer > cfg.Pool.MaxConnections {
		add("pool.maxPerServer must be between 0 and pool.maxConnections")
	}
	if cfg.Pool.AcquireTimeout <= 0 || cfg.Pool.ProbeTimeout <= 0 {
		add("pool timeouts must be positive")
	}
	if cfg.Health.UnhealthyThreshold < 1 {
		add("health.unhealthyThreshold must be at least 1")
	}
	if cfg.Proxy.RequestTimeout <= 0 || cfg.Proxy.DrainTimeout <= 0 {
		add("proxy timeouts must be positive")
	}
	if cfg.Proxy.RateLimit < 0 || cfg.Proxy.RateBurst < 0 || cfg.Proxy.AcquireRetries < 0 {
		add("proxy.rateLimit, proxy.rateBurst and proxy.acquireRetries must not be negative")
	}
	if !cfg.Metrics.Disabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		add("metrics.path %q must start with /", cfg.Metrics.Path)
	}
	if (cfg.Telemetry.Metrics || cfg.Telemetry.Tracing) && cfg.Telemetry.Endpoint == "" {
		add("telemetry.endpoint is required when OTLP metrics or tracing is enabled")
	}
	if cfg.Telemetry.SamplingRate < 0 || cfg.Telemetry.SamplingRate > 1 {
		add("telemetry.samplingRate must be between 0 and 1")
	}

	seen := make(map[string]bool, len(cfg.Servers))
	for i := range cfg.Servers {
		s := &cfg.Servers[i]
		if seen[s.Name] {
			add("servers[%d]: duplicate name %q", i, s.Name)
		}
		seen[s.Name] = true
		if err := s.Validate(); err != nil {
			add("servers[%d]: %v", i, err)
		}
		if s.ManagedContainer() && !cfg.Containers.Enabled {
			add("servers[%d]: %q needs containers.enabled for docker_image", i, s.Name)
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(problems, "\n  - "))
	}
	return nil
}
