// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/stacklok/toolhive-core/env"

	"github.com/stacklok/mcpgw/pkg/api"
	v1 "github.com/stacklok/mcpgw/pkg/api/v1"
	"github.com/stacklok/mcpgw/pkg/auth"
	"github.com/stacklok/mcpgw/pkg/container"
	"github.com/stacklok/mcpgw/pkg/container/docker"
	"github.com/stacklok/mcpgw/pkg/gateway/client"
	"github.com/stacklok/mcpgw/pkg/gateway/config"
	"github.com/stacklok/mcpgw/pkg/gateway/health"
	"github.com/stacklok/mcpgw/pkg/gateway/pool"
	"github.com/stacklok/mcpgw/pkg/gateway/proxy"
	"github.com/stacklok/mcpgw/pkg/gateway/toolindex"
	"github.com/stacklok/mcpgw/pkg/lifecycle"
	"github.com/stacklok/mcpgw/pkg/logger"
	"github.com/stacklok/mcpgw/pkg/storage"
	"github.com/stacklok/mcpgw/pkg/storage/redis"
	"github.com/stacklok/mcpgw/pkg/storage/sqlite"
	"github.com/stacklok/mcpgw/pkg/telemetry"
	"github.com/stacklok/mcpgw/pkg/versions"
)

const (
	clientName = "mcpgw"
	// seedCreator owns seed servers that do not name a creator.
	seedCreator = "config"
)

// gateway holds every long-lived component of a running gateway.
type gateway struct {
	cfg        *config.Config
	telemetry  *telemetry.Provider
	store      *storage.ObservedStore
	containers container.Manager
	closers    []io.Closer
	pool       *pool.Pool
	proxy      *proxy.Proxy
	index      *toolindex.Index
	checker    *health.Checker
	lifecycle  *lifecycle.Manager
	auth       func(http.Handler) http.Handler
}

// newGateway builds and wires the components. envReader defaults to the
// process environment.
func newGateway(ctx context.Context, cfg *config.Config, envReader env.Reader) (_ *gateway, err error) {
	if envReader == nil {
		envReader = &env.OSReader{}
	}
	gw := &gateway{cfg: cfg}
	defer func() {
		if err != nil {
			gw.close()
		}
	}()

	gw.auth, err = newAuthMiddleware(cfg.Auth, envReader)
	if err != nil {
		return nil, err
	}

	gw.telemetry, err = telemetry.NewProvider(ctx, telemetry.Config{
		ServiceName:       clientName,
		ServiceVersion:    versions.GetVersionInfo().Version,
		PrometheusEnabled: !cfg.Metrics.Disabled,
		OTLPEndpoint:      cfg.Telemetry.Endpoint,
		Headers:           cfg.Telemetry.Headers,
		Insecure:          cfg.Telemetry.Insecure,
		MetricsEnabled:    cfg.Telemetry.Metrics,
		TracingEnabled:    cfg.Telemetry.Tracing,
		SamplingRate:      cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return nil, fmt.Errorf("creating telemetry providers: %w", err)
	}

	backend, err := openStore(ctx, cfg.Store, envReader)
	if err != nil {
		return nil, err
	}
	gw.closers = append(gw.closers, backend)
	gw.store = storage.NewObservedStore(backend)

	gw.containers = container.NoopManager{}
	if cfg.Containers.Enabled {
		dm, err := docker.NewManager(ctx, docker.Config{Host: cfg.Containers.Host, Network: cfg.Containers.Network})
		if err != nil {
			return nil, fmt.Errorf("connecting to docker: %w", err)
		}
		gw.containers = dm
		gw.closers = append(gw.closers, dm)
	}

	mp := gw.telemetry.MeterProvider()
	dialer := client.NewDialer(client.Config{
		ClientName:      clientName,
		HTTPTimeout:     cfg.Client.HTTPTimeout.Std(),
		MaxResponseSize: cfg.Client.MaxResponseBytes,
		DockerBinary:    cfg.Containers.DockerBinary,
	})
	gw.pool, err = pool.New(gw.store, dialer, pool.Config{
		MaxConnections:   cfg.Pool.MaxConnections,
		MaxPerServer:     cfg.Pool.MaxPerServer,
		AcquireTimeout:   cfg.Pool.AcquireTimeout.Std(),
		ProbeTimeout:     cfg.Pool.ProbeTimeout.Std(),
		ProbeConcurrency: cfg.Pool.ProbeConcurrency,
	}, pool.WithMeterProvider(mp))
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	gw.proxy, err = proxy.New(gw.pool, gw.store, proxy.Config{
		RequestTimeout: cfg.Proxy.RequestTimeout.Std(),
		DrainTimeout:   cfg.Proxy.DrainTimeout.Std(),
		MaxBodyBytes:   cfg.Proxy.MaxBodyBytes,
		RateLimit:      cfg.Proxy.RateLimit,
		RateBurst:      cfg.Proxy.RateBurst,
		AcquireRetries: cfg.Proxy.AcquireRetries,
	}, proxy.WithMeterProvider(mp))
	if err != nil {
		return nil, fmt.Errorf("creating proxy: %w", err)
	}

	gw.index = toolindex.New(gw.pool, gw.proxy, toolindex.Config{})
	gw.checker = health.NewChecker(gw.pool, gw.store, gw.containers, health.Config{
		Interval:           cfg.Health.Interval.Std(),
		UnhealthyThreshold: cfg.Health.UnhealthyThreshold,
		ContainerTimeout:   cfg.Health.ContainerTimeout.Std(),
	})
	gw.lifecycle = lifecycle.NewManager(gw.proxy, gw.pool, gw.containers, gw.index,
		lifecycle.WithHealthTracker(gw.checker))
	gw.store.AddHook(gw.lifecycle)
	return gw, nil
}

// openStore opens the configured resource store backend.
func openStore(ctx context.Context, cfg config.StoreConfig, envReader env.Reader) (storage.ServerStore, error) {
	switch cfg.Type {
	case config.StoreSQLite:
		path, err := cfg.SQLite.ResolvePath()
		if err != nil {
			return nil, err
		}
		s, err := sqlite.NewServerStoreFromPath(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		return s, nil
	case config.StoreRedis:
		var password string
		if cfg.Redis.PasswordEnv != "" {
			password = envReader.Getenv(cfg.Redis.PasswordEnv)
		}
		s, err := redis.NewServerStore(ctx, redis.Config{
			Addrs:     cfg.Redis.Addrs,
			Username:  cfg.Redis.Username,
			Password:  password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("connecting to redis store: %w", err)
		}
		return s, nil
	case config.StoreMemory, "":
		return storage.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported store type %q", cfg.Type)
	}
}

// newAuthMiddleware returns the identity middleware for the configured mode.
func newAuthMiddleware(cfg config.AuthConfig, envReader env.Reader) (func(http.Handler) http.Handler, error) {
	switch cfg.Mode {
	case config.AuthModeAnonymous:
		logger.Warn("Anonymous authentication is enabled; every caller shares one identity")
		return auth.AnonymousMiddleware(cfg.AnonymousRoles...), nil
	case config.AuthModeJWT:
		v, err := auth.NewJWTValidator(auth.JWTValidatorConfig{
			Secret:   []byte(envReader.Getenv(cfg.SecretEnv)),
			Issuer:   cfg.Issuer,
			Audience: cfg.Audience,
		})
		if err != nil {
			return nil, fmt.Errorf("configuring jwt auth from $%s: %w", cfg.SecretEnv, err)
		}
		return v.Middleware, nil
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.Mode)
	}
}

// run mounts stored servers, applies seed servers, starts background work
// and serves until ctx is cancelled. Components are shut down on return.
func (gw *gateway) run(ctx context.Context) error {
	defer gw.close()

	if _, err := gw.lifecycle.Bootstrap(ctx, gw.store); err != nil {
		return fmt.Errorf("mounting stored servers: %w", err)
	}
	if gw.cfg.Containers.Enabled {
		if _, err := gw.lifecycle.ReapOrphans(ctx, gw.store); err != nil {
			logger.Warnf("Failed to reap orphaned containers: %v", err)
		}
	}

	if err := gw.seed(ctx); err != nil {
		return err
	}

	if !gw.cfg.Health.Disabled {
		if err := gw.checker.Start(ctx); err != nil {
			return err
		}
		defer func() {
			if err := gw.checker.Stop(); err != nil {
				logger.Debugf("Stopping health checker: %v", err)
			}
		}()
	}
	gw.index.Trigger()

	opts := api.Options{
		Address:  gw.cfg.Listen,
		BasePath: gw.cfg.BasePath,
		Auth:     gw.auth,
		Proxy:    gw.proxy,
		API: v1.Deps{
			Store:      gw.store,
			Pool:       gw.pool,
			Health:     gw.checker,
			Tools:      gw.index,
			Containers: gw.containers,
		},
		Metrics:        gw.telemetry.PrometheusHandler(),
		MetricsPath:    gw.cfg.Metrics.Path,
		TracerProvider: gw.telemetry.TracerProvider(),
	}
	serveErr := api.Serve(ctx, opts)

	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), gw.cfg.Proxy.DrainTimeout.Std())
	defer cancel()
	gw.proxy.UnmountAll(drainCtx)
	return serveErr
}

// seed upserts the configured servers. Stored servers with the same name
// are replaced, keeping their creator.
func (gw *gateway) seed(ctx context.Context) error {
	for i := range gw.cfg.Servers {
		desc := gw.cfg.Servers[i].Clone()
		if desc.CreatorID == "" {
			desc.CreatorID = seedCreator
		}
		if _, err := gw.store.Upsert(ctx, desc); err != nil {
			return fmt.Errorf("seeding server %s: %w", desc.Name, err)
		}
	}
	if len(gw.cfg.Servers) > 0 {
		logger.Infof("Seeded %d servers from configuration", len(gw.cfg.Servers))
	}
	return nil
}

// close releases components in reverse dependency order. It is safe to call
// on a partially built gateway.
func (gw *gateway) close() {
	if gw.index != nil {
		gw.index.Close()
	}
	if gw.pool != nil {
		gw.pool.CloseAll()
	}
	var errs []error
	for i := len(gw.closers) - 1; i >= 0; i-- {
		errs = append(errs, gw.closers[i].Close())
	}
	if gw.telemetry != nil {
		errs = append(errs, gw.telemetry.Shutdown(context.Background()))
	}
	if err := errors.Join(errs...); err != nil {
		logger.Warnf("Errors during shutdown: %v", err)
	}
	gw.closers = nil
}
