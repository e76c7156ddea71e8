// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package health verifies that pooled upstream connections and the
// containers behind them are still usable, and evicts the ones that are not.
//
// Failures are handled here: they are logged, recorded in the per-server
// status and turned into evictions. They are never returned to proxied
// requests.
package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stacklok/mcpgw/pkg/container"
	"github.com/stacklok/mcpgw/pkg/gateway"
	"github.com/stacklok/mcpgw/pkg/gateway/pool"
	"github.com/stacklok/mcpgw/pkg/logger"
	"github.com/stacklok/mcpgw/pkg/storage"
)

// Defaults for Config.
const (
	DefaultInterval           = 30 * time.Second
	DefaultUnhealthyThreshold = 3
	DefaultContainerTimeout   = 5 * time.Second
	defaultConcurrency        = 4
)

// Pool is the part of the connection pool the checker drives.
type Pool interface {
	Probe(ctx context.Context, serverName string, probe pool.ProbeFunc) (pool.HealthReport, error)
	Evict(serverName, connectionID string) (pool.EvictResult, error)
}

// Servers lists the descriptors to check.
type Servers interface {
	Get(ctx context.Context, name string) (*gateway.ServerDescriptor, error)
	List(ctx context.Context, filter storage.ListFilter) ([]*gateway.ServerDescriptor, error)
}

// Config tunes the checker.
type Config struct {
	// Interval between background rounds.
	Interval time.Duration
	// UnhealthyThreshold is the number of consecutive failed rounds before a
	// server is reported unhealthy.
	UnhealthyThreshold int
	// ContainerTimeout bounds a single container status query.
	ContainerTimeout time.Duration
}

// Report is the outcome of checking one server.
type Report struct {
	Server string `json:"server"`
	// Probe is the pool's report for the protocol probes.
	Probe pool.HealthReport `json:"probe"`
	// Container is set for servers running in a managed container.
	Container *container.Status `json:"container,omitempty"`
	// ContainerEvicted is set when a down container caused a full eviction.
	ContainerEvicted *pool.EvictResult `json:"container_evicted,omitempty"`
	Healthy          bool              `json:"healthy"`
	// Starting is set while a managed container's healthcheck has not
	// reported yet. Such rounds neither fail nor succeed.
	Starting bool   `json:"starting,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Checker runs protocol probes and container checks.
type Checker struct {
	pool       Pool
	servers    Servers
	containers container.Manager
	cfg        Config
	probe      pool.ProbeFunc
	status     *statusTracker

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option customizes a Checker.
type Option func(*Checker)

// WithProbe replaces the protocol probe. Defaults to pool.PingProbe.
func WithProbe(probe pool.ProbeFunc) Option {
	return func(c *Checker) { c.probe = probe }
}

// WithClock replaces time.Now for status timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Checker) { c.status.now = now }
}

// NewChecker creates a Checker. containers may be nil when container
// management is disabled.
func NewChecker(p Pool, servers Servers, containers container.Manager, cfg Config, opts ...Option) *Checker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.UnhealthyThreshold <= 0 {
		cfg.UnhealthyThreshold = DefaultUnhealthyThreshold
	}
	if cfg.ContainerTimeout <= 0 {
		cfg.ContainerTimeout = DefaultContainerTimeout
	}
	if containers == nil {
		containers = container.NoopManager{}
	}

	c := &Checker{
		pool:       p,
		servers:    servers,
		containers: containers,
		cfg:        cfg,
		probe:      pool.PingProbe,
		status:     newStatusTracker(cfg.UnhealthyThreshold, time.Now),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckNow checks serverName immediately. The descriptor must exist.
func (c *Checker) CheckNow(ctx context.Context, serverName string) (Report, error) {
	desc, err := c.servers.Get(ctx, serverName)
	if err != nil {
		return Report{}, err
	}
	return c.check(ctx, desc), nil
}

// CheckAll checks every enabled server concurrently.
func (c *Checker) CheckAll(ctx context.Context) ([]Report, error) {
	descs, err := c.servers.List(ctx, storage.ListFilter{EnabledOnly: true})
	if err != nil {
		return nil, fmt.Errorf("listing servers: %w", err)
	}

	reports := make([]Report, len(descs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultConcurrency)
	for i, desc := range descs {
		g.Go(func() error {
			reports[i] = c.check(gctx, desc)
			return nil
		})
	}
	_ = g.Wait()
	return reports, nil
}

// check runs the container check and the protocol probe independently; a
// failure of either marks the round as failed.
func (c *Checker) check(ctx context.Context, desc *gateway.ServerDescriptor) Report {
	report := Report{Server: desc.Name}
	var failures []error

	if desc.ManagedContainer() {
		cctx, cancel := context.WithTimeout(ctx, c.cfg.ContainerTimeout)
		st, err := c.containers.Status(cctx, desc.Name)
		cancel()

		switch {
		case err != nil:
			failures = append(failures, fmt.Errorf("%w: container status: %w", gateway.ErrHealthCheckFailed, err))
		case st.Running && st.Starting:
			report.Container = &st
			report.Starting = true
		case !st.Running || !st.Healthy:
			report.Container = &st
			failures = append(failures, fmt.Errorf("%w: container %s (running=%t healthy=%t)",
				gateway.ErrHealthCheckFailed, st.State, st.Running, st.Healthy))
		default:
			report.Container = &st
		}

		if len(failures) > 0 {
			// Busy connections are marked and destroyed on release.
			res, err := c.pool.Evict(desc.Name, "")
			if err != nil {
				logger.Warnf("Failed to evict connections of %s: %v", desc.Name, err)
			} else {
				report.ContainerEvicted = &res
			}
		}
	}

	probe, err := c.pool.Probe(ctx, desc.Name, c.probe)
	switch {
	case err != nil:
		failures = append(failures, err)
	case probe.Evicted > 0:
		failures = append(failures, fmt.Errorf("%w: %d of %d idle connections failed",
			gateway.ErrHealthCheckFailed, probe.Evicted, probe.Checked))
	}
	report.Probe = probe

	if len(failures) > 0 {
		joined := errors.Join(failures...)
		report.Error = joined.Error()
		c.status.recordFailure(desc.Name, joined)
		logger.Warnw("health check failed", "server", desc.Name, "error", joined)
		return report
	}

	if report.Starting {
		logger.Debugw("container still starting, skipping health verdict", "server", desc.Name)
		return report
	}

	report.Healthy = true
	if probe.Checked > 0 || report.Container != nil {
		c.status.recordSuccess(desc.Name)
	}
	return report
}

// Status returns the tracked health of serverName.
func (c *Checker) Status(serverName string) ServerHealth {
	st, _ := c.status.get(serverName)
	return st
}

// Statuses returns the tracked health of every checked server.
func (c *Checker) Statuses() []ServerHealth {
	return c.status.all()
}

// Forget drops the tracked health of a removed server.
func (c *Checker) Forget(serverName string) {
	c.status.remove(serverName)
}

// Start runs CheckAll every interval until Stop is called or ctx ends.
func (c *Checker) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return fmt.Errorf("monitor already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.started = true

	logger.Infow("Starting health checker", "interval", c.cfg.Interval,
		"threshold", c.cfg.UnhealthyThreshold)

	c.wg.Add(1)
	go c.loop(runCtx)
	return nil
}

// Stop ends the background loop and waits for the running round.
func (c *Checker) Stop() error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return fmt.Errorf("monitor not started")
	}
	c.cancel()
	c.started = false
	c.mu.Unlock()

	c.wg.Wait()
	logger.Info("Health checker stopped")
	return nil
}

func (c *Checker) loop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.CheckAll(ctx); err != nil && ctx.Err() == nil {
				logger.Warnf("Health check round failed: %v", err)
			}
		}
	}
}
