// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package lifecycle keeps the running gateway in step with the resource
// store: it mounts, unmounts, evicts and starts or stops containers as
// server descriptors are created, changed and deleted.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/stacklok/mcpgw/pkg/container"
	"github.com/stacklok/mcpgw/pkg/gateway"
	"github.com/stacklok/mcpgw/pkg/gateway/pool"
	"github.com/stacklok/mcpgw/pkg/logger"
	"github.com/stacklok/mcpgw/pkg/storage"
)

// DefaultContainerTimeout bounds a single container start or stop.
const DefaultContainerTimeout = 2 * time.Minute

// Router mounts servers on the proxy.
type Router interface {
	Mount(serverName string)
	Unmount(ctx context.Context, serverName string) error
}

// Evicter removes pooled connections.
type Evicter interface {
	Evict(serverName, connectionID string) (pool.EvictResult, error)
}

// Indexer rebuilds the tool index in the background.
type Indexer interface {
	Trigger()
}

// HealthTracker drops health state of removed servers.
type HealthTracker interface {
	Forget(serverName string)
}

// Manager reacts to resource store mutations. It implements storage.Hook.
type Manager struct {
	router     Router
	pool       Evicter
	containers container.Manager
	index      Indexer
	health     HealthTracker

	containerTimeout time.Duration
}

var _ storage.Hook = (*Manager)(nil)

// Option customizes a Manager.
type Option func(*Manager)

// WithHealthTracker forgets health state when servers go away.
func WithHealthTracker(h HealthTracker) Option {
	return func(m *Manager) { m.health = h }
}

// WithContainerTimeout overrides DefaultContainerTimeout.
func WithContainerTimeout(d time.Duration) Option {
	return func(m *Manager) { m.containerTimeout = d }
}

// NewManager creates a Manager. containers may be nil when container
// management is disabled.
func NewManager(router Router, p Evicter, containers container.Manager, index Indexer, opts ...Option) *Manager {
	if containers == nil {
		containers = container.NoopManager{}
	}
	m := &Manager{
		router:           router,
		pool:             p,
		containers:       containers,
		index:            index,
		containerTimeout: DefaultContainerTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Bootstrap mounts every enabled descriptor and starts their containers.
// A server whose container fails to start is still mounted so requests
// report it as unavailable. It returns the number of mounted servers.
func (m *Manager) Bootstrap(ctx context.Context, servers storage.ServerStore) (int, error) {
	descs, err := servers.List(ctx, storage.ListFilter{EnabledOnly: true})
	if err != nil {
		return 0, fmt.Errorf("listing servers: %w", err)
	}
	for _, desc := range descs {
		m.activate(ctx, desc)
	}
	if len(descs) > 0 {
		m.index.Trigger()
	}
	logger.Infof("Mounted %d servers", len(descs))
	return len(descs), nil
}

// ContainerLister is implemented by container managers that can enumerate
// the containers they own.
type ContainerLister interface {
	List(ctx context.Context) ([]string, error)
}

// ReapOrphans stops managed containers left behind by servers that were
// deleted, disabled or switched away from a managed container while the
// gateway was down. It returns the number of containers stopped.
func (m *Manager) ReapOrphans(ctx context.Context, servers storage.ServerStore) (int, error) {
	lister, ok := m.containers.(ContainerLister)
	if !ok {
		return 0, nil
	}
	names, err := lister.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing managed containers: %w", err)
	}

	stopped := 0
	for _, name := range names {
		desc, err := servers.Get(ctx, name)
		switch {
		case errors.Is(err, storage.ErrNotFound):
		case err != nil:
			logger.Warnf("Skipping container of %s: %v", name, err)
			continue
		case desc.Enabled && desc.ManagedContainer():
			continue
		}
		logger.Infof("Stopping orphaned container of %s", name)
		m.stopContainer(ctx, name)
		stopped++
	}
	return stopped, nil
}

// OnUpsert mounts enabled servers and retires disabled ones. When the way
// to reach a server changed, its existing connections are evicted so new
// requests use the new settings.
func (m *Manager) OnUpsert(ctx context.Context, old, updated *gateway.ServerDescriptor) {
	ctx = context.WithoutCancel(ctx)

	if !updated.Enabled {
		if old != nil && old.Enabled {
			m.retire(ctx, updated.Name, old.ManagedContainer())
		}
		return
	}

	if old != nil && connectionChanged(old, updated) {
		logger.Infof("Connection settings of %s changed, evicting connections", updated.Name)
		m.evict(updated.Name)
		if old.ManagedContainer() {
			m.stopContainer(ctx, updated.Name)
		}
	}
	m.activate(ctx, updated)
	m.index.Trigger()
}

// OnDelete unmounts the server, evicts its connections and stops its container.
func (m *Manager) OnDelete(ctx context.Context, deleted *gateway.ServerDescriptor) {
	m.retire(context.WithoutCancel(ctx), deleted.Name, deleted.ManagedContainer())
	if m.health != nil {
		m.health.Forget(deleted.Name)
	}
}

func (m *Manager) activate(ctx context.Context, desc *gateway.ServerDescriptor) {
	if desc.ManagedContainer() {
		cctx, cancel := context.WithTimeout(ctx, m.containerTimeout)
		handle, err := m.containers.Start(cctx, desc)
		cancel()
		if err != nil {
			logger.Errorf("Failed to start container for %s: %v", desc.Name, err)
		} else {
			logger.Infof("Container %s running for %s", handle.Name, desc.Name)
		}
	}
	m.router.Mount(desc.Name)
}

// retire unmounts first so no new request can acquire a connection, then
// evicts what is left.
func (m *Manager) retire(ctx context.Context, name string, managed bool) {
	if err := m.router.Unmount(ctx, name); err != nil {
		logger.Warnf("Unmounting %s: %v", name, err)
	}
	m.evict(name)
	if managed {
		m.stopContainer(ctx, name)
	}
	m.index.Trigger()
}

func (m *Manager) evict(name string) {
	res, err := m.pool.Evict(name, "")
	if err != nil {
		logger.Warnf("Evicting connections of %s: %v", name, err)
		return
	}
	if res.Evicted > 0 || res.Deferred > 0 {
		logger.Debugw("evicted connections", "server", name, "evicted", res.Evicted, "deferred", res.Deferred)
	}
}

func (m *Manager) stopContainer(ctx context.Context, name string) {
	cctx, cancel := context.WithTimeout(ctx, m.containerTimeout)
	defer cancel()
	if err := m.containers.Stop(cctx, name); err != nil {
		logger.Errorf("Failed to stop container for %s: %v", name, err)
	}
}

// connectionChanged reports whether old and updated reach the upstream
// differently. Changes to roles or description do not count.
func connectionChanged(old, updated *gateway.ServerDescriptor) bool {
	return old.Transport != updated.Transport ||
		old.URL != updated.URL ||
		old.Command != updated.Command ||
		!slices.Equal(old.Args, updated.Args) ||
		!maps.Equal(old.Env, updated.Env) ||
		old.DockerImage != updated.DockerImage ||
		!maps.Equal(old.DockerPorts, updated.DockerPorts)
}
