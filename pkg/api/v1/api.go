// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package v1 contains the admin REST API of the gateway.
package v1

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/mcpgw/pkg/container"
	"github.com/stacklok/mcpgw/pkg/gateway/health"
	"github.com/stacklok/mcpgw/pkg/gateway/pool"
	"github.com/stacklok/mcpgw/pkg/gateway/toolindex"
	"github.com/stacklok/mcpgw/pkg/storage"
)

// PoolAdmin is the part of the connection pool the API administers.
type PoolAdmin interface {
	Status() pool.Status
	Evict(serverName, connectionID string) (pool.EvictResult, error)
	Count(serverName string) int
}

// HealthChecker runs on-demand checks and reports tracked health.
type HealthChecker interface {
	CheckNow(ctx context.Context, serverName string) (health.Report, error)
	CheckAll(ctx context.Context) ([]health.Report, error)
	Status(serverName string) health.ServerHealth
}

// ToolIndex is the searchable tool index.
type ToolIndex interface {
	Search(keyword string) []toolindex.Entry
	Rebuild(ctx context.Context) (toolindex.RebuildReport, error)
	LastRebuild() toolindex.RebuildReport
}

// Deps are the collaborators of the admin API.
type Deps struct {
	Store  storage.ServerStore
	Pool   PoolAdmin
	Health HealthChecker
	Tools  ToolIndex
	// Containers may be nil when container management is disabled.
	Containers container.Manager
}

// Router mounts every v1 route. Callers must be authenticated by an
// upstream middleware.
func Router(d Deps) http.Handler {
	if d.Containers == nil {
		d.Containers = container.NoopManager{}
	}

	r := chi.NewRouter()
	r.Mount("/servers", ServersRouter(d.Store, d.Pool, d.Health, d.Containers))
	r.Mount("/pool", PoolRouter(d.Pool, d.Health))
	r.Mount("/tools", ToolsRouter(d.Store, d.Tools))
	r.Mount("/catalog", CatalogRouter(d.Store))
	r.Mount("/version", VersionRouter())
	return r
}
