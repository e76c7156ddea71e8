// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/stacklok/mcpgw/pkg/api/errors"
	"github.com/stacklok/mcpgw/pkg/gateway"
	"github.com/stacklok/mcpgw/pkg/gateway/health"
)

// PoolRoutes defines the pool administration routes. Every route requires
// the admin role.
type PoolRoutes struct {
	pool   PoolAdmin
	health HealthChecker
}

// PoolRouter creates the pool administration routes.
func PoolRouter(pool PoolAdmin, checker HealthChecker) http.Handler {
	routes := &PoolRoutes{pool: pool, health: checker}

	r := chi.NewRouter()
	r.Use(requireAdmin)
	r.Get("/", routes.getStatus)
	r.Post("/evict", apierrors.ErrorHandler(routes.evict))
	r.Post("/health-check", apierrors.ErrorHandler(routes.healthCheck))
	return r
}

type evictRequest struct {
	Server       string `json:"server"`
	ConnectionID string `json:"connection_id,omitempty"`
}

type healthCheckRequest struct {
	// Server limits the check to one server; empty checks every enabled server.
	Server string `json:"server,omitempty"`
}

type healthCheckResponse struct {
	Reports []health.Report `json:"reports"`
}

func (p *PoolRoutes) getStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, p.pool.Status())
}

// evict removes one connection, or every connection of a server when no
// connection ID is given. Busy connections are destroyed on release.
func (p *PoolRoutes) evict(w http.ResponseWriter, r *http.Request) error {
	var req evictRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}
	if req.Server == "" {
		return fmt.Errorf("%w: server is required", gateway.ErrValidation)
	}

	res, err := p.pool.Evict(req.Server, req.ConnectionID)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, res)
	return nil
}

func (p *PoolRoutes) healthCheck(w http.ResponseWriter, r *http.Request) error {
	var req healthCheckRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			return err
		}
	}

	if req.Server != "" {
		report, err := p.health.CheckNow(r.Context(), req.Server)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, healthCheckResponse{Reports: []health.Report{report}})
		return nil
	}

	reports, err := p.health.CheckAll(r.Context())
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, healthCheckResponse{Reports: reports})
	return nil
}
