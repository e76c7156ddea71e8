// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/mcpgw/pkg/gateway"
	"github.com/stacklok/mcpgw/pkg/logger"
	"github.com/stacklok/mcpgw/pkg/storage"
)

// healthProbeName is looked up to check the store answers; it never exists.
const healthProbeName = "_healthcheck"

// ServerGetter is the part of the store the health route needs.
type ServerGetter interface {
	Get(ctx context.Context, name string) (*gateway.ServerDescriptor, error)
}

// HealthcheckRouter sets up the unauthenticated health route.
func HealthcheckRouter(store ServerGetter) http.Handler {
	routes := &healthcheckRoutes{store: store}
	r := chi.NewRouter()
	r.Get("/", routes.getHealthcheck)
	return r
}

type healthcheckRoutes struct {
	store ServerGetter
}

// getHealthcheck returns 204 while the resource store is reachable.
func (h *healthcheckRoutes) getHealthcheck(w http.ResponseWriter, r *http.Request) {
	if _, err := h.store.Get(r.Context(), healthProbeName); err != nil && !errors.Is(err, storage.ErrNotFound) {
		logger.Warnf("Health check failed: %v", err)
		http.Error(w, "resource store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
