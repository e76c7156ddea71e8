// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/stacklok/toolhive-core/httperr"

	apierrors "github.com/stacklok/mcpgw/pkg/api/errors"
	"github.com/stacklok/mcpgw/pkg/auth"
	"github.com/stacklok/mcpgw/pkg/container"
	"github.com/stacklok/mcpgw/pkg/gateway"
	"github.com/stacklok/mcpgw/pkg/gateway/health"
	"github.com/stacklok/mcpgw/pkg/storage"
)

const (
	defaultLogTail = 100
	maxLogTail     = 5000
	redacted       = "<redacted>"
)

// ServersRoutes defines the routes for server descriptor management.
type ServersRoutes struct {
	store      storage.ServerStore
	pool       PoolAdmin
	health     HealthChecker
	containers container.Manager
}

// ServersRouter creates the server management routes.
func ServersRouter(
	store storage.ServerStore,
	pool PoolAdmin,
	checker HealthChecker,
	containers container.Manager,
) http.Handler {
	routes := &ServersRoutes{store: store, pool: pool, health: checker, containers: containers}

	r := chi.NewRouter()
	r.Get("/", apierrors.ErrorHandler(routes.listServers))
	r.Post("/", apierrors.ErrorHandler(routes.createServer))
	r.Get("/{name}", apierrors.ErrorHandler(routes.getServer))
	r.Put("/{name}", apierrors.ErrorHandler(routes.updateServer))
	r.Delete("/{name}", apierrors.ErrorHandler(routes.deleteServer))
	r.Get("/{name}/status", apierrors.ErrorHandler(routes.getServerStatus))
	r.Get("/{name}/logs", apierrors.ErrorHandler(routes.getServerLogs))
	return r
}

type serverListResponse struct {
	Servers []*gateway.ServerDescriptor `json:"servers"`
}

type serverStatusResponse struct {
	Server         string              `json:"server"`
	Enabled        bool                `json:"enabled"`
	Health         health.ServerHealth `json:"health"`
	Connections    int                 `json:"connections"`
	Container      *container.Status   `json:"container,omitempty"`
	ContainerError string              `json:"container_error,omitempty"`
}

// listServers returns the descriptors the caller may read, sorted by name.
func (s *ServersRoutes) listServers(w http.ResponseWriter, r *http.Request) error {
	caller, err := callerFrom(r)
	if err != nil {
		return err
	}

	descs, err := s.store.List(r.Context(), storage.ListFilter{
		EnabledOnly: r.URL.Query().Get("enabled") == "true",
		Match: func(d *gateway.ServerDescriptor) bool {
			return gateway.CanAccess(d, caller, gateway.OpRead)
		},
	})
	if err != nil {
		return fmt.Errorf("listing servers: %w", err)
	}
	for i := range descs {
		descs[i] = redactFor(descs[i], caller)
	}
	writeJSON(w, http.StatusOK, serverListResponse{Servers: descs})
	return nil
}

// createServer registers a new descriptor owned by the caller.
func (s *ServersRoutes) createServer(w http.ResponseWriter, r *http.Request) error {
	caller, err := callerFrom(r)
	if err != nil {
		return err
	}

	var desc gateway.ServerDescriptor
	if err := decodeJSON(w, r, &desc); err != nil {
		return err
	}

	desc.CreatorID = caller.Subject
	stored, err := s.store.Create(r.Context(), &desc)
	if errors.Is(err, storage.ErrAlreadyExists) {
		return fmt.Errorf("%s: %w", desc.Name, errServerExists)
	}
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, stored)
	return nil
}

func (s *ServersRoutes) getServer(w http.ResponseWriter, r *http.Request) error {
	caller, err := callerFrom(r)
	if err != nil {
		return err
	}
	desc, err := loadAuthorized(r.Context(), s.store, chi.URLParam(r, "name"), caller, gateway.OpRead)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, redactFor(desc, caller))
	return nil
}

// updateServer replaces a descriptor. Ownership and creation time are kept
// by the store.
func (s *ServersRoutes) updateServer(w http.ResponseWriter, r *http.Request) error {
	caller, err := callerFrom(r)
	if err != nil {
		return err
	}
	name := chi.URLParam(r, "name")
	if _, err := loadAuthorized(r.Context(), s.store, name, caller, gateway.OpWrite); err != nil {
		return err
	}

	var desc gateway.ServerDescriptor
	if err := decodeJSON(w, r, &desc); err != nil {
		return err
	}
	if desc.Name == "" {
		desc.Name = name
	}
	if desc.Name != name {
		return fmt.Errorf("%w: body name %q does not match path %q", gateway.ErrValidation, desc.Name, name)
	}

	stored, err := s.store.Upsert(r.Context(), &desc)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, stored)
	return nil
}

func (s *ServersRoutes) deleteServer(w http.ResponseWriter, r *http.Request) error {
	caller, err := callerFrom(r)
	if err != nil {
		return err
	}
	name := chi.URLParam(r, "name")
	if _, err := loadAuthorized(r.Context(), s.store, name, caller, gateway.OpWrite); err != nil {
		return err
	}
	if err := s.store.Delete(r.Context(), name); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// getServerStatus combines tracked health, pool occupancy and, for managed
// containers, the container state.
func (s *ServersRoutes) getServerStatus(w http.ResponseWriter, r *http.Request) error {
	caller, err := callerFrom(r)
	if err != nil {
		return err
	}
	desc, err := loadAuthorized(r.Context(), s.store, chi.URLParam(r, "name"), caller, gateway.OpRead)
	if err != nil {
		return err
	}

	resp := serverStatusResponse{
		Server:      desc.Name,
		Enabled:     desc.Enabled,
		Health:      s.health.Status(desc.Name),
		Connections: s.pool.Count(desc.Name),
	}
	if desc.ManagedContainer() {
		st, err := s.containers.Status(r.Context(), desc.Name)
		if err != nil {
			resp.ContainerError = err.Error()
		} else {
			resp.Container = &st
		}
	}
	writeJSON(w, http.StatusOK, resp)
	return nil
}

// getServerLogs returns container output. It needs write access since logs
// may include configuration.
func (s *ServersRoutes) getServerLogs(w http.ResponseWriter, r *http.Request) error {
	caller, err := callerFrom(r)
	if err != nil {
		return err
	}
	desc, err := loadAuthorized(r.Context(), s.store, chi.URLParam(r, "name"), caller, gateway.OpWrite)
	if err != nil {
		return err
	}
	if !desc.ManagedContainer() {
		return fmt.Errorf("server %s does not run in a managed container: %w", desc.Name, container.ErrContainerNotFound)
	}

	tail := defaultLogTail
	if v := r.URL.Query().Get("tail"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxLogTail {
			return httperr.WithCode(
				fmt.Errorf("tail must be an integer between 1 and %d", maxLogTail), http.StatusBadRequest)
		}
		tail = n
	}

	logs, err := s.containers.Logs(r.Context(), desc.Name, tail)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(logs))
	return nil
}

// redactFor hides environment values from callers who may not edit the descriptor.
func redactFor(desc *gateway.ServerDescriptor, caller *auth.Identity) *gateway.ServerDescriptor {
	if len(desc.Env) == 0 || gateway.CanAccess(desc, caller, gateway.OpWrite) {
		return desc
	}
	out := desc.Clone()
	for k := range out.Env {
		out.Env[k] = redacted
	}
	return out
}
