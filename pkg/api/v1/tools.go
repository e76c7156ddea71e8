// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/stacklok/mcpgw/pkg/api/errors"
	"github.com/stacklok/mcpgw/pkg/gateway"
	"github.com/stacklok/mcpgw/pkg/gateway/toolindex"
	"github.com/stacklok/mcpgw/pkg/storage"
)

// ToolsRoutes defines the tool search routes.
type ToolsRoutes struct {
	store storage.ServerStore
	index ToolIndex
}

// ToolsRouter creates the tool search routes.
func ToolsRouter(store storage.ServerStore, index ToolIndex) http.Handler {
	routes := &ToolsRoutes{store: store, index: index}

	r := chi.NewRouter()
	r.Get("/", apierrors.ErrorHandler(routes.searchTools))
	r.With(requireAdmin).Post("/rebuild", apierrors.ErrorHandler(routes.rebuild))
	return r
}

type toolSearchResponse struct {
	Tools   []toolindex.Entry `json:"tools"`
	BuiltAt time.Time         `json:"built_at,omitzero"`
}

// searchTools ranks indexed tools against ?q= and drops tools of servers
// the caller may not read.
func (t *ToolsRoutes) searchTools(w http.ResponseWriter, r *http.Request) error {
	caller, err := callerFrom(r)
	if err != nil {
		return err
	}

	hits := t.index.Search(r.URL.Query().Get("q"))
	allowed := make(map[string]bool)
	out := make([]toolindex.Entry, 0, len(hits))
	for _, e := range hits {
		ok, seen := allowed[e.Server]
		if !seen {
			desc, err := t.store.Get(r.Context(), e.Server)
			switch {
			case errors.Is(err, storage.ErrNotFound):
				// Deleted since the last rebuild.
			case err != nil:
				return err
			default:
				ok = desc.Enabled && gateway.CanAccess(desc, caller, gateway.OpRead)
			}
			allowed[e.Server] = ok
		}
		if ok {
			out = append(out, e)
		}
	}

	writeJSON(w, http.StatusOK, toolSearchResponse{Tools: out, BuiltAt: t.index.LastRebuild().BuiltAt})
	return nil
}

func (t *ToolsRoutes) rebuild(w http.ResponseWriter, r *http.Request) error {
	report, err := t.index.Rebuild(r.Context())
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, report)
	return nil
}
