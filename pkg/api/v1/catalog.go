// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/stacklok/mcpgw/pkg/api/errors"
	"github.com/stacklok/mcpgw/pkg/auth"
	"github.com/stacklok/mcpgw/pkg/gateway"
	"github.com/stacklok/mcpgw/pkg/gateway/catalog"
	"github.com/stacklok/mcpgw/pkg/storage"
)

// CatalogRoutes defines the catalog import routes.
type CatalogRoutes struct {
	store storage.ServerStore
}

// CatalogRouter creates the catalog import routes.
func CatalogRouter(store storage.ServerStore) http.Handler {
	routes := &CatalogRoutes{store: store}

	r := chi.NewRouter()
	r.Post("/import", apierrors.ErrorHandler(routes.importCatalog))
	return r
}

type catalogImportResponse struct {
	Entries []catalog.Entry  `json:"entries"`
	Results []catalog.Result `json:"results,omitempty"`
}

// importCatalog parses a YAML catalog. With ?install=true every entry is
// written as a disabled descriptor owned by the caller.
func (c *CatalogRoutes) importCatalog(w http.ResponseWriter, r *http.Request) error {
	caller, err := callerFrom(r)
	if err != nil {
		return err
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, catalog.MaxCatalogSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errBodyTooLarge
		}
		return fmt.Errorf("reading catalog: %w", err)
	}
	entries, err := catalog.Parse(body)
	if err != nil {
		return err
	}

	resp := catalogImportResponse{Entries: entries}
	if r.URL.Query().Get("install") == "true" {
		resp.Results = catalog.Install(r.Context(), &ownedStore{store: c.store, caller: caller}, entries, caller.Subject)
	}
	writeJSON(w, http.StatusOK, resp)
	return nil
}

// ownedStore refuses to overwrite descriptors the caller may not write.
type ownedStore struct {
	store  storage.ServerStore
	caller *auth.Identity
}

func (o *ownedStore) Upsert(ctx context.Context, desc *gateway.ServerDescriptor) (*gateway.ServerDescriptor, error) {
	stored, err := o.store.Create(ctx, desc)
	if !errors.Is(err, storage.ErrAlreadyExists) {
		return stored, err
	}

	existing, err := o.store.Get(ctx, desc.Name)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, err
	case !gateway.CanAccess(existing, o.caller, gateway.OpWrite):
		return nil, fmt.Errorf("overwrite %s: %w", desc.Name, gateway.ErrPermissionDenied)
	}
	return o.store.Upsert(ctx, desc)
}
