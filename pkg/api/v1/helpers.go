// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/stacklok/toolhive-core/httperr"

	"github.com/stacklok/mcpgw/pkg/auth"
	"github.com/stacklok/mcpgw/pkg/gateway"
	"github.com/stacklok/mcpgw/pkg/logger"
	"github.com/stacklok/mcpgw/pkg/storage"
)

// maxRequestBody bounds JSON request bodies.
const maxRequestBody = 1 << 20

var (
	errUnauthenticated = httperr.WithCode(errors.New("authentication required"), http.StatusUnauthorized)
	errServerExists    = httperr.WithCode(errors.New("server already exists"), http.StatusConflict)
	errBodyTooLarge    = httperr.WithCode(errors.New("request body too large"), http.StatusRequestEntityTooLarge)
)

func callerFrom(r *http.Request) (*auth.Identity, error) {
	caller, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return nil, errUnauthenticated
	}
	return caller, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errBodyTooLarge
		}
		return httperr.WithCode(fmt.Errorf("invalid request body: %w", err), http.StatusBadRequest)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorf("Failed to encode response: %v", err)
	}
}

// loadAuthorized fetches a descriptor and checks that caller may perform op on
// it. Callers who cannot read the descriptor get the same not found error as
// for a missing name.
func loadAuthorized(
	ctx context.Context,
	store storage.ServerStore,
	name string,
	caller *auth.Identity,
	op gateway.Operation,
) (*gateway.ServerDescriptor, error) {
	desc, err := store.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if !gateway.CanAccess(desc, caller, gateway.OpRead) {
		return nil, fmt.Errorf("server %q: %w", name, storage.ErrNotFound)
	}
	if !gateway.CanAccess(desc, caller, op) {
		return nil, fmt.Errorf("%s on server %s: %w", op, name, gateway.ErrPermissionDenied)
	}
	return desc, nil
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := auth.IdentityFromContext(r.Context())
		if !ok {
			http.Error(w, errUnauthenticated.Error(), http.StatusUnauthorized)
			return
		}
		if !caller.IsAdmin() {
			http.Error(w, "admin role required", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
