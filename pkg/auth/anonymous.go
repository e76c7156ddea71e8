// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"net/http"
)

// AnonymousMiddleware creates an HTTP middleware that attaches a fixed
// anonymous identity with the given roles to every request.
//
// This is useful for local environments where the gateway runs without an
// authentication system in front of it. It is heavily discouraged in
// production settings.
func AnonymousMiddleware(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := &Identity{
				Subject: "anonymous",
				Name:    "Anonymous User",
				Roles:   append([]string(nil), roles...),
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}
