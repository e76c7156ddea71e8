// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"encoding/json"
	"fmt"
	"slices"
)

// AdminRole grants read and write access to every server descriptor and to
// the pool administration endpoints.
const AdminRole = "mcp.admin"

// Identity is the authenticated caller as seen by the gateway.
type Identity struct {
	// Subject is the unique identifier for the principal (from 'sub' claim).
	Subject string

	// Name is the human-readable name (from 'name' claim).
	Name string

	// Roles are the role names granted to the principal (from 'roles' claim).
	Roles []string

	// Token is the original bearer token. It never leaves the gateway and is
	// redacted in String() and MarshalJSON().
	Token string
}

// HasRole reports whether the identity holds role.
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	return slices.Contains(i.Roles, role)
}

// IsAdmin reports whether the identity holds [AdminRole].
func (i *Identity) IsAdmin() bool {
	return i.HasRole(AdminRole)
}

// String returns a string representation of the Identity with sensitive fields redacted.
func (i *Identity) String() string {
	if i == nil {
		return "<nil>"
	}

	return fmt.Sprintf("Identity{Subject:%q}", i.Subject)
}

// MarshalJSON implements json.Marshaler to redact the token during JSON serialization.
func (i *Identity) MarshalJSON() ([]byte, error) {
	if i == nil {
		return []byte("null"), nil
	}

	type safeIdentity struct {
		Subject string   `json:"subject"`
		Name    string   `json:"name"`
		Roles   []string `json:"roles"`
		Token   string   `json:"token,omitempty"`
	}

	token := i.Token
	if token != "" {
		token = "REDACTED"
	}

	return json.Marshal(&safeIdentity{
		Subject: i.Subject,
		Name:    i.Name,
		Roles:   i.Roles,
		Token:   token,
	})
}
