// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"slices"

	"github.com/stacklok/mcpgw/pkg/auth"
)

// Operation is the kind of access being requested on a descriptor.
type Operation string

const (
	// OpRead covers viewing a descriptor and proxying requests to its server.
	OpRead Operation = "read"
	// OpWrite covers updating and deleting a descriptor.
	OpWrite Operation = "write"
)

// CanAccess decides whether the caller may perform op on desc. It depends only
// on its arguments, so every store backend shares it.
//
// The creator and holders of the admin role may do anything. Reads are also
// allowed when the descriptor has no required roles or the caller holds one
// of them.
func CanAccess(desc *ServerDescriptor, caller *auth.Identity, op Operation) bool {
	if desc == nil || caller == nil {
		return false
	}
	if caller.Subject != "" && caller.Subject == desc.CreatorID {
		return true
	}
	if caller.IsAdmin() {
		return true
	}
	if op != OpRead {
		return false
	}
	if len(desc.RequiredRoles) == 0 {
		return true
	}
	return slices.ContainsFunc(desc.RequiredRoles, caller.HasRole)
}
