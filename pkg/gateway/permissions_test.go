// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stacklok/mcpgw/pkg/auth"
)

func TestCanAccess(t *testing.T) {
	t.Parallel()

	restricted := &ServerDescriptor{Name: "search", CreatorID: "alice", RequiredRoles: []string{"r"}}
	open := &ServerDescriptor{Name: "public", CreatorID: "alice"}

	alice := &auth.Identity{Subject: "alice"}
	bob := &auth.Identity{Subject: "bob"}
	bobWithRole := &auth.Identity{Subject: "bob", Roles: []string{"other", "r"}}
	admin := &auth.Identity{Subject: "carol", Roles: []string{auth.AdminRole}}
	noSubject := &auth.Identity{Roles: []string{"r"}}

	tests := []struct {
		name   string
		desc   *ServerDescriptor
		caller *auth.Identity
		op     Operation
		want   bool
	}{
		{"creator reads without roles", restricted, alice, OpRead, true},
		{"creator writes", restricted, alice, OpWrite, true},
		{"stranger cannot read restricted", restricted, bob, OpRead, false},
		{"role holder reads restricted", restricted, bobWithRole, OpRead, true},
		{"role holder cannot write", restricted, bobWithRole, OpWrite, false},
		{"admin reads", restricted, admin, OpRead, true},
		{"admin writes", restricted, admin, OpWrite, true},
		{"anyone reads unrestricted", open, bob, OpRead, true},
		{"stranger cannot write unrestricted", open, bob, OpWrite, false},
		{"empty subject never matches empty creator", &ServerDescriptor{Name: "x", RequiredRoles: []string{"z"}}, &auth.Identity{}, OpWrite, false},
		{"role only identity reads", restricted, noSubject, OpRead, true},
		{"nil caller", open, nil, OpRead, false},
		{"nil descriptor", nil, admin, OpRead, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, CanAccess(tt.desc, tt.caller, tt.op))
		})
	}
}
