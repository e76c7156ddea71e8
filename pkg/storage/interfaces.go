// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package storage provides the resource store for upstream server descriptors.
//
// Backends (in-memory, sqlite, redis) are interchangeable behind [ServerStore].
// Authorization is not part of the store: callers use gateway.CanAccess, which
// is independent of the backend.
package storage

import (
	"context"

	"github.com/stacklok/mcpgw/pkg/gateway"
)

//go:generate mockgen -destination=mocks/mock_server_store.go -package=mocks -source=interfaces.go ServerStore,Hook

// ServerStore defines the interface for managing server descriptor persistence.
type ServerStore interface {
	// Get retrieves a descriptor by name. Missing descriptors return an error wrapping ErrNotFound.
	Get(ctx context.Context, name string) (*gateway.ServerDescriptor, error)
	// Create validates desc and stores it only if no descriptor with the same name exists.
	// An existing descriptor is left untouched and an error wrapping ErrAlreadyExists is returned.
	Create(ctx context.Context, desc *gateway.ServerDescriptor) (*gateway.ServerDescriptor, error)
	// Upsert validates desc and creates or replaces the descriptor with the same name.
	// On replace the original CreatorID and CreatedAt are kept. The stored copy is returned.
	Upsert(ctx context.Context, desc *gateway.ServerDescriptor) (*gateway.ServerDescriptor, error)
	// List returns all descriptors matching the filter, sorted by name.
	List(ctx context.Context, filter ListFilter) ([]*gateway.ServerDescriptor, error)
	// Delete removes a descriptor by name. Missing descriptors return an error wrapping ErrNotFound.
	Delete(ctx context.Context, name string) error
	// Close releases any resources held by the store.
	Close() error
}

// ListFilter configures filtering for List operations.
type ListFilter struct {
	// EnabledOnly drops disabled descriptors.
	EnabledOnly bool
	// Match is an optional extra predicate.
	Match func(*gateway.ServerDescriptor) bool
}

// Matches reports whether desc passes the filter.
func (f ListFilter) Matches(desc *gateway.ServerDescriptor) bool {
	if f.EnabledOnly && !desc.Enabled {
		return false
	}
	if f.Match != nil && !f.Match(desc) {
		return false
	}
	return true
}

// Hook receives synchronous notifications after successful store mutations.
type Hook interface {
	// OnUpsert is called after a descriptor was created (old == nil) or replaced.
	OnUpsert(ctx context.Context, old, updated *gateway.ServerDescriptor)
	// OnDelete is called after a descriptor was removed.
	OnDelete(ctx context.Context, deleted *gateway.ServerDescriptor)
}
