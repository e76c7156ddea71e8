// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/stacklok/mcpgw/pkg/gateway"
)

// MemoryStore is an in-process ServerStore. Descriptors are deep-copied on
// the way in and out so callers never share state with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	servers map[string]*gateway.ServerDescriptor
	now     func() time.Time
}

var _ ServerStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		servers: make(map[string]*gateway.ServerDescriptor),
		now:     time.Now,
	}
}

// Get retrieves a descriptor by name.
func (s *MemoryStore) Get(_ context.Context, name string) (*gateway.ServerDescriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	desc, ok := s.servers[name]
	if !ok {
		return nil, fmt.Errorf("server %q: %w", name, ErrNotFound)
	}
	return desc.Clone(), nil
}

// Create stores a new descriptor.
func (s *MemoryStore) Create(_ context.Context, desc *gateway.ServerDescriptor) (*gateway.ServerDescriptor, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.servers[desc.Name]; ok {
		return nil, fmt.Errorf("server %q: %w", desc.Name, ErrAlreadyExists)
	}
	stored := desc.Clone()
	now := s.now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.servers[desc.Name] = stored

	return stored.Clone(), nil
}

// Upsert creates or replaces a descriptor.
func (s *MemoryStore) Upsert(_ context.Context, desc *gateway.ServerDescriptor) (*gateway.ServerDescriptor, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := desc.Clone()
	now := s.now().UTC()
	stored.UpdatedAt = now
	if existing, ok := s.servers[desc.Name]; ok {
		stored.CreatorID = existing.CreatorID
		stored.CreatedAt = existing.CreatedAt
	} else {
		stored.CreatedAt = now
	}
	s.servers[desc.Name] = stored

	return stored.Clone(), nil
}

// List returns the descriptors matching filter sorted by name.
func (s *MemoryStore) List(_ context.Context, filter ListFilter) ([]*gateway.ServerDescriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*gateway.ServerDescriptor, 0, len(s.servers))
	for _, desc := range s.servers {
		if filter.Matches(desc) {
			result = append(result, desc.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// Delete removes a descriptor.
func (s *MemoryStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.servers[name]; !ok {
		return fmt.Errorf("server %q: %w", name, ErrNotFound)
	}
	delete(s.servers, name)
	return nil
}

// Close is a no-op for the in-memory store.
func (*MemoryStore) Close() error { return nil }
