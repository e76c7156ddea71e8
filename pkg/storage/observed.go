// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/stacklok/mcpgw/pkg/gateway"
)

// ObservedStore decorates a ServerStore and notifies hooks after each
// successful mutation. Hooks run synchronously, in registration order, on
// the caller's goroutine.
//
// Mutations of one name are serialized from the read of the previous value
// through the last hook, so hooks observe changes of a name in the order
// they were written. Mutations of different names run concurrently.
type ObservedStore struct {
	ServerStore
	hooks []Hook
	locks namedLocks
}

var _ ServerStore = (*ObservedStore)(nil)

// NewObservedStore wraps inner so that hooks observe every upsert and delete.
func NewObservedStore(inner ServerStore, hooks ...Hook) *ObservedStore {
	return &ObservedStore{ServerStore: inner, hooks: hooks}
}

// AddHook registers another hook. It must be called during startup, before
// the store is shared with request handlers.
func (s *ObservedStore) AddHook(h Hook) {
	s.hooks = append(s.hooks, h)
}

// Create stores a new descriptor and notifies hooks with a nil previous value.
func (s *ObservedStore) Create(ctx context.Context, desc *gateway.ServerDescriptor) (*gateway.ServerDescriptor, error) {
	unlock := s.locks.lock(desc.Name)
	defer unlock()

	stored, err := s.ServerStore.Create(ctx, desc)
	if err != nil {
		return nil, err
	}

	for _, h := range s.hooks {
		h.OnUpsert(ctx, nil, stored.Clone())
	}
	return stored, nil
}

// Upsert stores desc and notifies hooks with the previous and new descriptor.
func (s *ObservedStore) Upsert(ctx context.Context, desc *gateway.ServerDescriptor) (*gateway.ServerDescriptor, error) {
	unlock := s.locks.lock(desc.Name)
	defer unlock()

	old, err := s.ServerStore.Get(ctx, desc.Name)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	stored, err := s.ServerStore.Upsert(ctx, desc)
	if err != nil {
		return nil, err
	}

	for _, h := range s.hooks {
		h.OnUpsert(ctx, old, stored.Clone())
	}
	return stored, nil
}

// Delete removes the descriptor and notifies hooks with its last state.
func (s *ObservedStore) Delete(ctx context.Context, name string) error {
	unlock := s.locks.lock(name)
	defer unlock()

	old, err := s.ServerStore.Get(ctx, name)
	if err != nil {
		return err
	}

	if err := s.ServerStore.Delete(ctx, name); err != nil {
		return err
	}

	for _, h := range s.hooks {
		h.OnDelete(ctx, old.Clone())
	}
	return nil
}

// namedLocks hands out one mutex per name. Entries are dropped when the
// last holder or waiter releases them.
type namedLocks struct {
	mu    sync.Mutex
	locks map[string]*namedLock
}

type namedLock struct {
	mu   sync.Mutex
	refs int
}

func (n *namedLocks) lock(name string) (unlock func()) {
	n.mu.Lock()
	if n.locks == nil {
		n.locks = make(map[string]*namedLock)
	}
	l, ok := n.locks[name]
	if !ok {
		l = &namedLock{}
		n.locks[name] = l
	}
	l.refs++
	n.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		n.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(n.locks, name)
		}
		n.mu.Unlock()
	}
}
