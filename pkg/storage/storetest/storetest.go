// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package storetest provides a conformance suite that every ServerStore
// backend must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/mcpgw/pkg/gateway"
	"github.com/stacklok/mcpgw/pkg/storage"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) storage.ServerStore

// HTTPServer returns a valid streamable HTTP descriptor.
func HTTPServer(name, creator string) *gateway.ServerDescriptor {
	return &gateway.ServerDescriptor{
		Name:          name,
		Transport:     gateway.TransportStreamableHTTP,
		URL:           "http://" + name + ".internal:8080/mcp",
		RequiredRoles: []string{"member"},
		CreatorID:     creator,
		Enabled:       true,
	}
}

// StdioServer returns a valid stdio descriptor.
func StdioServer(name, creator string) *gateway.ServerDescriptor {
	return &gateway.ServerDescriptor{
		Name:        name,
		Transport:   gateway.TransportStdio,
		Command:     "npx",
		Args:        []string{"-y", "@modelcontextprotocol/server-" + name},
		Env:         map[string]string{"LOG_LEVEL": "debug"},
		DockerImage: "mcp/" + name + ":latest",
		DockerPorts: map[string]int{"8080/tcp": 18080},
		CreatorID:   creator,
		Enabled:     true,
	}
}

// Run executes the conformance suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("get missing", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		_, err := s.Get(context.Background(), "nope")
		require.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("upsert then get round trips all fields", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		ctx := context.Background()

		want := StdioServer("filesystem", "alice")
		want.Description = "local files"
		want.RequiredRoles = []string{"ops", "member"}
		stored, err := s.Upsert(ctx, want)
		require.NoError(t, err)
		assert.False(t, stored.CreatedAt.IsZero())
		assert.False(t, stored.UpdatedAt.IsZero())

		got, err := s.Get(ctx, "filesystem")
		require.NoError(t, err)
		ignoreTimes := cmpopts.IgnoreFields(gateway.ServerDescriptor{}, "CreatedAt", "UpdatedAt")
		if diff := cmp.Diff(want, got, ignoreTimes); diff != "" {
			t.Errorf("stored descriptor mismatch (-want +got):\n%s", diff)
		}
		assert.WithinDuration(t, stored.CreatedAt, got.CreatedAt, time.Second)
	})

	t.Run("invalid descriptor is rejected without state change", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		ctx := context.Background()

		bad := HTTPServer("search", "alice")
		bad.URL = ""
		_, err := s.Upsert(ctx, bad)
		require.ErrorIs(t, err, gateway.ErrValidation)

		_, err = s.Get(ctx, "search")
		require.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("replace keeps creator and created_at", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		ctx := context.Background()

		first, err := s.Upsert(ctx, HTTPServer("search", "alice"))
		require.NoError(t, err)

		update := HTTPServer("search", "mallory")
		update.Enabled = false
		update.RequiredRoles = nil
		second, err := s.Upsert(ctx, update)
		require.NoError(t, err)

		assert.Equal(t, "alice", second.CreatorID)
		assert.WithinDuration(t, first.CreatedAt, second.CreatedAt, time.Second)
		assert.False(t, second.Enabled)

		got, err := s.Get(ctx, "search")
		require.NoError(t, err)
		assert.Equal(t, "alice", got.CreatorID)
		assert.False(t, got.Enabled)
		assert.Empty(t, got.RequiredRoles)
	})

	t.Run("create stores new descriptors only", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		ctx := context.Background()

		created, err := s.Create(ctx, HTTPServer("search", "alice"))
		require.NoError(t, err)
		assert.Equal(t, "alice", created.CreatorID)
		assert.False(t, created.CreatedAt.IsZero())

		intruder := HTTPServer("search", "eve")
		intruder.URL = "http://eve.example/mcp"
		_, err = s.Create(ctx, intruder)
		require.ErrorIs(t, err, storage.ErrAlreadyExists)

		got, err := s.Get(ctx, "search")
		require.NoError(t, err)
		assert.Equal(t, "alice", got.CreatorID)
		assert.Equal(t, "http://search.internal:8080/mcp", got.URL)

		bad := HTTPServer("broken", "alice")
		bad.URL = ""
		_, err = s.Create(ctx, bad)
		require.ErrorIs(t, err, gateway.ErrValidation)
	})

	t.Run("concurrent creates of one name have one winner", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		ctx := context.Background()

		const creators = 8
		var wg sync.WaitGroup
		errs := make(chan error, creators)
		for i := range creators {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Create(ctx, HTTPServer("search", fmt.Sprintf("user-%d", i)))
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)

		won := 0
		for err := range errs {
			if err == nil {
				won++
				continue
			}
			if !errors.Is(err, storage.ErrAlreadyExists) && !errors.Is(err, storage.ErrConflict) {
				t.Errorf("unexpected create error: %v", err)
			}
		}
		assert.Equal(t, 1, won)
	})

	t.Run("returned descriptors are copies", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		ctx := context.Background()

		_, err := s.Upsert(ctx, StdioServer("fs", "alice"))
		require.NoError(t, err)

		got, err := s.Get(ctx, "fs")
		require.NoError(t, err)
		got.Args[0] = "mutated"
		got.Env["LOG_LEVEL"] = "mutated"

		again, err := s.Get(ctx, "fs")
		require.NoError(t, err)
		assert.Equal(t, "-y", again.Args[0])
		assert.Equal(t, "debug", again.Env["LOG_LEVEL"])
	})

	t.Run("list filters and sorts", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		ctx := context.Background()

		for _, name := range []string{"charlie", "alpha", "bravo"} {
			_, err := s.Upsert(ctx, HTTPServer(name, "alice"))
			require.NoError(t, err)
		}
		disabled := HTTPServer("delta", "bob")
		disabled.Enabled = false
		_, err := s.Upsert(ctx, disabled)
		require.NoError(t, err)

		all, err := s.List(ctx, storage.ListFilter{})
		require.NoError(t, err)
		assert.Equal(t, []string{"alpha", "bravo", "charlie", "delta"}, names(all))

		enabled, err := s.List(ctx, storage.ListFilter{EnabledOnly: true})
		require.NoError(t, err)
		assert.Equal(t, []string{"alpha", "bravo", "charlie"}, names(enabled))

		byBob, err := s.List(ctx, storage.ListFilter{Match: func(d *gateway.ServerDescriptor) bool {
			return d.CreatorID == "bob"
		}})
		require.NoError(t, err)
		assert.Equal(t, []string{"delta"}, names(byBob))
	})

	t.Run("delete", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		ctx := context.Background()

		_, err := s.Upsert(ctx, HTTPServer("search", "alice"))
		require.NoError(t, err)
		require.NoError(t, s.Delete(ctx, "search"))

		_, err = s.Get(ctx, "search")
		require.ErrorIs(t, err, storage.ErrNotFound)
		require.ErrorIs(t, s.Delete(ctx, "search"), storage.ErrNotFound)
	})

	t.Run("concurrent upserts of distinct names", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		ctx := context.Background()

		var wg sync.WaitGroup
		errs := make(chan error, 16)
		for i := range 16 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Upsert(ctx, HTTPServer(fmt.Sprintf("server-%02d", i), "alice"))
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		all, err := s.List(ctx, storage.ListFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 16)
	})
}

func names(descs []*gateway.ServerDescriptor) []string {
	out := make([]string, 0, len(descs))
	for _, d := range descs {
		out = append(out, d.Name)
	}
	return out
}
