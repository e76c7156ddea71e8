// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package redis

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/mcpgw/pkg/storage"
	"github.com/stacklok/mcpgw/pkg/storage/storetest"
)

func newTestStore(t *testing.T) (*ServerStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewServerStoreWithClient(client, "mcpgw:test:"), mr
}

func TestServerStore(t *testing.T) {
	t.Parallel()
	storetest.Run(t, func(t *testing.T) storage.ServerStore {
		s, _ := newTestStore(t)
		return s
	})
}

func TestServerStore_KeyLayout(t *testing.T) {
	t.Parallel()
	s, mr := newTestStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, storetest.HTTPServer("search", "alice"))
	require.NoError(t, err)

	assert.True(t, mr.Exists("{mcpgw:test:}server:search"))
	members, err := mr.Members("{mcpgw:test:}servers")
	require.NoError(t, err)
	assert.Equal(t, []string{"search"}, members)

	require.NoError(t, s.Delete(ctx, "search"))
	assert.False(t, mr.Exists("{mcpgw:test:}server:search"))
}

func TestServerStore_KeysShareOneClusterSlot(t *testing.T) {
	t.Parallel()

	for _, prefix := range []string{"mcpgw:test:", ""} {
		s := NewServerStoreWithClient(nil, prefix)
		tag := hashTag(s.indexKey())
		require.NotEmpty(t, tag)
		for _, name := range []string{"search", "fs", "a.b-c"} {
			assert.Equal(t, tag, hashTag(s.serverKey(name)))
		}
	}
}

// hashTag returns the part of key Redis Cluster hashes, or "" when key has
// no hash tag.
func hashTag(key string) string {
	start := strings.IndexByte(key, '{')
	if start < 0 {
		return ""
	}
	end := strings.IndexByte(key[start+1:], '}')
	if end <= 0 {
		return ""
	}
	return key[start+1 : start+1+end]
}

func TestServerStore_ListSkipsDanglingIndexEntries(t *testing.T) {
	t.Parallel()
	s, mr := newTestStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, storetest.HTTPServer("search", "alice"))
	require.NoError(t, err)
	_, err = mr.SAdd("{mcpgw:test:}servers", "ghost")
	require.NoError(t, err)

	all, err := s.List(ctx, storage.ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "search", all[0].Name)
}

func TestServerStore_ConcurrentReplaceKeepsCreator(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, storetest.HTTPServer("search", "alice"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Upsert(ctx, storetest.HTTPServer("search", "mallory"))
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, "search")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.CreatorID)
}

func TestNewServerStore(t *testing.T) {
	t.Parallel()

	_, err := NewServerStore(context.Background(), Config{})
	require.Error(t, err)

	mr := miniredis.RunT(t)
	s, err := NewServerStore(context.Background(), Config{Addrs: []string{mr.Addr()}, KeyPrefix: "p:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
}
