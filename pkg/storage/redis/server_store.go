// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package redis implements storage.ServerStore on Redis so several gateway
// replicas can share one set of server descriptors.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/stacklok/mcpgw/pkg/gateway"
	"github.com/stacklok/mcpgw/pkg/storage"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

// defaultHashTag is used when no KeyPrefix is configured; an empty "{}" is
// not a hash tag to Redis.
const defaultHashTag = "mcpgw"

// maxWatchRetries bounds optimistic retries when another writer touches the
// same descriptor between WATCH and EXEC.
const maxWatchRetries = 5

// Config holds Redis connection configuration.
type Config struct {
	// Addrs is one address for a standalone server, or several for a cluster.
	// All keys of one store share a hash tag, so transactions stay in one slot.
	Addrs    []string
	Username string
	Password string
	DB       int

	// KeyPrefix namespaces all keys, e.g. "mcpgw:prod:". It becomes the hash
	// tag of every key: "{mcpgw:prod:}server:<name>".
	KeyPrefix string

	// Timeouts (defaults: Dial=5s, Read=3s, Write=3s).
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// ServerStore implements storage.ServerStore with a Redis backend.
type ServerStore struct {
	client    goredis.UniversalClient
	keyPrefix string
	now       func() time.Time
}

var _ storage.ServerStore = (*ServerStore)(nil)

// NewServerStore connects to Redis and returns a store on it.
func NewServerStore(ctx context.Context, cfg Config) (*ServerStore, error) {
	if len(cfg.Addrs) == 0 {
		return nil, errors.New("at least one redis address is required")
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	client := goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs:        cfg.Addrs,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewServerStoreWithClient(client, cfg.KeyPrefix), nil
}

// NewServerStoreWithClient creates a ServerStore with a pre-configured client.
// This is useful for testing with miniredis.
func NewServerStoreWithClient(client goredis.UniversalClient, keyPrefix string) *ServerStore {
	if keyPrefix == "" {
		keyPrefix = defaultHashTag
	}
	return &ServerStore{client: client, keyPrefix: "{" + keyPrefix + "}", now: time.Now}
}

func (s *ServerStore) serverKey(name string) string {
	return s.keyPrefix + "server:" + name
}

func (s *ServerStore) indexKey() string {
	return s.keyPrefix + "servers"
}

// Get retrieves a descriptor by name.
func (s *ServerStore) Get(ctx context.Context, name string) (*gateway.ServerDescriptor, error) {
	data, err := s.client.Get(ctx, s.serverKey(name)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("server %q: %w", name, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading server: %w", err)
	}
	return decode(data)
}

// Create stores a new descriptor. The existence check and the write happen
// under WATCH, so of two concurrent creators exactly one succeeds.
func (s *ServerStore) Create(ctx context.Context, desc *gateway.ServerDescriptor) (*gateway.ServerDescriptor, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	key := s.serverKey(desc.Name)
	var stored *gateway.ServerDescriptor

	txf := func(tx *goredis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("server %q: %w", desc.Name, storage.ErrAlreadyExists)
		}

		stored = desc.Clone()
		now := s.now().UTC()
		stored.CreatedAt = now
		stored.UpdatedAt = now
		payload, err := json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("encoding server: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			pipe.SAdd(ctx, s.indexKey(), desc.Name)
			return nil
		})
		return err
	}

	if err := s.watch(ctx, txf, key); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, err
		}
		return nil, fmt.Errorf("creating server %q: %w", desc.Name, err)
	}
	return stored.Clone(), nil
}

// Upsert creates or replaces a descriptor. The read of the previous value
// and the write happen under WATCH so concurrent writers of the same name
// never lose the original creator.
func (s *ServerStore) Upsert(ctx context.Context, desc *gateway.ServerDescriptor) (*gateway.ServerDescriptor, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	key := s.serverKey(desc.Name)
	var stored *gateway.ServerDescriptor

	txf := func(tx *goredis.Tx) error {
		stored = desc.Clone()
		now := s.now().UTC()
		stored.UpdatedAt = now
		stored.CreatedAt = now

		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, goredis.Nil):
		case err != nil:
			return err
		default:
			existing, err := decode(data)
			if err != nil {
				return err
			}
			stored.CreatorID = existing.CreatorID
			stored.CreatedAt = existing.CreatedAt
		}

		payload, err := json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("encoding server: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			pipe.SAdd(ctx, s.indexKey(), desc.Name)
			return nil
		})
		return err
	}

	if err := s.watch(ctx, txf, key); err != nil {
		return nil, fmt.Errorf("upserting server %q: %w", desc.Name, err)
	}
	return stored.Clone(), nil
}

// List returns the descriptors matching filter sorted by name.
func (s *ServerStore) List(ctx context.Context, filter storage.ListFilter) ([]*gateway.ServerDescriptor, error) {
	names, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("listing servers: %w", err)
	}
	result := []*gateway.ServerDescriptor{}
	if len(names) == 0 {
		return result, nil
	}

	keys := make([]string, len(names))
	for i, n := range names {
		keys[i] = s.serverKey(n)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("reading servers: %w", err)
	}

	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			// removed between SMEMBERS and MGET
			continue
		}
		desc, err := decode([]byte(raw))
		if err != nil {
			return nil, err
		}
		if filter.Matches(desc) {
			result = append(result, desc)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// Delete removes a descriptor.
func (s *ServerStore) Delete(ctx context.Context, name string) error {
	key := s.serverKey(name)

	txf := func(tx *goredis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("server %q: %w", name, storage.ErrNotFound)
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.SRem(ctx, s.indexKey(), name)
			return nil
		})
		return err
	}

	if err := s.watch(ctx, txf, key); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return err
		}
		return fmt.Errorf("deleting server %q: %w", name, err)
	}
	return nil
}

// Close closes the Redis client.
func (s *ServerStore) Close() error {
	return s.client.Close()
}

func (s *ServerStore) watch(ctx context.Context, txf func(*goredis.Tx) error, key string) error {
	for range maxWatchRetries {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		return err
	}
	return storage.ErrConflict
}

func decode(data []byte) (*gateway.ServerDescriptor, error) {
	var desc gateway.ServerDescriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("decoding server: %w", err)
	}
	return &desc, nil
}
