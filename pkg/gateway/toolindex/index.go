// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package toolindex keeps a searchable snapshot of the tools advertised by
// every mounted upstream server.
//
// A rebuild lists all servers and swaps in a complete new snapshot, so
// readers never observe a partially rebuilt index.
package toolindex

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/stacklok/mcpgw/pkg/gateway"
	"github.com/stacklok/mcpgw/pkg/gateway/pool"
	"github.com/stacklok/mcpgw/pkg/logger"
)

// Defaults for Config.
const (
	DefaultRebuildTimeout = 30 * time.Second
	DefaultConcurrency    = 8
)

// Pool is the part of the connection pool used to list tools.
type Pool interface {
	Acquire(ctx context.Context, serverName string) (*pool.Connection, error)
	Release(conn *pool.Connection)
	Evict(serverName, connectionID string) (pool.EvictResult, error)
}

// Mounts returns the names of the servers to index.
type Mounts interface {
	Mounts() []string
}

// Entry is one indexed tool.
type Entry struct {
	Server      string   `json:"server"`
	Tool        string   `json:"tool"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
}

// RebuildReport describes one rebuild.
type RebuildReport struct {
	Servers int       `json:"servers"`
	Tools   int       `json:"tools"`
	BuiltAt time.Time `json:"built_at"`
	// Failed maps servers that could not be listed to the reason. They are
	// left out of the snapshot.
	Failed map[string]string `json:"failed,omitempty"`
}

// Config tunes rebuilds.
type Config struct {
	// RebuildTimeout bounds background rebuilds started by Trigger.
	RebuildTimeout time.Duration
	// Concurrency is the number of servers listed at once.
	Concurrency int
}

type snapshot struct {
	entries []Entry
	report  RebuildReport
}

// Index is the tool index.
type Index struct {
	pool   Pool
	mounts Mounts
	cfg    Config

	current atomic.Pointer[snapshot]
	group   singleflight.Group

	// requested counts Trigger calls; built is the highest request count
	// covered by a finished rebuild.
	requested atomic.Uint64
	built     atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an empty index.
func New(p Pool, mounts Mounts, cfg Config) *Index {
	if cfg.RebuildTimeout <= 0 {
		cfg.RebuildTimeout = DefaultRebuildTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	ctx, cancel := context.WithCancel(context.Background())
	x := &Index{pool: p, mounts: mounts, cfg: cfg, ctx: ctx, cancel: cancel}
	x.current.Store(&snapshot{})
	return x
}

// Rebuild lists the tools of every mounted server and replaces the
// snapshot. Concurrent calls share one rebuild.
func (x *Index) Rebuild(ctx context.Context) (RebuildReport, error) {
	ch := x.group.DoChan("rebuild", func() (any, error) {
		// The shared rebuild must not die with the first caller's context.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), x.cfg.RebuildTimeout)
		defer cancel()
		return x.rebuild(rctx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return RebuildReport{}, res.Err
		}
		return res.Val.(RebuildReport), nil
	case <-ctx.Done():
		return RebuildReport{}, ctx.Err()
	}
}

func (x *Index) rebuild(ctx context.Context) (RebuildReport, error) {
	generation := x.requested.Load()
	names := x.mounts.Mounts()

	results := make([][]Entry, len(names))
	failures := make([]error, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.cfg.Concurrency)
	for i, name := range names {
		g.Go(func() error {
			results[i], failures[i] = x.listServer(gctx, name)
			return nil
		})
	}
	_ = g.Wait()

	report := RebuildReport{BuiltAt: time.Now()}
	var entries []Entry
	for i, name := range names {
		if failures[i] != nil {
			if report.Failed == nil {
				report.Failed = make(map[string]string)
			}
			report.Failed[name] = failures[i].Error()
			logger.Warnf("Failed to list tools of %s: %v", name, failures[i])
			continue
		}
		report.Servers++
		entries = append(entries, results[i]...)
	}
	sort.Slice(entries, func(i, j int) bool { return entryLess(&entries[i], &entries[j]) })
	report.Tools = len(entries)

	x.current.Store(&snapshot{entries: entries, report: report})
	for {
		built := x.built.Load()
		if built >= generation || x.built.CompareAndSwap(built, generation) {
			break
		}
	}

	logger.Debugw("tool index rebuilt", "servers", report.Servers, "tools", report.Tools,
		"failed", len(report.Failed))
	return report, nil
}

func (x *Index) listServer(ctx context.Context, name string) (entries []Entry, err error) {
	conn, err := x.pool.Acquire(ctx, name)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_, _ = x.pool.Evict(name, conn.ID())
		}
		x.pool.Release(conn)
	}()

	tools, err := conn.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing tools: %w", err)
	}
	entries = make([]Entry, 0, len(tools))
	for _, t := range tools {
		entries = append(entries, newEntry(name, t))
	}
	return entries, nil
}

// Trigger schedules a background rebuild. Triggers that arrive during a
// running rebuild cause one more rebuild once it finishes.
func (x *Index) Trigger() {
	x.requested.Add(1)
	x.wg.Add(1)
	go func() {
		defer x.wg.Done()
		for x.built.Load() < x.requested.Load() {
			if _, err := x.Rebuild(x.ctx); err != nil {
				if !errors.Is(err, context.Canceled) {
					logger.Warnf("Tool index rebuild failed: %v", err)
				}
				return
			}
		}
	}()
}

// Close stops background rebuilds and waits for them to return.
func (x *Index) Close() {
	x.cancel()
	x.wg.Wait()
}

// List returns every entry ordered by server then tool.
func (x *Index) List() []Entry {
	snap := x.current.Load()
	out := make([]Entry, len(snap.entries))
	for i := range snap.entries {
		out[i] = snap.entries[i].clone()
	}
	return out
}

// Count returns the number of indexed tools.
func (x *Index) Count() int {
	return len(x.current.Load().entries)
}

// LastRebuild returns the report of the snapshot currently served.
func (x *Index) LastRebuild() RebuildReport {
	return x.current.Load().report
}

func (e *Entry) clone() Entry {
	c := *e
	c.Keywords = slices.Clone(e.Keywords)
	return c
}

func entryLess(a, b *Entry) bool {
	if a.Server != b.Server {
		return a.Server < b.Server
	}
	return a.Tool < b.Tool
}

func newEntry(server string, t gateway.Tool) Entry {
	return Entry{
		Server:      server,
		Tool:        t.Name,
		Title:       t.Title,
		Description: t.Description,
		Keywords:    keywords(t.Name, t.Title),
	}
}
