// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package pool keeps a bounded set of long-lived upstream MCP sessions and
// hands them out to callers one at a time.
//
// All accounting (per-server connection sets, dialing reservations, the
// global count and waiters) lives behind a single mutex, so the cap check,
// idle scan and state change of an Acquire, Release or Evict form one atomic
// step. Network I/O (dial, probe, close) always happens outside the lock.
//
// When the global cap is reached, Acquire evicts the least recently used idle
// connection of any server. When nothing is idle it waits for a release until
// the acquire timeout and then fails with gateway.ErrPoolExhausted. Evicting a
// connection that is in use only marks it; it is destroyed on release.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"golang.org/x/sync/errgroup"

	"github.com/stacklok/mcpgw/pkg/gateway"
	"github.com/stacklok/mcpgw/pkg/logger"
)

// Default configuration values.
const (
	DefaultMaxConnections   = 20
	DefaultAcquireTimeout   = 10 * time.Second
	DefaultProbeTimeout     = 5 * time.Second
	DefaultProbeConcurrency = 8
)

// Config bounds the pool.
type Config struct {
	// MaxConnections caps live connections across all servers.
	MaxConnections int
	// MaxPerServer caps live connections of a single server. Defaults to MaxConnections.
	MaxPerServer int
	// AcquireTimeout bounds how long Acquire waits for a free slot.
	AcquireTimeout time.Duration
	// ProbeTimeout bounds a single health probe.
	ProbeTimeout time.Duration
	// ProbeConcurrency limits parallel probes in one health check.
	ProbeConcurrency int
}

func (c Config) withDefaults() Config {
	if c.MaxConnections <= 0 {
		c.MaxConnections = DefaultMaxConnections
	}
	if c.MaxPerServer <= 0 || c.MaxPerServer > c.MaxConnections {
		c.MaxPerServer = c.MaxConnections
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = DefaultAcquireTimeout
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
	if c.ProbeConcurrency <= 0 {
		c.ProbeConcurrency = DefaultProbeConcurrency
	}
	return c
}

// Option customizes a Pool.
type Option func(*Pool)

// WithLogger sets the logger used by the pool.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// WithMeterProvider records pool metrics on mp.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(p *Pool) { p.meterProvider = mp }
}

// WithClock replaces time.Now. Tests use it to control LRU ordering.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// Pool is a bounded connection pool keyed by server name.
type Pool struct {
	resolver      Resolver
	dialer        Dialer
	cfg           Config
	logger        *slog.Logger
	now           func() time.Time
	meterProvider metric.MeterProvider
	metrics       *metrics

	// closers tracks sessions being closed in the background.
	closers sync.WaitGroup

	mu      sync.Mutex
	servers map[string]*serverState
	total   int
	wake    chan struct{}
	closed  bool
}

type serverState struct {
	conns   map[string]*Connection
	dialing int
	waiters int
	// generation changes on a full evict so dials that were in flight at
	// that moment come back already marked for eviction.
	generation uint64
}

func (s *serverState) size() int {
	return len(s.conns) + s.dialing
}

// New creates a pool that resolves descriptors with resolver and opens
// sessions with dialer.
func New(resolver Resolver, dialer Dialer, cfg Config, opts ...Option) (*Pool, error) {
	p := &Pool{
		resolver:      resolver,
		dialer:        dialer,
		cfg:           cfg.withDefaults(),
		logger:        logger.Get(),
		now:           time.Now,
		meterProvider: noop.NewMeterProvider(),
		servers:       make(map[string]*serverState),
		wake:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	m, err := newMetrics(p.meterProvider, p)
	if err != nil {
		return nil, fmt.Errorf("creating pool metrics: %w", err)
	}
	p.metrics = m
	return p, nil
}

// Config returns the effective configuration.
func (p *Pool) Config() Config {
	return p.cfg
}

// Acquire returns a connection to serverName marked in use. The caller must
// hand it back with Release.
//
// Unknown or disabled servers fail with gateway.ErrUnknownServer before any
// network I/O. Dial failures fail with gateway.ErrUpstreamUnavailable and are
// not retried. If no slot frees up before the acquire timeout, Acquire fails
// with gateway.ErrPoolExhausted.
func (p *Pool) Acquire(ctx context.Context, serverName string) (*Connection, error) {
	start := p.now()

	desc, err := p.resolver.Get(ctx, serverName)
	if err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			p.metrics.acquired(ctx, serverName, outcomeUnknown, start)
			return nil, fmt.Errorf("%w: %s", gateway.ErrUnknownServer, serverName)
		}
		return nil, fmt.Errorf("resolving server %s: %w", serverName, err)
	}
	if !desc.Enabled {
		p.metrics.acquired(ctx, serverName, outcomeUnknown, start)
		return nil, fmt.Errorf("%w: %s is disabled", gateway.ErrUnknownServer, serverName)
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	defer cancel()

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, gateway.ErrPoolClosed
		}

		st := p.stateLocked(serverName)
		if conn := st.mostRecentIdle(); conn != nil {
			conn.inUse = true
			p.mu.Unlock()
			p.metrics.acquired(ctx, serverName, outcomeReused, start)
			return conn, nil
		}

		if st.size() < p.cfg.MaxPerServer {
			var victim *Connection
			if p.total >= p.cfg.MaxConnections {
				victim = p.lruIdleLocked()
			}
			if p.total < p.cfg.MaxConnections || victim != nil {
				if victim != nil {
					p.removeLocked(victim)
				}
				st.dialing++
				p.total++
				generation := st.generation
				p.mu.Unlock()

				if victim != nil {
					p.logger.Debug("evicting least recently used connection",
						"server", victim.serverName, "connection", victim.id, "for", serverName)
					p.closeAsync(ctx, victim, reasonLRU)
				}
				return p.dial(ctx, desc, st, generation, start)
			}
		}

		st.waiters++
		wake := p.wake
		p.mu.Unlock()

		select {
		case <-wake:
			p.mu.Lock()
			st.waiters--
			p.pruneLocked(serverName, st)
			p.mu.Unlock()
		case <-ctx.Done():
			p.mu.Lock()
			st.waiters--
			p.pruneLocked(serverName, st)
			p.mu.Unlock()
			p.metrics.acquired(ctx, serverName, outcomeExhausted, start)
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: no connection to %s became available", gateway.ErrPoolExhausted, serverName)
			}
			return nil, fmt.Errorf("acquiring connection to %s: %w", serverName, ctx.Err())
		}
	}
}

func (p *Pool) dial(
	ctx context.Context, desc *gateway.ServerDescriptor, st *serverState, generation uint64, start time.Time,
) (*Connection, error) {
	session, err := p.dialer.Dial(ctx, desc)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		if session != nil {
			_ = session.Close()
		}
		return nil, gateway.ErrPoolClosed
	}

	st.dialing--
	if err != nil {
		p.total--
		p.pruneLocked(desc.Name, st)
		p.broadcastLocked()
		p.mu.Unlock()
		p.metrics.acquired(ctx, desc.Name, outcomeDialFailed, start)
		return nil, fmt.Errorf("%w: %s: %w", gateway.ErrUpstreamUnavailable, desc.Name, err)
	}

	now := p.now()
	conn := &Connection{
		id:           uuid.NewString(),
		serverName:   desc.Name,
		session:      session,
		createdAt:    now,
		lastUsedAt:   now,
		inUse:        true,
		evictPending: generation != st.generation,
	}
	st.conns[conn.id] = conn
	p.mu.Unlock()

	p.logger.Debug("opened upstream connection", "server", desc.Name, "connection", conn.id)
	p.metrics.acquired(ctx, desc.Name, outcomeCreated, start)
	return conn, nil
}

// Release returns conn to the pool. Releasing a connection that is already
// idle or was removed is a no-op. A connection marked for eviction is
// destroyed here.
func (p *Pool) Release(conn *Connection) {
	if conn == nil {
		return
	}

	p.mu.Lock()
	if conn.removed || !conn.inUse {
		p.mu.Unlock()
		return
	}

	conn.inUse = false
	now := p.now()
	if !now.After(conn.lastUsedAt) {
		now = conn.lastUsedAt.Add(time.Nanosecond)
	}
	conn.lastUsedAt = now

	evict := conn.evictPending
	if evict {
		p.removeLocked(conn)
	}
	p.broadcastLocked()
	p.mu.Unlock()

	if evict {
		p.closeAsync(context.Background(), conn, reasonDeferred)
	}
}

// EvictResult reports what an Evict call did.
type EvictResult struct {
	// Evicted connections were idle and have been closed.
	Evicted int `json:"evicted"`
	// Deferred connections were busy; they are destroyed on release.
	Deferred int `json:"deferred"`
}

// Evict removes one connection (connectionID != "") or every connection of
// serverName. Busy connections are marked and destroyed on release. An
// unknown connection ID fails with gateway.ErrNotFound.
func (p *Pool) Evict(serverName, connectionID string) (EvictResult, error) {
	return p.evict(serverName, connectionID, reasonExplicit)
}

func (p *Pool) evict(serverName, connectionID string, reason string) (EvictResult, error) {
	var (
		result  EvictResult
		closing []*Connection
	)

	p.mu.Lock()
	st, ok := p.servers[serverName]
	if !ok {
		p.mu.Unlock()
		if connectionID != "" {
			return result, fmt.Errorf("connection %s of %s: %w", connectionID, serverName, gateway.ErrNotFound)
		}
		return result, nil
	}

	var targets []*Connection
	if connectionID == "" {
		st.generation++
		result.Deferred += st.dialing
		for _, c := range st.conns {
			targets = append(targets, c)
		}
	} else {
		c, ok := st.conns[connectionID]
		if !ok {
			p.mu.Unlock()
			return result, fmt.Errorf("connection %s of %s: %w", connectionID, serverName, gateway.ErrNotFound)
		}
		targets = append(targets, c)
	}

	for _, c := range targets {
		if c.inUse || c.probing {
			c.evictPending = true
			result.Deferred++
			continue
		}
		p.removeLocked(c)
		closing = append(closing, c)
		result.Evicted++
	}
	if result.Evicted > 0 {
		p.broadcastLocked()
	}
	p.mu.Unlock()

	for _, c := range closing {
		p.closeAsync(context.Background(), c, reason)
	}
	if result.Evicted > 0 || result.Deferred > 0 {
		p.logger.Info("evicted connections", "server", serverName,
			"evicted", result.Evicted, "deferred", result.Deferred, "reason", reason)
	}
	return result, nil
}

// ProbeFunc checks one idle connection. A non-nil error evicts it.
type ProbeFunc func(ctx context.Context, conn *Connection) error

// PingProbe checks process liveness and then issues a protocol ping.
func PingProbe(ctx context.Context, conn *Connection) error {
	if !conn.Alive() {
		return fmt.Errorf("%w: session process exited", gateway.ErrHealthCheckFailed)
	}
	if err := conn.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", gateway.ErrHealthCheckFailed, err)
	}
	return nil
}

// HealthReport summarizes a health check.
type HealthReport struct {
	Checked int `json:"checked"`
	Evicted int `json:"evicted"`
	// Skipped connections were busy and not probed.
	Skipped   int `json:"skipped"`
	Remaining int `json:"remaining"`
}

// HealthCheck pings the idle connections of serverName ("" for all servers)
// and evicts those that fail.
func (p *Pool) HealthCheck(ctx context.Context, serverName string) (HealthReport, error) {
	return p.Probe(ctx, serverName, PingProbe)
}

// Probe runs probe against every idle connection of serverName ("" for all
// servers) concurrently. While probed, a connection is invisible to Acquire
// and Evict only marks it. Connections whose probe fails are evicted.
func (p *Pool) Probe(ctx context.Context, serverName string, probe ProbeFunc) (HealthReport, error) {
	var report HealthReport

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return report, gateway.ErrPoolClosed
	}
	var candidates []*Connection
	for name, st := range p.servers {
		if serverName != "" && name != serverName {
			continue
		}
		for _, c := range st.conns {
			if c.idle() {
				c.probing = true
				candidates = append(candidates, c)
			} else {
				report.Skipped++
			}
		}
	}
	p.mu.Unlock()

	results := make([]error, len(candidates))
	var g errgroup.Group
	g.SetLimit(p.cfg.ProbeConcurrency)
	for i, c := range candidates {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, p.cfg.ProbeTimeout)
			defer cancel()
			results[i] = probe(pctx, c)
			return nil
		})
	}
	_ = g.Wait()

	var closing []*Connection
	p.mu.Lock()
	for i, c := range candidates {
		c.probing = false
		if c.removed {
			continue
		}
		if results[i] != nil || c.evictPending {
			if results[i] != nil {
				p.logger.Warn("health check failed, evicting connection",
					"server", c.serverName, "connection", c.id, "error", results[i])
			}
			p.removeLocked(c)
			closing = append(closing, c)
		}
	}
	for name, st := range p.servers {
		if serverName == "" || name == serverName {
			report.Remaining += len(st.conns)
		}
	}
	report.Checked = len(candidates)
	report.Evicted = len(closing)
	p.broadcastLocked()
	p.mu.Unlock()

	for _, c := range closing {
		p.closeAsync(ctx, c, reasonHealth)
	}
	return report, nil
}

// CloseAll closes every connection regardless of state and rejects further
// acquisitions. It is meant for process shutdown only.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.closers.Wait()
		return
	}
	p.closed = true
	var all []*Connection
	for _, st := range p.servers {
		for _, c := range st.conns {
			c.removed = true
			all = append(all, c)
		}
	}
	p.servers = make(map[string]*serverState)
	p.total = 0
	p.broadcastLocked()
	p.mu.Unlock()

	for _, c := range all {
		if err := c.session.Close(); err != nil {
			p.logger.Debug("error closing upstream session", "server", c.serverName, "error", err)
		}
		p.metrics.evicted(context.Background(), c.serverName, reasonShutdown)
	}
	p.closers.Wait()
	p.logger.Info("connection pool closed", "connections", len(all))
}

// ConnectionStatus describes one pooled connection.
type ConnectionStatus struct {
	ID           string    `json:"id"`
	InUse        bool      `json:"in_use"`
	EvictPending bool      `json:"evict_pending"`
	CreatedAt    time.Time `json:"created_at"`
	LastUsedAt   time.Time `json:"last_used_at"`
}

// ServerStatus describes the connections of one server.
type ServerStatus struct {
	Name        string             `json:"name"`
	Connections []ConnectionStatus `json:"connections"`
	Dialing     int                `json:"dialing"`
	Waiters     int                `json:"waiters"`
}

// Status is a point-in-time snapshot of the pool.
type Status struct {
	ActiveCount    int            `json:"active_count"`
	InUseCount     int            `json:"in_use_count"`
	MaxConnections int            `json:"max_connections"`
	MaxPerServer   int            `json:"max_per_server"`
	Servers        []ServerStatus `json:"servers"`
}

// Status returns a snapshot of the pool.
func (p *Pool) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	status := Status{
		MaxConnections: p.cfg.MaxConnections,
		MaxPerServer:   p.cfg.MaxPerServer,
		Servers:        make([]ServerStatus, 0, len(p.servers)),
	}
	for name, st := range p.servers {
		ss := ServerStatus{
			Name:        name,
			Connections: make([]ConnectionStatus, 0, len(st.conns)),
			Dialing:     st.dialing,
			Waiters:     st.waiters,
		}
		for _, c := range st.conns {
			ss.Connections = append(ss.Connections, ConnectionStatus{
				ID:           c.id,
				InUse:        c.inUse,
				EvictPending: c.evictPending,
				CreatedAt:    c.createdAt,
				LastUsedAt:   c.lastUsedAt,
			})
			if c.inUse {
				status.InUseCount++
			}
		}
		sort.Slice(ss.Connections, func(i, j int) bool {
			return ss.Connections[i].CreatedAt.Before(ss.Connections[j].CreatedAt)
		})
		status.ActiveCount += len(st.conns)
		status.Servers = append(status.Servers, ss)
	}
	sort.Slice(status.Servers, func(i, j int) bool { return status.Servers[i].Name < status.Servers[j].Name })
	return status
}

// Count returns the number of live connections of serverName.
func (p *Pool) Count(serverName string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.servers[serverName]; ok {
		return len(st.conns)
	}
	return 0
}

func (p *Pool) stateLocked(serverName string) *serverState {
	st, ok := p.servers[serverName]
	if !ok {
		st = &serverState{conns: make(map[string]*Connection)}
		p.servers[serverName] = st
	}
	return st
}

// pruneLocked drops the state of a server with nothing left in it.
func (p *Pool) pruneLocked(serverName string, st *serverState) {
	if p.servers[serverName] != st {
		return
	}
	if len(st.conns) == 0 && st.dialing == 0 && st.waiters == 0 {
		delete(p.servers, serverName)
	}
}

func (s *serverState) mostRecentIdle() *Connection {
	var best *Connection
	for _, c := range s.conns {
		if c.idle() && (best == nil || c.lastUsedAt.After(best.lastUsedAt)) {
			best = c
		}
	}
	return best
}

// lruIdleLocked returns the idle connection with the oldest lastUsedAt
// across all servers.
func (p *Pool) lruIdleLocked() *Connection {
	var oldest *Connection
	for _, st := range p.servers {
		for _, c := range st.conns {
			if c.idle() && (oldest == nil || c.lastUsedAt.Before(oldest.lastUsedAt)) {
				oldest = c
			}
		}
	}
	return oldest
}

func (p *Pool) removeLocked(c *Connection) {
	if c.removed {
		return
	}
	c.removed = true
	if st, ok := p.servers[c.serverName]; ok {
		delete(st.conns, c.id)
		p.pruneLocked(c.serverName, st)
	}
	p.total--
}

// broadcastLocked wakes every waiter so it can re-evaluate the pool.
func (p *Pool) broadcastLocked() {
	close(p.wake)
	p.wake = make(chan struct{})
}

func (p *Pool) closeAsync(ctx context.Context, c *Connection, reason string) {
	p.metrics.evicted(ctx, c.serverName, reason)
	p.closers.Add(1)
	go func() {
		defer p.closers.Done()
		if err := c.session.Close(); err != nil {
			p.logger.Debug("error closing upstream session", "server", c.serverName, "connection", c.id, "error", err)
		}
	}()
}
