// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package proxy exposes every mounted upstream MCP server under one HTTP
// endpoint and forwards JSON-RPC requests over pooled connections.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/stacklok/mcpgw/pkg/gateway/pool"
	"github.com/stacklok/mcpgw/pkg/logger"
)

// Defaults for Config.
const (
	DefaultRequestTimeout       = 60 * time.Second
	DefaultDrainTimeout         = 10 * time.Second
	DefaultMaxBodyBytes         = 4 << 20
	DefaultAcquireRetries       = 2
	DefaultRetryInitialInterval = 100 * time.Millisecond
)

// ErrDrainTimeout is returned by Unmount when in-flight requests had to be
// cancelled.
var ErrDrainTimeout = errors.New("drain timeout exceeded")

// errUnmounted is the cancellation cause of requests cut off by Unmount.
var errUnmounted = errors.New("server unmounted")

// Pool is the part of the connection pool the proxy uses.
type Pool interface {
	Acquire(ctx context.Context, serverName string) (*pool.Connection, error)
	Release(conn *pool.Connection)
	Evict(serverName, connectionID string) (pool.EvictResult, error)
}

// Config tunes request handling.
type Config struct {
	// RequestTimeout covers acquire, forward and release of one request.
	RequestTimeout time.Duration
	// DrainTimeout bounds how long Unmount waits for in-flight requests.
	DrainTimeout time.Duration
	// MaxBodyBytes limits inbound request bodies.
	MaxBodyBytes int64
	// RateLimit is the sustained number of requests per second allowed per
	// caller. Zero disables rate limiting.
	RateLimit float64
	// RateBurst is the per-caller burst size. Defaults to the rounded-up RateLimit.
	RateBurst int
	// AcquireRetries is how many times an unavailable upstream is redialled.
	AcquireRetries int
	// RetryInitialInterval is the first backoff delay between redials.
	RetryInitialInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.AcquireRetries < 0 {
		c.AcquireRetries = 0
	}
	if c.RetryInitialInterval <= 0 {
		c.RetryInitialInterval = DefaultRetryInitialInterval
	}
	return c
}

// Option customizes a Proxy.
type Option func(*Proxy)

// WithMeterProvider records request metrics with mp.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(p *Proxy) { p.meterProvider = mp }
}

// mount is one routable upstream server. Requests enter and leave it so
// Unmount can drain them.
type mount struct {
	name   string
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	draining bool
	inflight sync.WaitGroup
}

func (m *mount) enter() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.draining {
		return false
	}
	m.inflight.Add(1)
	return true
}

func (m *mount) leave() {
	m.inflight.Done()
}

// Proxy routes requests to mounted servers.
type Proxy struct {
	pool    Pool
	servers pool.Resolver
	cfg     Config
	limiter *userLimiter
	router  chi.Router

	meterProvider metric.MeterProvider
	metrics       *metrics

	mu     sync.RWMutex
	mounts map[string]*mount
}

// New creates a Proxy with no mounted servers.
func New(p Pool, servers pool.Resolver, cfg Config, opts ...Option) (*Proxy, error) {
	cfg = cfg.withDefaults()
	px := &Proxy{
		pool:          p,
		servers:       servers,
		cfg:           cfg,
		limiter:       newUserLimiter(cfg.RateLimit, cfg.RateBurst),
		meterProvider: noop.NewMeterProvider(),
		mounts:        make(map[string]*mount),
	}
	for _, opt := range opts {
		opt(px)
	}

	m, err := newMetrics(px.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("creating proxy metrics: %w", err)
	}
	px.metrics = m

	r := chi.NewRouter()
	r.Post("/{server}", px.handle)
	r.Post("/{server}/mcp", px.handle)
	px.router = r
	return px, nil
}

// ServeHTTP implements http.Handler.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.router.ServeHTTP(w, r)
}

// Mount makes serverName routable. Mounting an already mounted server does nothing.
func (p *Proxy) Mount(serverName string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.mounts[serverName]; ok {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.mounts[serverName] = &mount{name: serverName, ctx: ctx, cancel: cancel}
	logger.Infof("Mounted server %s", serverName)
}

// Unmount stops routing to serverName. New requests fail with not found
// immediately. In-flight requests get up to DrainTimeout (or until ctx ends)
// to finish, after which their contexts are cancelled and ErrDrainTimeout is
// returned. Unmount returns once no request is left.
func (p *Proxy) Unmount(ctx context.Context, serverName string) error {
	p.mu.Lock()
	m, ok := p.mounts[serverName]
	if ok {
		delete(p.mounts, serverName)
	}
	p.mu.Unlock()
	if !ok {
		return nil
	}

	m.mu.Lock()
	m.draining = true
	m.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(drained)
	}()

	timer := time.NewTimer(p.cfg.DrainTimeout)
	defer timer.Stop()

	var err error
	select {
	case <-drained:
	case <-timer.C:
		err = fmt.Errorf("unmounting %s: %w", serverName, ErrDrainTimeout)
	case <-ctx.Done():
		err = fmt.Errorf("unmounting %s: %w", serverName, ctx.Err())
	}
	m.cancel()
	if err != nil {
		logger.Warnf("Cancelling in-flight requests to %s: %v", serverName, err)
		<-drained
	}
	logger.Infof("Unmounted server %s", serverName)
	return err
}

// Mounted reports whether serverName is routable.
func (p *Proxy) Mounted(serverName string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.mounts[serverName]
	return ok
}

// Mounts returns the routable server names in order.
func (p *Proxy) Mounts() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.mounts))
	for name := range p.mounts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UnmountAll unmounts every server concurrently; used at shutdown.
func (p *Proxy) UnmountAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, name := range p.Mounts() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Unmount(ctx, name)
		}()
	}
	wg.Wait()
}

func (p *Proxy) enter(serverName string) *mount {
	p.mu.RLock()
	m, ok := p.mounts[serverName]
	p.mu.RUnlock()
	if !ok || !m.enter() {
		return nil
	}
	return m
}
