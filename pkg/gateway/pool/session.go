// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"context"
	"encoding/json"
	"time"

	"github.com/stacklok/mcpgw/pkg/gateway"
)

//go:generate mockgen -destination=mocks/mock_session.go -package=mocks -source=session.go Session,Dialer,Resolver

// Session is one live, initialized upstream MCP session. Sessions are owned
// by the pool; other components reach them only through a held Connection.
type Session interface {
	// Ping issues a protocol level no-op request.
	Ping(ctx context.Context) error
	// ListTools returns every tool the server advertises.
	ListTools(ctx context.Context) ([]gateway.Tool, error)
	// Forward sends req over the session and returns the raw JSON-RPC response.
	Forward(ctx context.Context, req *gateway.RPCRequest) ([]byte, error)
	// InitializeResult is the raw result of the initialize handshake.
	InitializeResult() json.RawMessage
	// Alive reports whether the process or stream behind the session is still up.
	// It must not block.
	Alive() bool
	// Close tears the session down.
	Close() error
}

// Dialer establishes new sessions.
type Dialer interface {
	Dial(ctx context.Context, desc *gateway.ServerDescriptor) (Session, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, desc *gateway.ServerDescriptor) (Session, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, desc *gateway.ServerDescriptor) (Session, error) {
	return f(ctx, desc)
}

// Resolver looks up server descriptors. storage.ServerStore satisfies it.
type Resolver interface {
	Get(ctx context.Context, name string) (*gateway.ServerDescriptor, error)
}

// Connection is a pooled session handed to exactly one holder between
// Acquire and Release. Its methods must only be used by that holder, or by
// a probe the pool runs while the connection is idle.
type Connection struct {
	id         string
	serverName string
	session    Session
	createdAt  time.Time

	// guarded by Pool.mu
	lastUsedAt   time.Time
	inUse        bool
	probing      bool
	evictPending bool
	removed      bool
}

// ID returns the connection identifier.
func (c *Connection) ID() string { return c.id }

// ServerName returns the server the connection belongs to.
func (c *Connection) ServerName() string { return c.serverName }

// CreatedAt returns when the session was established.
func (c *Connection) CreatedAt() time.Time { return c.createdAt }

// Forward sends a JSON-RPC request over the session.
func (c *Connection) Forward(ctx context.Context, req *gateway.RPCRequest) ([]byte, error) {
	return c.session.Forward(ctx, req)
}

// ListTools lists the upstream server's tools.
func (c *Connection) ListTools(ctx context.Context) ([]gateway.Tool, error) {
	return c.session.ListTools(ctx)
}

// InitializeResult returns the cached initialize result of the session.
func (c *Connection) InitializeResult() json.RawMessage {
	return c.session.InitializeResult()
}

// Ping issues a protocol level no-op request.
func (c *Connection) Ping(ctx context.Context) error {
	return c.session.Ping(ctx)
}

// Alive reports whether the underlying process or stream is still up.
func (c *Connection) Alive() bool {
	return c.session.Alive()
}

func (c *Connection) idle() bool {
	return !c.inUse && !c.probing && !c.evictPending && !c.removed
}
