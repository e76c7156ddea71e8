// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-chi/chi/v5"
	"github.com/tidwall/gjson"

	"github.com/stacklok/mcpgw/pkg/auth"
	"github.com/stacklok/mcpgw/pkg/gateway"
	"github.com/stacklok/mcpgw/pkg/gateway/identity"
	"github.com/stacklok/mcpgw/pkg/gateway/pool"
	"github.com/stacklok/mcpgw/pkg/logger"
)

const methodInitialize = "initialize"

// message is the part of an inbound JSON-RPC message the proxy looks at.
// The body itself is never re-encoded.
type message struct {
	id     json.RawMessage
	method string
	params json.RawMessage
	tool   string
}

func (m *message) isNotification() bool {
	return m.id == nil
}

// parseMessage validates a single JSON-RPC 2.0 request or notification.
func parseMessage(body []byte) (*message, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return nil, errBatch
	}
	if !gjson.ValidBytes(trimmed) {
		return nil, errParse
	}
	fields := gjson.GetManyBytes(trimmed, "jsonrpc", "method", "id", "params", "params.name")
	if fields[0].String() != "2.0" || fields[1].Type != gjson.String || fields[1].String() == "" {
		return nil, errInvalidRequest
	}

	msg := &message{method: fields[1].String()}
	if fields[2].Exists() {
		if fields[2].Type != gjson.String && fields[2].Type != gjson.Number {
			return nil, errInvalidRequest
		}
		msg.id = json.RawMessage(fields[2].Raw)
	}
	if fields[3].Exists() {
		msg.params = json.RawMessage(fields[3].Raw)
	}
	if msg.method == "tools/call" {
		msg.tool = fields[4].String()
	}
	return msg, nil
}

// handle serves POST {base}/{server}[/mcp].
func (p *Proxy) handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	serverName := chi.URLParam(r, "server")
	rec := &outcome{server: serverName, method: "unknown"}
	defer func() { p.metrics.record(r.Context(), rec, start) }()

	caller, ok := auth.IdentityFromContext(r.Context())
	if !ok || caller == nil {
		rec.status = http.StatusUnauthorized
		writeError(w, rec.status)
		return
	}

	m := p.enter(serverName)
	if m == nil {
		rec.status = http.StatusNotFound
		writeError(w, rec.status)
		return
	}
	defer m.leave()

	desc, err := p.servers.Get(r.Context(), serverName)
	if err != nil || !desc.Enabled {
		if err != nil && !errors.Is(err, gateway.ErrNotFound) {
			logger.Errorf("Failed to resolve server %s: %v", logger.Sanitize(serverName), err)
			rec.status = http.StatusInternalServerError
		} else {
			rec.status = http.StatusNotFound
		}
		writeError(w, rec.status)
		return
	}
	if !gateway.CanAccess(desc, caller, gateway.OpRead) {
		rec.status = http.StatusForbidden
		writeError(w, rec.status)
		return
	}

	if !p.limiter.allow(caller.Subject) {
		rec.status = http.StatusTooManyRequests
		w.Header().Set("Retry-After", "1")
		writeError(w, rec.status)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, p.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			rec.status = http.StatusRequestEntityTooLarge
		} else {
			rec.status = http.StatusBadRequest
		}
		writeError(w, rec.status)
		return
	}
	msg, err := parseMessage(body)
	if err != nil {
		rec.status = http.StatusBadRequest
		writeRPCError(w, rec.status, nil, err)
		return
	}
	rec.method = msg.method

	if msg.isNotification() {
		rec.status = http.StatusAccepted
		w.WriteHeader(rec.status)
		return
	}

	ctx, cancelCause := context.WithCancelCause(r.Context())
	defer cancelCause(nil)
	stop := context.AfterFunc(m.ctx, func() { cancelCause(errUnmounted) })
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()

	resp, err := p.forward(ctx, desc.Name, caller, r.Header, msg)
	if err != nil {
		err = p.classify(ctx, err)
		rec.status = statusFor(err)
		logger.Warnw("proxy request failed",
			"server", logger.Sanitize(serverName),
			"method", logger.Sanitize(msg.method),
			"tool", logger.Sanitize(msg.tool),
			"error", err)
		if rec.status == http.StatusServiceUnavailable && errors.Is(err, gateway.ErrPoolExhausted) {
			w.Header().Set("Retry-After", "1")
		}
		writeRPCError(w, rec.status, msg.id, nil)
		return
	}

	rec.status = http.StatusOK
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(resp); err != nil {
		logger.Debugf("Failed to write response for %s: %v", logger.Sanitize(serverName), err)
	}
}

// forward acquires a connection, sends msg and always releases the
// connection. A connection whose call failed is evicted so it is never
// handed out again.
func (p *Proxy) forward(
	ctx context.Context, serverName string, caller *auth.Identity, header http.Header, msg *message,
) ([]byte, error) {
	conn, err := p.acquire(ctx, serverName)
	if err != nil {
		return nil, err
	}

	ok := false
	defer func() {
		if !ok {
			if _, err := p.pool.Evict(serverName, conn.ID()); err != nil {
				logger.Debugf("Evicting failed connection %s: %v", conn.ID(), err)
			}
		}
		p.pool.Release(conn)
	}()

	ctx = identity.WithOutboundHeaders(ctx, identity.PrepareProxyHeaders(header, caller))

	var resp []byte
	if msg.method == methodInitialize {
		resp, err = initializeResponse(msg.id, conn.InitializeResult())
	} else {
		resp, err = conn.Forward(ctx, &gateway.RPCRequest{ID: msg.id, Method: msg.method, Params: msg.params})
	}
	if err != nil {
		if !errors.Is(err, gateway.ErrUpstreamUnavailable) && !errors.Is(err, gateway.ErrTimeout) {
			err = fmt.Errorf("%w: %s: %w", gateway.ErrUpstreamUnavailable, serverName, err)
		}
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	ok = true
	return resp, nil
}

// acquire retries with exponential backoff while the upstream is
// unavailable. Every other error is final.
func (p *Proxy) acquire(ctx context.Context, serverName string) (*pool.Connection, error) {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = p.cfg.RetryInitialInterval
	expBackoff.MaxInterval = 10 * p.cfg.RetryInitialInterval

	operation := func() (*pool.Connection, error) {
		conn, err := p.pool.Acquire(ctx, serverName)
		if err != nil && !errors.Is(err, gateway.ErrUpstreamUnavailable) {
			return nil, backoff.Permanent(err)
		}
		return conn, err
	}

	// #nosec G115 -- AcquireRetries is non-negative after withDefaults
	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(uint(p.cfg.AcquireRetries+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, d time.Duration) {
			logger.Debugf("Retrying connection to %s after %v: %v", logger.Sanitize(serverName), d, err)
		}),
	)
}

// classify turns context failures into the error the caller should see.
func (*Proxy) classify(ctx context.Context, err error) error {
	if ctx.Err() == nil {
		return err
	}
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, errUnmounted):
		return fmt.Errorf("%w: %w", gateway.ErrUpstreamUnavailable, cause)
	case errors.Is(cause, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", gateway.ErrTimeout, err)
	}
	return err
}

func initializeResponse(id, result json.RawMessage) ([]byte, error) {
	if len(result) == 0 {
		return nil, fmt.Errorf("%w: no cached initialize result", gateway.ErrUpstreamUnavailable)
	}
	return json.Marshal(struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Result  json.RawMessage `json:"result"`
	}{JSONRPC: "2.0", ID: id, Result: result})
}
