// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/stacklok/mcpgw/pkg/gateway"
)

// session is a pool.Session backed by an mcp-go client.
type session struct {
	name   string
	client *client.Client
	proc   *process

	initResult json.RawMessage
	nextID     atomic.Uint64
	closed     atomic.Bool
	closeOnce  sync.Once
	closeErr   error
}

func (s *session) setInitializeResult(result *mcp.InitializeResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding initialize result of %s: %w", s.name, err)
	}
	s.initResult = raw
	return nil
}

func (s *session) InitializeResult() json.RawMessage {
	return s.initResult
}

func (s *session) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx); err != nil {
		return wrapUpstreamError(err, s.name, "ping")
	}
	return nil
}

func (s *session) ListTools(ctx context.Context) ([]gateway.Tool, error) {
	res, err := s.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, wrapUpstreamError(err, s.name, "list tools")
	}
	tools := make([]gateway.Tool, 0, len(res.Tools))
	for _, t := range res.Tools {
		tools = append(tools, gateway.Tool{
			Name:        t.Name,
			Title:       t.Annotations.Title,
			Description: t.Description,
		})
	}
	return tools, nil
}

// Forward sends req under a gateway-local request ID and rewrites the
// response so it carries the caller's original ID.
func (s *session) Forward(ctx context.Context, req *gateway.RPCRequest) ([]byte, error) {
	var params any
	if len(req.Params) > 0 {
		params = req.Params
	}
	localID := mcp.NewRequestId("mcpgw-" + strconv.FormatUint(s.nextID.Add(1), 10))

	resp, err := s.client.GetTransport().SendRequest(ctx, transport.JSONRPCRequest{
		JSONRPC: mcp.JSONRPC_VERSION,
		ID:      localID,
		Method:  req.Method,
		Params:  params,
	})
	if err != nil {
		return nil, wrapUpstreamError(err, s.name, req.Method)
	}
	return encodeResponse(req.ID, resp)
}

type responseEnvelope struct {
	JSONRPC string                   `json:"jsonrpc"`
	ID      json.RawMessage          `json:"id"`
	Result  json.RawMessage          `json:"result,omitempty"`
	Error   *mcp.JSONRPCErrorDetails `json:"error,omitempty"`
}

func encodeResponse(id json.RawMessage, resp *transport.JSONRPCResponse) ([]byte, error) {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	env := responseEnvelope{JSONRPC: mcp.JSONRPC_VERSION, ID: id}
	switch {
	case resp.Error != nil:
		env.Error = resp.Error
	case len(resp.Result) > 0:
		env.Result = resp.Result
	default:
		env.Result = json.RawMessage("null")
	}
	return json.Marshal(env)
}

func (s *session) Alive() bool {
	if s.closed.Load() {
		return false
	}
	if s.proc != nil {
		return s.proc.alive()
	}
	return true
}

func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.client.Close()
		if s.proc != nil {
			if err := s.proc.stop(); err != nil && s.closeErr == nil {
				s.closeErr = err
			}
		}
	})
	return s.closeErr
}
