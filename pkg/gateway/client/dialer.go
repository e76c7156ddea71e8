// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package client opens upstream MCP sessions for the connection pool using
// mark3labs/mcp-go. HTTP based transports share one http.Client whose
// transport applies per-request identity headers; stdio servers run as child
// processes (optionally through docker run -i).
package client

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/stacklok/mcpgw/pkg/gateway"
	"github.com/stacklok/mcpgw/pkg/gateway/pool"
	"github.com/stacklok/mcpgw/pkg/versions"
)

const (
	// maxResponseSize caps a single upstream HTTP response body.
	maxResponseSize = 100 * 1024 * 1024 // 100 MB

	defaultHTTPTimeout = 30 * time.Second
	defaultClientName  = "mcpgw"
	defaultDockerBin   = "docker"
)

// Config tunes how sessions are opened.
type Config struct {
	// ClientName is sent as clientInfo.name during initialize.
	ClientName string
	// HTTPTimeout bounds a single request/response exchange on HTTP transports.
	HTTPTimeout time.Duration
	// MaxResponseSize caps upstream response bodies. Zero means 100 MB.
	MaxResponseSize int64
	// DockerBinary runs stdio servers that only declare an image.
	DockerBinary string
	// BaseTransport is the underlying HTTP transport. Tests swap it out.
	BaseTransport http.RoundTripper
}

// Dialer implements pool.Dialer.
type Dialer struct {
	cfg Config
	// requestClient carries bounded request/response exchanges.
	requestClient *http.Client
	// streamClient carries long-lived SSE streams and has no overall timeout.
	streamClient *http.Client
}

var _ pool.Dialer = (*Dialer)(nil)

// NewDialer creates a Dialer.
func NewDialer(cfg Config) *Dialer {
	if cfg.ClientName == "" {
		cfg.ClientName = defaultClientName
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = defaultHTTPTimeout
	}
	if cfg.MaxResponseSize <= 0 {
		cfg.MaxResponseSize = maxResponseSize
	}
	if cfg.DockerBinary == "" {
		cfg.DockerBinary = defaultDockerBin
	}

	rt := newTransportChain(cfg.BaseTransport, cfg.MaxResponseSize)
	return &Dialer{
		cfg:           cfg,
		requestClient: &http.Client{Transport: rt, Timeout: cfg.HTTPTimeout},
		streamClient:  &http.Client{Transport: rt},
	}
}

// Dial opens and initializes a session to desc.
func (d *Dialer) Dial(ctx context.Context, desc *gateway.ServerDescriptor) (pool.Session, error) {
	switch desc.Transport {
	case gateway.TransportStreamableHTTP:
		c, err := client.NewStreamableHttpClient(
			desc.URL,
			transport.WithHTTPTimeout(d.cfg.HTTPTimeout),
			transport.WithHTTPBasicClient(d.requestClient),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create streamable-http client: %w", err)
		}
		return d.start(ctx, desc.Name, c, nil)

	case gateway.TransportSSE:
		c, err := client.NewSSEMCPClient(desc.URL, transport.WithHTTPClient(d.streamClient))
		if err != nil {
			return nil, fmt.Errorf("failed to create SSE client: %w", err)
		}
		return d.start(ctx, desc.Name, c, nil)

	case gateway.TransportStdio:
		proc, err := startProcess(desc, d.cfg.DockerBinary)
		if err != nil {
			return nil, err
		}
		c := client.NewClient(transport.NewIO(proc.stdout, proc.stdin, nil))
		return d.start(ctx, desc.Name, c, proc)

	default:
		return nil, fmt.Errorf("%w: unsupported transport %q", gateway.ErrValidation, desc.Transport)
	}
}

// start runs the transport and the initialize handshake. The transport is
// started with a background context so streams outlive the dial context.
func (d *Dialer) start(ctx context.Context, name string, c *client.Client, proc *process) (pool.Session, error) {
	s := &session{name: name, client: c, proc: proc}

	if err := c.Start(context.Background()); err != nil {
		_ = s.Close()
		return nil, wrapUpstreamError(err, name, "start session")
	}

	result, err := c.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo: mcp.Implementation{
				Name:    d.cfg.ClientName,
				Version: versions.GetVersionInfo().Version,
			},
		},
	})
	if err != nil {
		_ = s.Close()
		return nil, wrapUpstreamError(err, name, "initialize")
	}
	if err := s.setInitializeResult(result); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}
