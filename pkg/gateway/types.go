// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"encoding/json"
	"fmt"
	"maps"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"time"
)

// TransportType is the protocol used to talk to an upstream MCP server.
type TransportType string

const (
	// TransportStdio launches the server as a subprocess and speaks over stdin/stdout.
	TransportStdio TransportType = "stdio"
	// TransportSSE connects to a legacy HTTP+SSE endpoint.
	TransportSSE TransportType = "sse"
	// TransportStreamableHTTP connects to a streamable HTTP endpoint.
	TransportStreamableHTTP TransportType = "streamable_http"
)

// Valid reports whether t is a supported transport.
func (t TransportType) Valid() bool {
	switch t {
	case TransportStdio, TransportSSE, TransportStreamableHTTP:
		return true
	}
	return false
}

// IsHTTP reports whether t is reached over HTTP.
func (t TransportType) IsHTTP() bool {
	return t == TransportSSE || t == TransportStreamableHTTP
}

var serverNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]{0,62}$`)

// ServerDescriptor is one configured upstream MCP server.
type ServerDescriptor struct {
	Name        string        `json:"name" yaml:"name"`
	Transport   TransportType `json:"transport" yaml:"transport"`
	Description string        `json:"description,omitempty" yaml:"description,omitempty"`

	// URL is the endpoint for sse and streamable_http servers.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`

	// Command, Args and Env launch stdio servers.
	Command string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	// DockerImage, when set, makes the server a managed container.
	DockerImage string `json:"docker_image,omitempty" yaml:"docker_image,omitempty"`
	// DockerPorts maps container ports ("8080/tcp") to host ports.
	DockerPorts map[string]int `json:"docker_ports,omitempty" yaml:"docker_ports,omitempty"`

	// RequiredRoles restricts read access; empty means unrestricted.
	RequiredRoles []string `json:"required_roles,omitempty" yaml:"required_roles,omitempty"`
	CreatorID     string   `json:"creator_id" yaml:"creator_id"`
	Enabled       bool     `json:"enabled" yaml:"enabled"`

	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// Validate checks the descriptor is internally consistent. The returned error
// wraps ErrValidation and lists every problem found.
func (d *ServerDescriptor) Validate() error {
	var problems []string

	if !serverNamePattern.MatchString(d.Name) {
		problems = append(problems, fmt.Sprintf("name %q must match %s", d.Name, serverNamePattern))
	}

	switch {
	case !d.Transport.Valid():
		problems = append(problems, fmt.Sprintf("unsupported transport %q", d.Transport))
	case d.Transport.IsHTTP():
		if d.URL == "" {
			problems = append(problems, fmt.Sprintf("url is required for %s transport", d.Transport))
		} else if u, err := url.Parse(d.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			problems = append(problems, fmt.Sprintf("url %q must be an absolute http(s) URL", d.URL))
		}
		if d.Command != "" {
			problems = append(problems, fmt.Sprintf("command is not allowed for %s transport", d.Transport))
		}
	case d.Transport == TransportStdio:
		if d.Command == "" && d.DockerImage == "" {
			problems = append(problems, "command or docker_image is required for stdio transport")
		}
		if d.URL != "" {
			problems = append(problems, "url is not allowed for stdio transport")
		}
	}

	for _, r := range d.RequiredRoles {
		if strings.TrimSpace(r) == "" {
			problems = append(problems, "required_roles must not contain blank entries")
			break
		}
	}

	for port, host := range d.DockerPorts {
		if host <= 0 || host > 65535 {
			problems = append(problems, fmt.Sprintf("docker port %s maps to invalid host port %d", port, host))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}

// Clone returns a deep copy of the descriptor.
func (d *ServerDescriptor) Clone() *ServerDescriptor {
	if d == nil {
		return nil
	}
	c := *d
	c.Args = slices.Clone(d.Args)
	c.RequiredRoles = slices.Clone(d.RequiredRoles)
	c.Env = maps.Clone(d.Env)
	c.DockerPorts = maps.Clone(d.DockerPorts)
	return &c
}

// ManagedContainer reports whether the gateway runs a long-lived container
// for the server. Stdio servers with an image are started per connection
// instead.
func (d *ServerDescriptor) ManagedContainer() bool {
	return d.DockerImage != "" && d.Transport.IsHTTP()
}

// Tool is a tool advertised by an upstream server.
type Tool struct {
	Name        string
	Title       string
	Description string
}

// RPCRequest is an inbound JSON-RPC request that is forwarded to an upstream
// server. ID and Params are kept as raw bytes so the message body reaches the
// upstream unchanged.
type RPCRequest struct {
	ID     json.RawMessage
	Method string
	Params json.RawMessage
}
