// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package container defines how the gateway runs upstream MCP servers that
// ship as container images.
package container

import (
	"context"
	"errors"
	"time"

	"github.com/stacklok/toolhive-core/httperr"

	"github.com/stacklok/mcpgw/pkg/gateway"
)

//go:generate mockgen -destination=mocks/mock_manager.go -package=mocks -source=types.go Manager

// ErrContainerNotFound is returned when no container exists for a server.
var ErrContainerNotFound = httperr.WithCode(errors.New("container not found"), 404)

// Handle identifies a started container.
type Handle struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Status is the observed state of a server's container. Starting is set
// while the container's healthcheck has not reported yet.
type Status struct {
	ID        string    `json:"id"`
	Running   bool      `json:"running"`
	Healthy   bool      `json:"healthy"`
	Starting  bool      `json:"starting,omitempty"`
	State     string    `json:"state"`
	StartedAt time.Time `json:"started_at,omitzero"`
}

// Manager starts and observes containers backing upstream servers.
// Containers are addressed by server name.
type Manager interface {
	// Start creates (or reuses) and starts the container for desc.
	Start(ctx context.Context, desc *gateway.ServerDescriptor) (Handle, error)
	// Stop stops and removes the container of serverName. A missing container is not an error.
	Stop(ctx context.Context, serverName string) error
	// Status reports the container state of serverName.
	Status(ctx context.Context, serverName string) (Status, error)
	// Logs returns the last tail lines of output.
	Logs(ctx context.Context, serverName string, tail int) (string, error)
}

// NoopManager is used when container management is disabled. Every server
// is reported as running so liveness is left to protocol probes.
type NoopManager struct{}

var _ Manager = NoopManager{}

// Start does nothing.
func (NoopManager) Start(_ context.Context, desc *gateway.ServerDescriptor) (Handle, error) {
	return Handle{Name: Name(desc.Name)}, nil
}

// Stop does nothing.
func (NoopManager) Stop(context.Context, string) error { return nil }

// Status reports a running, healthy container.
func (NoopManager) Status(context.Context, string) (Status, error) {
	return Status{Running: true, Healthy: true, State: "unmanaged"}, nil
}

// Logs always fails with ErrContainerNotFound.
func (NoopManager) Logs(context.Context, string, int) (string, error) {
	return "", ErrContainerNotFound
}
