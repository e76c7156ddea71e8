// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package docker implements container.Manager on the Docker Engine API.
package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	mcpcontainer "github.com/stacklok/mcpgw/pkg/container"
	"github.com/stacklok/mcpgw/pkg/gateway"
	"github.com/stacklok/mcpgw/pkg/logger"
)

const (
	// stopTimeoutSeconds is how long Docker waits before killing a stopping container.
	stopTimeoutSeconds = 30
	defaultLogTail     = 100
)

// dockerAPI is the subset of the Docker client the manager uses.
type dockerAPI interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ContainerInspect(ctx context.Context, id string) (container.InspectResponse, error)
	ContainerCreate(
		ctx context.Context,
		config *container.Config,
		hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig,
		platform *v1.Platform,
		containerName string,
	) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
}

// Config selects the Docker endpoint.
type Config struct {
	// Host overrides DOCKER_HOST, e.g. "unix:///var/run/docker.sock".
	Host string
	// Network attaches containers to a user-defined network.
	Network string
}

// Manager implements container.Manager with Docker.
type Manager struct {
	api     dockerAPI
	network string
	closer  io.Closer
}

var _ mcpcontainer.Manager = (*Manager)(nil)

// NewManager connects to the Docker daemon and verifies it answers.
func NewManager(ctx context.Context, cfg Config) (*Manager, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, NewContainerError(err, "", fmt.Sprintf("failed to create client: %v", err))
	}
	if _, err := cli.Ping(ctx); err != nil {
		_ = cli.Close()
		return nil, NewContainerError(err, "", fmt.Sprintf("docker daemon not reachable: %v", err))
	}
	logger.Debugf("connected to docker daemon at %s", cli.DaemonHost())

	return &Manager{api: cli, network: cfg.Network, closer: cli}, nil
}

func newManagerWithAPI(api dockerAPI, network string) *Manager {
	return &Manager{api: api, network: network}
}

// Close releases the Docker client.
func (m *Manager) Close() error {
	if m.closer == nil {
		return nil
	}
	return m.closer.Close()
}

// Start creates and starts the container for desc. A running container with
// the expected image is reused; a stale one is replaced.
func (m *Manager) Start(ctx context.Context, desc *gateway.ServerDescriptor) (mcpcontainer.Handle, error) {
	name := mcpcontainer.Name(desc.Name)
	if desc.DockerImage == "" {
		return mcpcontainer.Handle{}, fmt.Errorf("%w: server %s has no docker image", gateway.ErrValidation, desc.Name)
	}

	config := &container.Config{
		Image:  desc.DockerImage,
		Cmd:    desc.Args,
		Env:    convertEnvVars(desc.Env),
		Labels: mcpcontainer.Labels(desc),
	}
	hostConfig := &container.HostConfig{
		RestartPolicy: container.RestartPolicy{
			Name: container.RestartPolicyUnlessStopped,
		},
	}
	if m.network != "" {
		hostConfig.NetworkMode = container.NetworkMode(m.network)
	}
	if err := setupPorts(config, hostConfig, desc.DockerPorts); err != nil {
		return mcpcontainer.Handle{}, NewContainerError(err, name, err.Error())
	}

	existingID, err := m.findExistingContainer(ctx, name)
	if err != nil {
		return mcpcontainer.Handle{}, err
	}
	if existingID != "" {
		info, err := m.api.ContainerInspect(ctx, existingID)
		if err != nil {
			return mcpcontainer.Handle{}, NewContainerError(err, name, fmt.Sprintf("failed to inspect container: %v", err))
		}
		if info.Config != nil && info.Config.Image == desc.DockerImage && info.State != nil && info.State.Running {
			return mcpcontainer.Handle{ID: existingID, Name: name}, nil
		}
		logger.Infof("replacing stale container %s", name)
		if err := m.api.ContainerRemove(ctx, existingID, container.RemoveOptions{Force: true}); err != nil &&
			!cerrdefs.IsNotFound(err) {
			return mcpcontainer.Handle{}, NewContainerError(err, name, fmt.Sprintf("failed to remove container: %v", err))
		}
	}

	resp, err := m.api.ContainerCreate(ctx, config, hostConfig, &network.NetworkingConfig{}, nil, name)
	if err != nil {
		return mcpcontainer.Handle{}, NewContainerError(err, name, fmt.Sprintf("failed to create container: %v", err))
	}
	if err := m.api.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return mcpcontainer.Handle{}, NewContainerError(err, name, fmt.Sprintf("failed to start container: %v", err))
	}

	logger.Infow("started container", "server", desc.Name, "container", name, "image", desc.DockerImage)
	return mcpcontainer.Handle{ID: resp.ID, Name: name}, nil
}

// Stop stops and removes the container of serverName.
func (m *Manager) Stop(ctx context.Context, serverName string) error {
	name := mcpcontainer.Name(serverName)

	timeout := stopTimeoutSeconds
	err := m.api.ContainerStop(ctx, name, container.StopOptions{Timeout: &timeout})
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return nil
		}
		return NewContainerError(err, name, fmt.Sprintf("failed to stop container: %v", err))
	}
	if err := m.api.ContainerRemove(ctx, name, container.RemoveOptions{Force: true}); err != nil &&
		!cerrdefs.IsNotFound(err) {
		return NewContainerError(err, name, fmt.Sprintf("failed to remove container: %v", err))
	}
	return nil
}

// Status inspects the container of serverName. Containers without a
// healthcheck are healthy while running; containers whose healthcheck is
// still in its start period are reported as starting.
func (m *Manager) Status(ctx context.Context, serverName string) (mcpcontainer.Status, error) {
	name := mcpcontainer.Name(serverName)

	info, err := m.api.ContainerInspect(ctx, name)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return mcpcontainer.Status{}, NewContainerError(mcpcontainer.ErrContainerNotFound, name, "container not found")
		}
		return mcpcontainer.Status{}, NewContainerError(err, name, fmt.Sprintf("failed to inspect container: %v", err))
	}

	status := mcpcontainer.Status{ID: info.ID}
	if info.State == nil {
		return status, nil
	}
	status.Running = info.State.Running
	status.State = string(info.State.Status)
	status.Healthy = status.Running
	if info.State.Health != nil && info.State.Health.Status != container.NoHealthcheck {
		status.Healthy = status.Running && info.State.Health.Status == container.Healthy
		status.Starting = status.Running && info.State.Health.Status == container.Starting
	}
	if started, err := time.Parse(time.RFC3339Nano, info.State.StartedAt); err == nil {
		status.StartedAt = started
	}
	return status, nil
}

// Logs returns the last tail lines of combined stdout and stderr.
func (m *Manager) Logs(ctx context.Context, serverName string, tail int) (string, error) {
	name := mcpcontainer.Name(serverName)
	if tail <= 0 {
		tail = defaultLogTail
	}

	logs, err := m.api.ContainerLogs(ctx, name, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(tail),
	})
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return "", NewContainerError(mcpcontainer.ErrContainerNotFound, name, "container not found")
		}
		return "", NewContainerError(err, name, fmt.Sprintf("failed to get container logs: %v", err))
	}
	defer logs.Close()

	var out bytes.Buffer
	if _, err := stdcopy.StdCopy(&out, &out, logs); err != nil {
		return "", NewContainerError(err, name, fmt.Sprintf("failed to read container logs: %v", err))
	}
	return out.String(), nil
}

// List returns the names of servers with a gateway-managed container.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	containers, err := m.api.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", mcpcontainer.LabelManaged+"=true")),
	})
	if err != nil {
		return nil, NewContainerError(err, "", fmt.Sprintf("failed to list containers: %v", err))
	}

	names := make([]string, 0, len(containers))
	for _, c := range containers {
		if server := c.Labels[mcpcontainer.LabelServer]; server != "" {
			names = append(names, server)
		}
	}
	return names, nil
}

func (m *Manager) findExistingContainer(ctx context.Context, name string) (string, error) {
	containers, err := m.api.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", name)),
	})
	if err != nil {
		return "", NewContainerError(err, name, fmt.Sprintf("failed to list containers: %v", err))
	}

	// The name filter matches substrings.
	for _, c := range containers {
		for _, n := range c.Names {
			if n == "/"+name || n == name {
				return c.ID, nil
			}
		}
	}
	return "", nil
}
