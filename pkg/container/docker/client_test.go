// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package docker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcpcontainer "github.com/stacklok/mcpgw/pkg/container"
	"github.com/stacklok/mcpgw/pkg/gateway"
)

func fetchServer() *gateway.ServerDescriptor {
	return &gateway.ServerDescriptor{
		Name:        "fetch",
		Transport:   gateway.TransportStreamableHTTP,
		URL:         "http://localhost:18080/mcp",
		DockerImage: "mcp/fetch:latest",
		DockerPorts: map[string]int{"8080/tcp": 18080},
		Env:         map[string]string{"B": "2", "A": "1"},
		CreatorID:   "alice",
		Enabled:     true,
	}
}

func TestManager_Start_CreatesContainer(t *testing.T) {
	t.Parallel()

	var (
		gotConfig *container.Config
		gotHost   *container.HostConfig
		gotName   string
		started   string
	)
	api := &fakeDockerAPI{
		createFunc: func(_ context.Context, config *container.Config, hostConfig *container.HostConfig, _ *network.NetworkingConfig, _ *v1.Platform, name string) (container.CreateResponse, error) {
			gotConfig, gotHost, gotName = config, hostConfig, name
			return container.CreateResponse{ID: "abc123"}, nil
		},
		startFunc: func(_ context.Context, id string, _ container.StartOptions) error {
			started = id
			return nil
		},
	}

	h, err := newManagerWithAPI(api, "mcp-net").Start(context.Background(), fetchServer())
	require.NoError(t, err)
	assert.Equal(t, mcpcontainer.Handle{ID: "abc123", Name: "mcpgw-fetch"}, h)
	assert.Equal(t, "abc123", started)

	assert.Equal(t, "mcpgw-fetch", gotName)
	assert.Equal(t, "mcp/fetch:latest", gotConfig.Image)
	assert.Equal(t, []string{"A=1", "B=2"}, gotConfig.Env)
	assert.Equal(t, "fetch", gotConfig.Labels[mcpcontainer.LabelServer])
	assert.Equal(t, "alice", gotConfig.Labels[mcpcontainer.LabelCreatedBy])
	assert.Equal(t, container.RestartPolicyUnlessStopped, gotHost.RestartPolicy.Name)
	assert.Equal(t, container.NetworkMode("mcp-net"), gotHost.NetworkMode)

	port := nat.Port("8080/tcp")
	assert.Contains(t, gotConfig.ExposedPorts, port)
	assert.Equal(t, []nat.PortBinding{{HostPort: "18080"}}, gotHost.PortBindings[port])
}

func TestManager_Start_ReusesRunningContainer(t *testing.T) {
	t.Parallel()

	api := &fakeDockerAPI{
		listFunc: func(context.Context, container.ListOptions) ([]container.Summary, error) {
			return []container.Summary{
				{ID: "other", Names: []string{"/mcpgw-fetch-old"}},
				{ID: "existing", Names: []string{"/mcpgw-fetch"}},
			}, nil
		},
		inspectFunc: func(_ context.Context, id string) (container.InspectResponse, error) {
			return container.InspectResponse{
				ContainerJSONBase: &container.ContainerJSONBase{ID: id, State: &container.State{Running: true}},
				Config:            &container.Config{Image: "mcp/fetch:latest"},
			}, nil
		},
		createFunc: func(context.Context, *container.Config, *container.HostConfig, *network.NetworkingConfig, *v1.Platform, string) (container.CreateResponse, error) {
			return container.CreateResponse{}, errors.New("must not create")
		},
	}

	h, err := newManagerWithAPI(api, "").Start(context.Background(), fetchServer())
	require.NoError(t, err)
	assert.Equal(t, "existing", h.ID)
}

func TestManager_Start_ReplacesStaleContainer(t *testing.T) {
	t.Parallel()

	var removed string
	api := &fakeDockerAPI{
		listFunc: func(context.Context, container.ListOptions) ([]container.Summary, error) {
			return []container.Summary{{ID: "stale", Names: []string{"/mcpgw-fetch"}}}, nil
		},
		inspectFunc: func(_ context.Context, id string) (container.InspectResponse, error) {
			return container.InspectResponse{
				ContainerJSONBase: &container.ContainerJSONBase{ID: id, State: &container.State{Running: false}},
				Config:            &container.Config{Image: "mcp/fetch:old"},
			}, nil
		},
		removeFunc: func(_ context.Context, id string, opts container.RemoveOptions) error {
			removed = id
			assert.True(t, opts.Force)
			return nil
		},
	}

	h, err := newManagerWithAPI(api, "").Start(context.Background(), fetchServer())
	require.NoError(t, err)
	assert.Equal(t, "stale", removed)
	assert.Equal(t, "created-id", h.ID)
}

func TestManager_Start_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		desc   func() *gateway.ServerDescriptor
		api    *fakeDockerAPI
		wantIs error
	}{
		{
			name: "no image",
			desc: func() *gateway.ServerDescriptor {
				d := fetchServer()
				d.DockerImage = ""
				return d
			},
			api:    &fakeDockerAPI{},
			wantIs: gateway.ErrValidation,
		},
		{
			name: "bad port",
			desc: func() *gateway.ServerDescriptor {
				d := fetchServer()
				d.DockerPorts = map[string]int{"http/tcp": 80}
				return d
			},
			api: &fakeDockerAPI{},
		},
		{
			name: "create fails",
			desc: fetchServer,
			api: &fakeDockerAPI{
				createFunc: func(context.Context, *container.Config, *container.HostConfig, *network.NetworkingConfig, *v1.Platform, string) (container.CreateResponse, error) {
					return container.CreateResponse{}, errors.New("no such image")
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := newManagerWithAPI(tt.api, "").Start(context.Background(), tt.desc())
			require.Error(t, err)
			if tt.wantIs != nil {
				require.ErrorIs(t, err, tt.wantIs)
			}
		})
	}
}

func TestManager_Stop(t *testing.T) {
	t.Parallel()

	t.Run("stops and removes", func(t *testing.T) {
		t.Parallel()
		var calls []string
		api := &fakeDockerAPI{
			stopFunc: func(_ context.Context, id string, opts container.StopOptions) error {
				calls = append(calls, "stop:"+id)
				require.NotNil(t, opts.Timeout)
				assert.Equal(t, stopTimeoutSeconds, *opts.Timeout)
				return nil
			},
			removeFunc: func(_ context.Context, id string, _ container.RemoveOptions) error {
				calls = append(calls, "remove:"+id)
				return nil
			},
		}
		require.NoError(t, newManagerWithAPI(api, "").Stop(context.Background(), "fetch"))
		assert.Equal(t, []string{"stop:mcpgw-fetch", "remove:mcpgw-fetch"}, calls)
	})

	t.Run("missing container is not an error", func(t *testing.T) {
		t.Parallel()
		api := &fakeDockerAPI{
			stopFunc: func(context.Context, string, container.StopOptions) error {
				return cerrdefs.ErrNotFound
			},
		}
		require.NoError(t, newManagerWithAPI(api, "").Stop(context.Background(), "fetch"))
	})

	t.Run("daemon failure", func(t *testing.T) {
		t.Parallel()
		api := &fakeDockerAPI{
			stopFunc: func(context.Context, string, container.StopOptions) error {
				return errors.New("daemon down")
			},
		}
		err := newManagerWithAPI(api, "").Stop(context.Background(), "fetch")
		require.Error(t, err)
		var cerr *ContainerError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, "mcpgw-fetch", cerr.Container)
	})
}

func TestManager_Status(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		state       *container.State
		wantRunning bool
		wantHealthy  bool
		wantStarting bool
	}{
		{
			name:        "running without healthcheck",
			state:       &container.State{Running: true, Status: "running", StartedAt: "2025-01-01T00:00:00Z"},
			wantRunning: true,
			wantHealthy: true,
		},
		{
			name: "running but unhealthy",
			state: &container.State{
				Running: true, Status: "running",
				Health: &container.Health{Status: container.Unhealthy},
			},
			wantRunning: true,
			wantHealthy: false,
		},
		{
			name: "running and healthy",
			state: &container.State{
				Running: true, Status: "running",
				Health: &container.Health{Status: container.Healthy},
			},
			wantRunning: true,
			wantHealthy: true,
		},
		{
			name: "running with healthcheck starting",
			state: &container.State{
				Running: true, Status: "running",
				Health: &container.Health{Status: container.Starting},
			},
			wantRunning:  true,
			wantStarting: true,
		},
		{
			name: "exited during healthcheck start period",
			state: &container.State{
				Running: false, Status: "exited",
				Health: &container.Health{Status: container.Starting},
			},
		},
		{
			name:  "exited",
			state: &container.State{Running: false, Status: "exited"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			api := &fakeDockerAPI{
				inspectFunc: func(_ context.Context, id string) (container.InspectResponse, error) {
					assert.Equal(t, "mcpgw-fetch", id)
					return container.InspectResponse{
						ContainerJSONBase: &container.ContainerJSONBase{ID: "abc", State: tt.state},
					}, nil
				},
			}
			st, err := newManagerWithAPI(api, "").Status(context.Background(), "fetch")
			require.NoError(t, err)
			assert.Equal(t, tt.wantRunning, st.Running)
			assert.Equal(t, tt.wantHealthy, st.Healthy)
			assert.Equal(t, tt.wantStarting, st.Starting)
			assert.Equal(t, tt.state.Status, st.State)
		})
	}

	t.Run("not found", func(t *testing.T) {
		t.Parallel()
		api := &fakeDockerAPI{
			inspectFunc: func(context.Context, string) (container.InspectResponse, error) {
				return container.InspectResponse{}, cerrdefs.ErrNotFound
			},
		}
		_, err := newManagerWithAPI(api, "").Status(context.Background(), "fetch")
		require.ErrorIs(t, err, mcpcontainer.ErrContainerNotFound)
	})
}

func TestManager_Logs(t *testing.T) {
	t.Parallel()

	var stream bytes.Buffer
	_, err := stdcopy.NewStdWriter(&stream, stdcopy.Stdout).Write([]byte("listening on :8080\n"))
	require.NoError(t, err)
	_, err = stdcopy.NewStdWriter(&stream, stdcopy.Stderr).Write([]byte("warning: slow\n"))
	require.NoError(t, err)

	api := &fakeDockerAPI{
		logsFunc: func(_ context.Context, id string, opts container.LogsOptions) (io.ReadCloser, error) {
			assert.Equal(t, "mcpgw-fetch", id)
			assert.Equal(t, "25", opts.Tail)
			return io.NopCloser(&stream), nil
		},
	}
	logs, err := newManagerWithAPI(api, "").Logs(context.Background(), "fetch", 25)
	require.NoError(t, err)
	assert.Equal(t, "listening on :8080\nwarning: slow\n", logs)
}

func TestManager_List(t *testing.T) {
	t.Parallel()

	api := &fakeDockerAPI{
		listFunc: func(_ context.Context, opts container.ListOptions) ([]container.Summary, error) {
			assert.True(t, opts.All)
			assert.Equal(t, []string{"mcpgw=true"}, opts.Filters.Get("label"))
			return []container.Summary{
				{Labels: map[string]string{mcpcontainer.LabelServer: "fetch"}},
				{Labels: map[string]string{}},
			}, nil
		},
	}
	names, err := newManagerWithAPI(api, "").List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"fetch"}, names)
}

func TestParsePort(t *testing.T) {
	t.Parallel()

	for spec, want := range map[string]nat.Port{
		"8080":     "8080/tcp",
		"8080/tcp": "8080/tcp",
		"53/udp":   "53/udp",
	} {
		got, err := parsePort(spec)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := parsePort("http")
	assert.Error(t, err)
}
