// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/mcpgw/pkg/gateway"
	"github.com/stacklok/mcpgw/pkg/storage"
)

const serversYAML = `
servers:
  - name: docker/github-mcp
    description: GitHub MCP server
    image: ghcr.io/docker/github-mcp:latest
    transport: stdio
    args: ["--read-only"]
  - name: docker/filesystem-mcp
    description: Filesystem access
    image: ghcr.io/docker/filesystem-mcp:latest
    port: 8080
  - description: entry without a name
    image: nameless:latest
`

const listYAML = `
- name: docker/slack-mcp
  image: ghcr.io/docker/slack-mcp:1.2.0
  transport: sse
  port: 9090
  env:
    SLACK_TOKEN: ${SLACK_TOKEN}
`

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		input     string
		wantNames []string
		wantErr   bool
	}{
		{name: "servers mapping", input: serversYAML, wantNames: []string{"docker/github-mcp", "docker/filesystem-mcp"}},
		{name: "bare list", input: listYAML, wantNames: []string{"docker/slack-mcp"}},
		{name: "empty", input: "  \n", wantNames: nil},
		{name: "scalar", input: "just a string", wantErr: true},
		{name: "malformed", input: "servers: [", wantErr: true},
		{name: "too large", input: strings.Repeat("#", MaxCatalogSize+1), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			entries, err := Parse([]byte(tt.input))
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidCatalog)
				return
			}
			require.NoError(t, err)
			var names []string
			for _, e := range entries {
				names = append(names, e.Name)
			}
			assert.Equal(t, tt.wantNames, names)
		})
	}
}

func TestParse_DefaultsTransport(t *testing.T) {
	t.Parallel()
	entries, err := Parse([]byte(serversYAML))
	require.NoError(t, err)
	assert.Equal(t, "stdio", entries[0].Transport)
	assert.Equal(t, "streamable_http", entries[1].Transport)
}

func TestEntryDescriptor(t *testing.T) {
	t.Parallel()

	t.Run("http with port", func(t *testing.T) {
		t.Parallel()
		e := Entry{Name: "docker/filesystem-mcp", Image: "fs:1", Transport: "streamable_http", Port: 8080}
		desc := e.Descriptor("alice")
		assert.Equal(t, "docker-filesystem-mcp", desc.Name)
		assert.Equal(t, map[string]int{"8080/tcp": 8080}, desc.DockerPorts)
		assert.Equal(t, "http://localhost:8080/mcp", desc.URL)
		assert.Equal(t, "alice", desc.CreatorID)
		assert.False(t, desc.Enabled)
		assert.True(t, desc.ManagedContainer())
		require.NoError(t, desc.Validate())
	})

	t.Run("sse endpoint", func(t *testing.T) {
		t.Parallel()
		e := Entry{Name: "slack", Image: "slack:1", Transport: "sse", Port: 9090, Env: map[string]string{"A": "b"}}
		desc := e.Descriptor("alice")
		assert.Equal(t, "http://localhost:9090/sse", desc.URL)
		desc.Env["A"] = "mutated"
		assert.Equal(t, "b", e.Env["A"])
	})

	t.Run("stdio image", func(t *testing.T) {
		t.Parallel()
		e := Entry{Name: "docker/github-mcp", Image: "gh:1", Transport: "stdio", Args: []string{"--read-only"}}
		desc := e.Descriptor("alice")
		assert.Empty(t, desc.URL)
		assert.Equal(t, []string{"--read-only"}, desc.Args)
		require.NoError(t, desc.Validate())
	})
}

func TestInstall(t *testing.T) {
	t.Parallel()
	store := storage.NewMemoryStore()
	entries := []Entry{
		{Name: "docker/github-mcp", Image: "gh:1", Transport: "stdio"},
		{Name: "no-port", Image: "x:1", Transport: "streamable_http"},
	}

	results := Install(context.Background(), store, entries, "alice")
	require.Len(t, results, 2)
	assert.Empty(t, results[0].Error)
	assert.Equal(t, "docker-github-mcp", results[0].Server)
	assert.Contains(t, results[1].Error, "url is required")

	got, err := store.Get(context.Background(), "docker-github-mcp")
	require.NoError(t, err)
	assert.Equal(t, gateway.TransportStdio, got.Transport)
	assert.False(t, got.Enabled)

	_, err = store.Get(context.Background(), "no-port")
	require.ErrorIs(t, err, storage.ErrNotFound)
}
