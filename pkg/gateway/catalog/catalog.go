// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package catalog imports server definitions exported from a Docker MCP
// catalog (`docker mcp catalog show <name>`).
package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/stacklok/toolhive-core/httperr"
	"gopkg.in/yaml.v3"

	"github.com/stacklok/mcpgw/pkg/gateway"
	"github.com/stacklok/mcpgw/pkg/logger"
)

// MaxCatalogSize is the largest catalog document accepted.
const MaxCatalogSize = 1 << 20

// ErrInvalidCatalog indicates a catalog document that could not be parsed.
var ErrInvalidCatalog = httperr.WithCode(errors.New("invalid catalog"), http.StatusBadRequest)

// Entry is one catalog server.
type Entry struct {
	Name        string            `yaml:"name" json:"name"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	Image       string            `yaml:"image,omitempty" json:"image,omitempty"`
	Transport   string            `yaml:"transport,omitempty" json:"transport,omitempty"`
	Port        int               `yaml:"port,omitempty" json:"port,omitempty"`
	Env         map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	Args        []string          `yaml:"args,omitempty" json:"args,omitempty"`
}

type document struct {
	Servers []Entry `yaml:"servers"`
}

// Parse reads a catalog given either as `servers: [...]` or as a bare list.
// Entries without a name are skipped. Missing transports default to
// streamable_http.
func Parse(data []byte) ([]Entry, error) {
	if len(data) > MaxCatalogSize {
		return nil, fmt.Errorf("%w: document exceeds %d bytes", ErrInvalidCatalog, MaxCatalogSize)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	var raw []Entry
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCatalog, err)
	}
	if len(node.Content) == 0 {
		return nil, nil
	}
	switch root := node.Content[0]; root.Kind {
	case yaml.SequenceNode:
		if err := root.Decode(&raw); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCatalog, err)
		}
	case yaml.MappingNode:
		var doc document
		if err := root.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCatalog, err)
		}
		raw = doc.Servers
	default:
		return nil, fmt.Errorf("%w: expected a list or a servers mapping", ErrInvalidCatalog)
	}

	entries := make([]Entry, 0, len(raw))
	for _, e := range raw {
		if strings.TrimSpace(e.Name) == "" {
			logger.Debugf("Skipping catalog entry without name (image %q)", e.Image)
			continue
		}
		if e.Transport == "" {
			e.Transport = string(gateway.TransportStreamableHTTP)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// ServerName turns a catalog name such as "docker/github-mcp" into a valid
// server name ("docker-github-mcp").
func ServerName(catalogName string) string {
	return strings.NewReplacer("/", "-", ":", "-", " ", "-").Replace(strings.TrimSpace(catalogName))
}

// Descriptor converts the entry into a disabled server descriptor owned by
// creator. HTTP servers with a port are reached on localhost.
func (e *Entry) Descriptor(creator string) *gateway.ServerDescriptor {
	desc := &gateway.ServerDescriptor{
		Name:        ServerName(e.Name),
		Transport:   gateway.TransportType(e.Transport),
		Description: e.Description,
		DockerImage: e.Image,
		Args:        slices.Clone(e.Args),
		Env:         maps.Clone(e.Env),
		CreatorID:   creator,
	}
	if e.Port > 0 {
		desc.DockerPorts = map[string]int{strconv.Itoa(e.Port) + "/tcp": e.Port}
		if desc.Transport.IsHTTP() {
			path := "/mcp"
			if desc.Transport == gateway.TransportSSE {
				path = "/sse"
			}
			desc.URL = "http://localhost:" + strconv.Itoa(e.Port) + path
		}
	}
	return desc
}

// Store is where imported descriptors are written.
type Store interface {
	Upsert(ctx context.Context, desc *gateway.ServerDescriptor) (*gateway.ServerDescriptor, error)
}

// Result reports the outcome of installing one entry.
type Result struct {
	Name   string `json:"name"`
	Server string `json:"server"`
	Error  string `json:"error,omitempty"`
}

// Install upserts every entry. Invalid entries are reported and skipped;
// the others are still installed.
func Install(ctx context.Context, store Store, entries []Entry, creator string) []Result {
	results := make([]Result, 0, len(entries))
	for i := range entries {
		desc := entries[i].Descriptor(creator)
		res := Result{Name: entries[i].Name, Server: desc.Name}
		if _, err := store.Upsert(ctx, desc); err != nil {
			res.Error = err.Error()
			logger.Warnf("Failed to install catalog entry %s: %v", entries[i].Name, err)
		}
		results = append(results, res)
	}
	return results
}
