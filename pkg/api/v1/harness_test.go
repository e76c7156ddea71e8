// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stacklok/mcpgw/pkg/auth"
	"github.com/stacklok/mcpgw/pkg/container"
	"github.com/stacklok/mcpgw/pkg/gateway"
	"github.com/stacklok/mcpgw/pkg/gateway/health"
	"github.com/stacklok/mcpgw/pkg/gateway/pool"
	"github.com/stacklok/mcpgw/pkg/gateway/toolindex"
	"github.com/stacklok/mcpgw/pkg/storage"
	"github.com/stacklok/mcpgw/pkg/storage/storetest"
)

var (
	alice = &auth.Identity{Subject: "alice"}
	bob   = &auth.Identity{Subject: "bob", Roles: []string{"member"}}
	eve   = &auth.Identity{Subject: "eve"}
	admin = &auth.Identity{Subject: "root", Roles: []string{auth.AdminRole}}
)

type toolSession struct {
	tools []gateway.Tool
}

func (toolSession) Ping(context.Context) error { return nil }
func (s toolSession) ListTools(context.Context) ([]gateway.Tool, error) {
	return s.tools, nil
}
func (toolSession) Forward(context.Context, *gateway.RPCRequest) ([]byte, error) {
	return []byte(`{"jsonrpc":"2.0","id":1,"result":{}}`), nil
}
func (toolSession) InitializeResult() json.RawMessage { return nil }
func (toolSession) Alive() bool                       { return true }
func (toolSession) Close() error                      { return nil }

type staticMounts []string

func (m staticMounts) Mounts() []string { return m }

type harness struct {
	store   storage.ServerStore
	pool    *pool.Pool
	checker *health.Checker
	index   *toolindex.Index
	handler http.Handler
}

// newHarness wires the API to real components. Every server advertises one
// tool named "<server>_lookup".
func newHarness(t *testing.T, containers container.Manager, mounts ...string) *harness {
	t.Helper()

	store := storage.NewMemoryStore()
	p, err := pool.New(store, pool.DialerFunc(func(_ context.Context, d *gateway.ServerDescriptor) (pool.Session, error) {
		return toolSession{tools: []gateway.Tool{{Name: d.Name + "_lookup", Description: "Look things up in " + d.Name}}}, nil
	}), pool.Config{})
	require.NoError(t, err)
	t.Cleanup(p.CloseAll)

	checker := health.NewChecker(p, store, containers, health.Config{})
	index := toolindex.New(p, staticMounts(mounts), toolindex.Config{})
	t.Cleanup(index.Close)

	h := &harness{store: store, pool: p, checker: checker, index: index}
	h.handler = Router(Deps{Store: store, Pool: p, Health: checker, Tools: index, Containers: containers})
	return h
}

func (h *harness) seed(t *testing.T, descs ...*gateway.ServerDescriptor) {
	t.Helper()
	for _, d := range descs {
		_, err := h.store.Upsert(context.Background(), d)
		require.NoError(t, err)
	}
}

func do(t *testing.T, h http.Handler, caller *auth.Identity, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if caller != nil {
		req = req.WithContext(auth.WithIdentity(req.Context(), caller))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func httpServer(name, creator string) *gateway.ServerDescriptor {
	return storetest.HTTPServer(name, creator)
}
