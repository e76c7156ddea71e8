// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/mcpgw/pkg/auth"
	"github.com/stacklok/mcpgw/pkg/container"
	cmocks "github.com/stacklok/mcpgw/pkg/container/mocks"
	"github.com/stacklok/mcpgw/pkg/gateway"
	"github.com/stacklok/mcpgw/pkg/logger"
	"github.com/stacklok/mcpgw/pkg/storage"
	smocks "github.com/stacklok/mcpgw/pkg/storage/mocks"
)

const searchBody = `{"name":"search","transport":"streamable_http","url":"http://search:8080/mcp",` +
	`"required_roles":["member"],"env":{"API_KEY":"s3cret"},"enabled":true}`

func TestServersRouter_Create(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)

	rec := do(t, h.handler, alice, http.MethodPost, "/servers", searchBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[gateway.ServerDescriptor](t, rec)
	assert.Equal(t, "alice", created.CreatorID)
	assert.False(t, created.CreatedAt.IsZero())

	rec = do(t, h.handler, bob, http.MethodPost, "/servers", searchBody)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h.handler, alice, http.MethodPost, "/servers", `{"name":"broken","transport":"sse"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "url is required")

	rec = do(t, h.handler, alice, http.MethodPost, "/servers", `{"name":"x","unknown":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h.handler, nil, http.MethodPost, "/servers", searchBody)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServersRouter_Access(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	rec := do(t, h.handler, alice, http.MethodPost, "/servers", searchBody)
	require.Equal(t, http.StatusCreated, rec.Code)

	tests := []struct {
		name       string
		caller     *auth.Identity
		method     string
		path       string
		body       string
		wantStatus int
		wantEnv    string
	}{
		{name: "creator reads secrets", caller: alice, method: http.MethodGet, path: "/servers/search",
			wantStatus: http.StatusOK, wantEnv: "s3cret"},
		{name: "member reads redacted", caller: bob, method: http.MethodGet, path: "/servers/search",
			wantStatus: http.StatusOK, wantEnv: redacted},
		{name: "admin reads secrets", caller: admin, method: http.MethodGet, path: "/servers/search",
			wantStatus: http.StatusOK, wantEnv: "s3cret"},
		{name: "outsider sees not found", caller: eve, method: http.MethodGet, path: "/servers/search",
			wantStatus: http.StatusNotFound},
		{name: "outsider status sees not found", caller: eve, method: http.MethodGet, path: "/servers/search/status",
			wantStatus: http.StatusNotFound},
		{name: "outsider delete sees not found", caller: eve, method: http.MethodDelete, path: "/servers/search",
			wantStatus: http.StatusNotFound},
		{name: "missing server", caller: admin, method: http.MethodGet, path: "/servers/nope",
			wantStatus: http.StatusNotFound},
		{name: "member cannot update", caller: bob, method: http.MethodPut, path: "/servers/search",
			body: searchBody, wantStatus: http.StatusForbidden},
		{name: "member cannot delete", caller: bob, method: http.MethodDelete, path: "/servers/search",
			wantStatus: http.StatusForbidden},
		{name: "update name mismatch", caller: alice, method: http.MethodPut, path: "/servers/search",
			body: `{"name":"other","transport":"stdio","command":"run"}`, wantStatus: http.StatusBadRequest},
		{name: "member cannot read logs", caller: bob, method: http.MethodGet, path: "/servers/search/logs",
			wantStatus: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := do(t, h.handler, tt.caller, tt.method, tt.path, tt.body)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantEnv != "" {
				got := decode[gateway.ServerDescriptor](t, rec)
				assert.Equal(t, tt.wantEnv, got.Env["API_KEY"])
			}
		})
	}
}

func TestServersRouter_ReadDenialMatchesMissing(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.seed(t, httpServer("search", "alice"))

	for _, path := range []string{"/servers/%s", "/servers/%s/status", "/servers/%s/logs"} {
		hidden := do(t, h.handler, eve, http.MethodGet, fmt.Sprintf(path, "search"), "")
		missing := do(t, h.handler, eve, http.MethodGet, fmt.Sprintf(path, "nope"), "")
		assert.Equal(t, http.StatusNotFound, hidden.Code, path)
		assert.Equal(t, missing.Code, hidden.Code, path)
		assert.Equal(t,
			strings.ReplaceAll(missing.Body.String(), "nope", "search"),
			hidden.Body.String(), path)
	}
}

func TestServersRouter_ConcurrentCreateHasOneOwner(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	handler := ServersRouter(&slowCreateStore{ServerStore: h.store, delay: 50 * time.Millisecond},
		h.pool, h.checker, container.NoopManager{})

	callers := []*auth.Identity{alice, eve}
	bodies := []string{
		searchBody,
		`{"name":"search","transport":"streamable_http","url":"http://attacker:8080/mcp","enabled":true}`,
	}
	codes := make([]int, len(callers))

	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i > 0 {
				time.Sleep(10 * time.Millisecond)
			}
			codes[i] = do(t, handler, callers[i], http.MethodPost, "/", bodies[i]).Code
		}()
	}
	wg.Wait()

	assert.Equal(t, []int{http.StatusCreated, http.StatusConflict}, codes)
	stored, err := h.store.Get(t.Context(), "search")
	require.NoError(t, err)
	assert.Equal(t, "alice", stored.CreatorID)
	assert.Equal(t, "http://search:8080/mcp", stored.URL)
}

// slowCreateStore widens the window between a create request arriving and
// the store deciding it.
type slowCreateStore struct {
	storage.ServerStore
	delay time.Duration
}

func (s *slowCreateStore) Get(ctx context.Context, name string) (*gateway.ServerDescriptor, error) {
	time.Sleep(s.delay)
	return s.ServerStore.Get(ctx, name)
}

func (s *slowCreateStore) Create(ctx context.Context, desc *gateway.ServerDescriptor) (*gateway.ServerDescriptor, error) {
	time.Sleep(s.delay)
	return s.ServerStore.Create(ctx, desc)
}

func TestServersRouter_UpdateAndDelete(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.seed(t, httpServer("search", "alice"))

	rec := do(t, h.handler, admin, http.MethodPut, "/servers/search",
		`{"transport":"stdio","command":"search-mcp","enabled":false}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[gateway.ServerDescriptor](t, rec)
	assert.Equal(t, "search", updated.Name)
	assert.Equal(t, "alice", updated.CreatorID)
	assert.Equal(t, gateway.TransportStdio, updated.Transport)
	assert.False(t, updated.Enabled)

	rec = do(t, h.handler, alice, http.MethodDelete, "/servers/search", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h.handler, alice, http.MethodGet, "/servers/search", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServersRouter_List(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	open := httpServer("open", "carol")
	open.RequiredRoles = nil
	private := httpServer("private", "carol")
	private.RequiredRoles = []string{"ops"}
	disabled := httpServer("disabled", "eve")
	disabled.Enabled = false
	h.seed(t, httpServer("search", "alice"), open, private, disabled)

	tests := []struct {
		name   string
		caller *auth.Identity
		query  string
		want   []string
	}{
		{name: "admin sees all", caller: admin, want: []string{"disabled", "open", "private", "search"}},
		{name: "member", caller: bob, want: []string{"open", "search"}},
		{name: "creator sees own disabled", caller: eve, want: []string{"disabled", "open"}},
		{name: "enabled only", caller: admin, query: "?enabled=true", want: []string{"open", "private", "search"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := do(t, h.handler, tt.caller, http.MethodGet, "/servers"+tt.query, "")
			require.Equal(t, http.StatusOK, rec.Code)
			resp := decode[serverListResponse](t, rec)
			var names []string
			for _, d := range resp.Servers {
				names = append(names, d.Name)
			}
			assert.Equal(t, tt.want, names)
		})
	}
}

func TestServersRouter_StoreFailureIsHidden(t *testing.T) {
	t.Parallel()
	logger.Initialize()

	ctrl := gomock.NewController(t)
	store := smocks.NewMockServerStore(ctrl)
	store.EXPECT().List(gomock.Any(), gomock.Any()).Return(nil, errors.New("redis: connection refused"))

	h := ServersRouter(store, nil, nil, container.NoopManager{})
	rec := do(t, h, admin, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "redis")
}

func TestServersRouter_StatusAndLogs(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	containers := cmocks.NewMockManager(ctrl)
	h := newHarness(t, containers)

	managed := httpServer("browser", "alice")
	managed.DockerImage = "mcp/browser:1"
	managed.DockerPorts = map[string]int{"8080/tcp": 18080}
	h.seed(t, managed, httpServer("search", "alice"))

	conn, err := h.pool.Acquire(t.Context(), "browser")
	require.NoError(t, err)
	h.pool.Release(conn)

	containers.EXPECT().Status(gomock.Any(), "browser").
		Return(container.Status{ID: "abc", Running: true, Healthy: true, State: "running"}, nil)
	rec := do(t, h.handler, alice, http.MethodGet, "/servers/browser/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[serverStatusResponse](t, rec)
	assert.Equal(t, 1, st.Connections)
	assert.Equal(t, "unknown", string(st.Health.State))
	require.NotNil(t, st.Container)
	assert.True(t, st.Container.Running)

	rec = do(t, h.handler, alice, http.MethodGet, "/servers/search/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decode[serverStatusResponse](t, rec).Container)

	containers.EXPECT().Logs(gomock.Any(), "browser", 20).Return("listening on :8080\n", nil)
	rec = do(t, h.handler, alice, http.MethodGet, "/servers/browser/logs?tail=20", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "listening on :8080\n", rec.Body.String())

	rec = do(t, h.handler, alice, http.MethodGet, "/servers/browser/logs?tail=0", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h.handler, alice, http.MethodGet, "/servers/search/logs", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
