// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package health

import (
	"sort"
	"sync"
	"time"

	"github.com/stacklok/mcpgw/pkg/logger"
)

// State is the health state of an upstream server.
type State string

// Health states.
const (
	StateUnknown   State = "unknown"
	StateHealthy   State = "healthy"
	StateUnhealthy State = "unhealthy"
)

// ServerHealth is the tracked health of one server.
type ServerHealth struct {
	Server              string    `json:"server"`
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastCheck           time.Time `json:"last_check,omitzero"`
	LastTransition      time.Time `json:"last_transition,omitzero"`
	LastError           string    `json:"last_error,omitempty"`
}

// statusTracker tracks health per server. A server becomes unhealthy after
// unhealthyThreshold consecutive failed rounds and healthy again on the
// first successful one.
type statusTracker struct {
	mu                 sync.RWMutex
	states             map[string]*ServerHealth
	unhealthyThreshold int
	now                func() time.Time
}

func newStatusTracker(unhealthyThreshold int, now func() time.Time) *statusTracker {
	if unhealthyThreshold < 1 {
		logger.Warnf("Invalid unhealthyThreshold %d (must be >= 1), adjusting to 1", unhealthyThreshold)
		unhealthyThreshold = 1
	}
	return &statusTracker{
		states:             make(map[string]*ServerHealth),
		unhealthyThreshold: unhealthyThreshold,
		now:                now,
	}
}

func (t *statusTracker) stateLocked(server string) *ServerHealth {
	st, ok := t.states[server]
	if !ok {
		st = &ServerHealth{Server: server, State: StateUnknown}
		t.states[server] = st
	}
	return st
}

func (t *statusTracker) recordSuccess(server string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.stateLocked(server)
	now := t.now()
	st.LastCheck = now
	st.LastError = ""
	if st.State != StateHealthy {
		if st.ConsecutiveFailures > 0 {
			logger.Infof("Server %s recovered after %d consecutive failures", server, st.ConsecutiveFailures)
		}
		st.State = StateHealthy
		st.LastTransition = now
	}
	st.ConsecutiveFailures = 0
}

func (t *statusTracker) recordFailure(server string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.stateLocked(server)
	now := t.now()
	st.LastCheck = now
	st.ConsecutiveFailures++
	if err != nil {
		st.LastError = err.Error()
	}
	if st.State != StateUnhealthy && st.ConsecutiveFailures >= t.unhealthyThreshold {
		logger.Warnf("Server %s marked unhealthy after %d consecutive failures: %v",
			server, st.ConsecutiveFailures, err)
		st.State = StateUnhealthy
		st.LastTransition = now
	}
}

func (t *statusTracker) get(server string) (ServerHealth, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.states[server]
	if !ok {
		return ServerHealth{Server: server, State: StateUnknown}, false
	}
	return *st, true
}

func (t *statusTracker) all() []ServerHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]ServerHealth, 0, len(t.states))
	for _, st := range t.states {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Server < out[j].Server })
	return out
}

func (t *statusTracker) remove(server string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, server)
}
