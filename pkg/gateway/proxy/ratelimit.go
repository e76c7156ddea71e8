// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterIdleTTL    = 10 * time.Minute
	limiterPruneAbove = 1024
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// userLimiter keeps one token bucket per caller subject.
type userLimiter struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu      sync.Mutex
	callers map[string]*limiterEntry
}

func newUserLimiter(perSecond float64, burst int) *userLimiter {
	if perSecond <= 0 {
		return &userLimiter{limit: rate.Inf}
	}
	if burst <= 0 {
		burst = int(math.Ceil(perSecond))
	}
	return &userLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		now:     time.Now,
		callers: make(map[string]*limiterEntry),
	}
}

func (l *userLimiter) allow(subject string) bool {
	if l.limit == rate.Inf {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.callers[subject]
	if !ok {
		if len(l.callers) >= limiterPruneAbove {
			l.pruneLocked(now)
		}
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.callers[subject] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

func (l *userLimiter) pruneLocked(now time.Time) {
	for subject, e := range l.callers {
		if now.Sub(e.lastSeen) > limiterIdleTTL {
			delete(l.callers, subject)
		}
	}
}
