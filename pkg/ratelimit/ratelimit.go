// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit enforces per-client hourly quotas with a sliding window
// log. Every admitted request is recorded with its timestamp; a request is
// rejected while the window already holds limit entries.
package ratelimit

import (
	"context"
	"sync"
	"time"

	trusterrors "github.com/stacklok/trustfed/pkg/errors"
	"github.com/stacklok/trustfed/pkg/storage"
)

// Window is the length of the sliding window.
const Window = time.Hour

// Limiter admits or rejects requests for a client.
type Limiter interface {
	// Allow records a request for clientID if fewer than limit requests were
	// admitted in the last Window and returns how many remain. Otherwise it
	// returns a RateLimitExceeded error carrying the time until the oldest
	// entry leaves the window. A limit of zero or less uses
	// storage.DefaultRateLimitPerHour.
	Allow(ctx context.Context, clientID string, limit int) (remaining int, err error)
}

// MemoryLimiter keeps the window log in process memory.
type MemoryLimiter struct {
	mu     sync.Mutex
	logs   map[string][]time.Time
	window time.Duration
	now    func() time.Time
}

// MemoryOption configures a MemoryLimiter.
type MemoryOption func(*MemoryLimiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(l *MemoryLimiter) {
		l.now = now
	}
}

// NewMemoryLimiter creates an in-process limiter.
func NewMemoryLimiter(opts ...MemoryOption) *MemoryLimiter {
	l := &MemoryLimiter{
		logs:   make(map[string][]time.Time),
		window: Window,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow implements Limiter.
func (l *MemoryLimiter) Allow(_ context.Context, clientID string, limit int) (int, error) {
	limit = effectiveLimit(limit)
	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	log := l.logs[clientID]
	drop := 0
	for drop < len(log) && !log[drop].After(cutoff) {
		drop++
	}
	log = log[drop:]

	if len(log) >= limit {
		l.logs[clientID] = log
		return 0, trusterrors.NewRateLimitError(clientID, retryAfter(log[0].Add(l.window).Sub(now)))
	}

	log = append(log, now)
	l.logs[clientID] = log
	return limit - len(log), nil
}

// Reset forgets the window of clientID.
func (l *MemoryLimiter) Reset(clientID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.logs, clientID)
}

func effectiveLimit(limit int) int {
	if limit <= 0 {
		return storage.DefaultRateLimitPerHour
	}
	return limit
}

func retryAfter(d time.Duration) time.Duration {
	if d < time.Millisecond {
		return time.Millisecond
	}
	return d
}

var _ Limiter = (*MemoryLimiter)(nil)
