// Copyright (c) 2026, the keygate contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package ratelimit implements the fixed-window admission guard in front
// of the activation endpoints. Counters live in a pluggable store: an
// in-process map by default, or Redis when limits must hold across
// multiple instances.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Result reports the outcome of one admission check.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	Reset      time.Time
}

// Store is the increment-and-check contract. Increment must atomically
// bump the counter for key inside its current window, resetting the
// window first when it has elapsed, and return the post-increment count
// together with the window start.
type Store interface {
	Increment(ctx context.Context, key string, window time.Duration) (count int, windowStart time.Time, err error)
}

// Limiter applies a fixed-window limit per client identifier.
type Limiter struct {
	store  Store
	limit  int
	window time.Duration
}

func NewLimiter(store Store, limit int, window time.Duration) *Limiter {
	return &Limiter{store: store, limit: limit, window: window}
}

func (l *Limiter) Limit() int {
	return l.limit
}

// Allow counts one attempt for key and reports whether it is admitted.
// A rejection carries the remaining window time as a retry hint.
func (l *Limiter) Allow(ctx context.Context, key string) (Result, error) {
	count, windowStart, err := l.store.Increment(ctx, key, l.window)
	if err != nil {
		return Result{}, err
	}

	reset := windowStart.Add(l.window)
	remaining := l.limit - count
	if remaining < 0 {
		remaining = 0
	}

	if count > l.limit {
		retryAfter := time.Until(reset)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		return Result{
			Allowed:    false,
			Limit:      l.limit,
			Remaining:  0,
			RetryAfter: retryAfter,
			Reset:      reset,
		}, nil
	}

	return Result{
		Allowed:   true,
		Limit:     l.limit,
		Remaining: remaining,
		Reset:     reset,
	}, nil
}

type windowEntry struct {
	windowStart time.Time
	count       int
}

// MemoryStore keeps fixed-window counters in process memory. Best-effort
// protection only: state does not survive restarts or span instances.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*windowEntry

	maxWindow time.Duration
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewMemoryStore creates a store that sweeps windows older than maxWindow
// every sweepInterval to bound memory.
func NewMemoryStore(maxWindow, sweepInterval time.Duration) *MemoryStore {
	s := &MemoryStore{
		entries:   make(map[string]*windowEntry),
		maxWindow: maxWindow,
		stop:      make(chan struct{}),
	}

	go s.sweepLoop(sweepInterval)

	return s
}

func (s *MemoryStore) Increment(_ context.Context, key string, window time.Duration) (int, time.Time, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || now.Sub(entry.windowStart) > window {
		entry = &windowEntry{windowStart: now}
		s.entries[key] = entry
	}

	entry.count++

	return entry.count, entry.windowStart, nil
}

func (s *MemoryStore) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep(time.Now())
		case <-s.stop:
			return
		}
	}
}

// sweep removes windows older than the longest configured window. It holds
// the same lock as Increment, so a concurrent attempt is either counted in
// a surviving window or lands after the delete and starts a fresh one;
// counted attempts are never silently dropped.
func (s *MemoryStore) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, entry := range s.entries {
		if now.Sub(entry.windowStart) > s.maxWindow {
			delete(s.entries, key)
			removed++
		}
	}

	if removed > 0 {
		log.Trace().Int("removed", removed).Msg("Swept stale rate limit windows")
	}
}

func (s *MemoryStore) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *MemoryStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
