// Copyright (c) 2026, the keygate contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *MemoryStore {
	t.Helper()

	store := NewMemoryStore(time.Minute, time.Hour)
	t.Cleanup(store.Close)
	return store
}

func TestLimiterAllowsUpToLimit(t *testing.T) {
	t.Parallel()

	limiter := NewLimiter(newTestStore(t), 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := limiter.Allow(ctx, "ip:1.2.3.4")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "attempt %d should be admitted", i+1)
		assert.Equal(t, 3, res.Limit)
		assert.Equal(t, 2-i, res.Remaining)
	}

	res, err := limiter.Allow(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.GreaterOrEqual(t, res.RetryAfter, time.Second)
	assert.False(t, res.Reset.IsZero())
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	t.Parallel()

	limiter := NewLimiter(newTestStore(t), 1, time.Minute)
	ctx := context.Background()

	res, err := limiter.Allow(ctx, "ip:1.1.1.1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = limiter.Allow(ctx, "ip:1.1.1.1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	// A different key gets its own window.
	res, err = limiter.Allow(ctx, "ip:2.2.2.2")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestLimiterWindowResets(t *testing.T) {
	t.Parallel()

	limiter := NewLimiter(newTestStore(t), 1, 50*time.Millisecond)
	ctx := context.Background()

	res, err := limiter.Allow(ctx, "key")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = limiter.Allow(ctx, "key")
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	time.Sleep(60 * time.Millisecond)

	res, err = limiter.Allow(ctx, "key")
	require.NoError(t, err)
	assert.True(t, res.Allowed, "a fresh window should admit again")
}

func TestLimiterConcurrentAttemptsNeverOvershoot(t *testing.T) {
	t.Parallel()

	limiter := NewLimiter(newTestStore(t), 10, time.Minute)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := limiter.Allow(ctx, "shared")
			require.NoError(t, err)
			if res.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, allowed)
}

func TestMemoryStoreSweepRemovesStaleWindows(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore(50*time.Millisecond, time.Hour)
	t.Cleanup(store.Close)

	ctx := context.Background()
	_, _, err := store.Increment(ctx, "stale", 50*time.Millisecond)
	require.NoError(t, err)
	_, _, err = store.Increment(ctx, "other", 50*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, 2, store.len())

	store.sweep(time.Now().Add(time.Minute))

	assert.Equal(t, 0, store.len())
}

func TestMemoryStoreSweepKeepsLiveWindows(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore(time.Minute, time.Hour)
	t.Cleanup(store.Close)

	_, _, err := store.Increment(context.Background(), "live", time.Minute)
	require.NoError(t, err)

	store.sweep(time.Now())

	assert.Equal(t, 1, store.len())
}

func TestMemoryStoreCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore(time.Minute, time.Hour)
	store.Close()
	store.Close()
}
