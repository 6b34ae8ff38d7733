// Copyright (c) 2026, the keygate contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package ratelimit

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore keeps fixed-window counters in Redis so the limit holds
// across instances. The window lives exactly as long as its key: the first
// increment sets the expiry, and Redis expiry replaces the in-memory
// sweep.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "keygate:rl:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (int, time.Time, error) {
	redisKey := s.prefix + key

	count, err := s.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return 0, time.Time{}, err
	}

	if count == 1 {
		if err := s.client.Expire(ctx, redisKey, window).Err(); err != nil {
			return 0, time.Time{}, err
		}
		return int(count), time.Now(), nil
	}

	remaining, err := s.client.TTL(ctx, redisKey).Result()
	if err != nil {
		return 0, time.Time{}, err
	}
	if remaining < 0 {
		// Expiry got lost (e.g. a crash between INCR and EXPIRE);
		// start a fresh window rather than counting forever.
		if err := s.client.Expire(ctx, redisKey, window).Err(); err != nil {
			return 0, time.Time{}, err
		}
		remaining = window
	}

	windowStart := time.Now().Add(remaining - window)

	return int(count), windowStart, nil
}
