// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	trusterrors "github.com/stacklok/trustfed/pkg/errors"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

// DefaultKeyPrefix namespaces limiter keys.
const DefaultKeyPrefix = "trustfed:"

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Address   string
	Username  string
	Password  string
	DB        int
	KeyPrefix string

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RedisLimiter keeps each client's window log in a sorted set so that all
// server replicas share one quota.
type RedisLimiter struct {
	client    redis.UniversalClient
	keyPrefix string
	now       func() time.Time
}

// slidingWindowScript trims the window, checks the count and records the
// request in one atomic step. Scores are unix milliseconds.
// Returns {admitted, count, retry_after_ms}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	return {0, count, tonumber(oldest[2]) + window - now}
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return {1, count + 1, 0}
`)

// NewRedisLimiter connects to Redis and verifies the connection.
func NewRedisLimiter(ctx context.Context, cfg RedisConfig) (*RedisLimiter, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisLimiterWithClient(client, cfg.KeyPrefix), nil
}

// NewRedisLimiterWithClient wraps a pre-configured client.
func NewRedisLimiterWithClient(client redis.UniversalClient, keyPrefix string) *RedisLimiter {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &RedisLimiter{client: client, keyPrefix: keyPrefix, now: time.Now}
}

// Allow implements Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, clientID string, limit int) (int, error) {
	limit = effectiveLimit(limit)

	res, err := slidingWindowScript.Run(ctx, l.client,
		[]string{l.key(clientID)},
		l.now().UnixMilli(),
		Window.Milliseconds(),
		limit,
		uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return 0, trusterrors.NewStorageUnavailableError("rate limit check failed", err)
	}
	if len(res) != 3 {
		return 0, trusterrors.NewStorageUnavailableError(
			fmt.Sprintf("unexpected rate limit reply of length %d", len(res)), nil)
	}

	if res[0] == 0 {
		return 0, trusterrors.NewRateLimitError(clientID, retryAfter(time.Duration(res[2])*time.Millisecond))
	}
	return limit - int(res[1]), nil
}

// Close releases the Redis connection.
func (l *RedisLimiter) Close() error {
	return l.client.Close()
}

func (l *RedisLimiter) key(clientID string) string {
	return l.keyPrefix + "ratelimit:" + clientID
}

var _ Limiter = (*RedisLimiter)(nil)
