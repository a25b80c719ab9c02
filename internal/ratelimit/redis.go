package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisLimiter keeps each key's window in a sorted set scored by request
// time, so every gateway replica sharing the Redis sees the same window.
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
	owned  bool
	now    func() time.Time
}

var _ Limiter = (*RedisLimiter)(nil)

// RedisOption configures a RedisLimiter.
type RedisOption func(*RedisLimiter)

// WithKeyPrefix sets the key prefix (default "ratelimit:").
func WithKeyPrefix(prefix string) RedisOption {
	return func(rl *RedisLimiter) { rl.prefix = prefix }
}

// NewRateLimiter connects to redisURL and returns a limiter that owns the
// connection.
func NewRateLimiter(redisURL string, opts ...RedisOption) (*RedisLimiter, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	rl := NewRedisLimiter(redis.NewClient(opt), opts...)
	rl.owned = true
	return rl, nil
}

// NewRedisLimiter creates a limiter on an existing client.
func NewRedisLimiter(client redis.UniversalClient, opts ...RedisOption) *RedisLimiter {
	rl := &RedisLimiter{
		client: client,
		prefix: "ratelimit:",
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// slidingWindowScript prunes, counts and conditionally records in one step.
// KEYS[1] = window key
// ARGV[1] = now (unix ms)
// ARGV[2] = window (ms)
// ARGV[3] = limit
// ARGV[4] = unique member for this request
//
// Returns {allowed, count, oldest_ms}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window)

local count = redis.call("ZCARD", key)
if count >= limit then
    local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
    local oldest_ms = now
    if oldest[2] then
        oldest_ms = tonumber(oldest[2])
    end
    return {0, count, oldest_ms}
end

redis.call("ZADD", key, now, ARGV[4])
redis.call("PEXPIRE", key, window)
return {1, count + 1, 0}
`)

func (rl *RedisLimiter) Allow(ctx context.Context, key string, limit int) (Decision, error) {
	now := rl.now().UnixMilli()
	windowMs := Window.Milliseconds()
	member := fmt.Sprintf("%d-%s", now, uuid.NewString())

	res, err := slidingWindowScript.Run(ctx, rl.client,
		[]string{rl.prefix + key},
		now, windowMs, limit, member,
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: allow: %w", err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("ratelimit: unexpected script reply %v", res)
	}

	count := int(res[1])
	d := Decision{
		Allowed:   res[0] == 1,
		Limit:     limit,
		Remaining: max(limit-count, 0),
	}
	if !d.Allowed {
		d.RetryAfter = time.Duration(res[2]+windowMs-now) * time.Millisecond
	}
	return d, nil
}

// Close releases the connection when the limiter created it.
func (rl *RedisLimiter) Close() error {
	if !rl.owned {
		return nil
	}
	return rl.client.Close()
}
