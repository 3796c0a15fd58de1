// Package ratelimit caps how many chat turns an account may start per minute.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"llm_relay/internal/utils"
)

// Window is the length of the sliding window
const Window = time.Minute

// Limiter is used to enforce per-key rate limits.
type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

// NoopLimiter allows every request.
type NoopLimiter struct{}

func NewNoopLimiter() *NoopLimiter {
	return &NoopLimiter{}
}

func (l *NoopLimiter) Allow(ctx context.Context, key string) bool {
	return true
}

// slidingWindowScript trims the window, admits the request when there is room
// and reports (allowed, count after the call, oldest score in the window).
// Rejected requests are not recorded.
var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local member = ARGV[4]

	redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
	local count = redis.call('ZCARD', key)
	local allowed = 0
	if count < limit then
		redis.call('ZADD', key, now, member)
		count = count + 1
		allowed = 1
	end
	redis.call('PEXPIRE', key, window * 2)

	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	local oldestScore = now
	if oldest[2] then
		oldestScore = tonumber(oldest[2])
	end
	return {allowed, count, oldestScore}
`)

// RateLimiter implements a distributed sliding-window limiter on Redis sorted sets
type RateLimiter struct {
	client *redis.Client
	logger *utils.Logger
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(client *redis.Client) *RateLimiter {
	return &RateLimiter{client: client, logger: utils.NewLogger("ratelimit")}
}

func redisKey(key string) string {
	return "ratelimit:" + key
}

// AllowWithDetails records one request for key when fewer than limit were
// seen in the last Window. It returns the remaining allowance and when the
// oldest counted request leaves the window. A limit <= 0 means unlimited and
// yields remaining = -1 and a zero resetAt.
func (rl *RateLimiter) AllowWithDetails(ctx context.Context, key string, limit int) (allowed bool, remaining int, resetAt time.Time, err error) {
	if limit <= 0 {
		return true, -1, time.Time{}, nil
	}

	now := time.Now().UnixMilli()
	res, err := slidingWindowScript.Run(ctx, rl.client, []string{redisKey(key)},
		now, Window.Milliseconds(), limit, fmt.Sprintf("%d:%s", now, uuid.NewString()),
	).Int64Slice()
	if err != nil {
		return false, 0, time.Time{}, fmt.Errorf("rate limit check failed: %w", err)
	}

	remaining = limit - int(res[1])
	if remaining < 0 {
		remaining = 0
	}
	resetAt = time.UnixMilli(res[2]).Add(Window)
	return res[0] == 1, remaining, resetAt, nil
}

// GetCurrentUsage returns the current request count in the window
func (rl *RateLimiter) GetCurrentUsage(ctx context.Context, key string) (int64, error) {
	k := redisKey(key)
	windowStart := time.Now().Add(-Window).UnixMilli()

	pipe := rl.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, k, "-inf", fmt.Sprintf("%d", windowStart))
	countCmd := pipe.ZCard(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to get current usage: %w", err)
	}
	return countCmd.Val(), nil
}

// Reset clears the window for a key
func (rl *RateLimiter) Reset(ctx context.Context, key string) error {
	return rl.client.Del(ctx, redisKey(key)).Err()
}

// WithLimit binds a fixed per-minute limit, yielding a Limiter. Redis errors
// fail open and are logged.
func (rl *RateLimiter) WithLimit(limit int) Limiter {
	return &fixedLimiter{rl: rl, limit: limit}
}

type fixedLimiter struct {
	rl    *RateLimiter
	limit int
}

func (l *fixedLimiter) Allow(ctx context.Context, key string) bool {
	allowed, _, _, err := l.rl.AllowWithDetails(ctx, key, l.limit)
	if err != nil {
		l.rl.logger.Warn("Rate limiter unavailable, allowing request", "key", key, "error", err)
		return true
	}
	return allowed
}
