// Package locking serializes turns on the same conversation across relay
// instances with short-lived Redis locks.
package locking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLocked is returned when another turn already holds the lock
var ErrLocked = errors.New("conversation is busy")

// releaseScript deletes the key only when it still carries our token, so an
// expired lock re-acquired by someone else is left alone.
var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// Locker hands out per-key locks
type Locker interface {
	Acquire(ctx context.Context, key string) (Lock, error)
}

// Lock is a held lock
type Lock interface {
	Release(ctx context.Context) error
}

// RedisLocker implements Locker with SET NX PX
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLocker creates a locker whose locks expire after ttl if never released
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl}
}

// Acquire takes the lock for key or returns ErrLocked
func (l *RedisLocker) Acquire(ctx context.Context, key string) (Lock, error) {
	k := "lock:" + key
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, k, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return &redisLock{client: l.client, key: k, token: token}, nil
}

type redisLock struct {
	client *redis.Client
	key    string
	token  string
}

func (l *redisLock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// NoopLocker never contends. It backs single-instance deployments without Redis.
type NoopLocker struct{}

func (NoopLocker) Acquire(ctx context.Context, key string) (Lock, error) {
	return noopLock{}, nil
}

type noopLock struct{}

func (noopLock) Release(ctx context.Context) error { return nil }
