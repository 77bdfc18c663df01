// Package ratelimit enforces the minimum interval between attestations from
// one identity. The Redis limiter is authoritative across instances; the
// memory limiter backs tests and single-node runs.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter reports whether an identity may submit another attestation now.
type Limiter interface {
	// Allow returns false while the identity is inside its cooldown.
	Allow(ctx context.Context, identity string) (bool, error)
}

// RedisLimiter implements Limiter with a SET NX PX tombstone per identity, so
// the cooldown is shared by every instance.
type RedisLimiter struct {
	client      *redis.Client
	minInterval time.Duration
}

// NewRedisLimiter builds a Redis-backed limiter.
func NewRedisLimiter(client *redis.Client, minInterval time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, minInterval: minInterval}
}

// Allow implements Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, identity string) (bool, error) {
	ok, err := l.client.SetNX(ctx, "gns:attest:cooldown:"+identity, 1, l.minInterval).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

// MemoryLimiter implements Limiter in process memory.
type MemoryLimiter struct {
	mu          sync.Mutex
	last        map[string]time.Time
	minInterval time.Duration
	now         func() time.Time
}

// NewMemoryLimiter builds an in-process limiter.
func NewMemoryLimiter(minInterval time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		last:        make(map[string]time.Time),
		minInterval: minInterval,
		now:         time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (l *MemoryLimiter) WithClock(now func() time.Time) *MemoryLimiter {
	l.now = now
	return l
}

// Allow implements Limiter.
func (l *MemoryLimiter) Allow(_ context.Context, identity string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if at, ok := l.last[identity]; ok && now.Sub(at) < l.minInterval {
		return false, nil
	}
	l.last[identity] = now
	return true, nil
}
