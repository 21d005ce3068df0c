// Package lock tracks which tenants currently have a session initializing.
// The in-memory Locker is enough for a single replica; RedisLocker shares the
// set across replicas.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "relay:initializing:"

// Locker manages per-tenant initializing flags.
type Locker interface {
	// Acquire marks tenantID as initializing. Returns false if it already was.
	Acquire(ctx context.Context, tenantID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, tenantID string) error
	Held(ctx context.Context, tenantID string) (bool, error)
}

// RedisLocker implements Locker using Redis SET NX EX
type RedisLocker struct {
	rdb *redis.Client
}

func NewRedis(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{rdb: rdb}
}

// Acquire tries to set the initializing flag for tenantID.
// Returns true if acquired, false if already held by another caller.
func (l *RedisLocker) Acquire(ctx context.Context, tenantID string, ttl time.Duration) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, keyPrefix+tenantID, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis SetNX: %w", err)
	}
	return ok, nil
}

// Release clears the initializing flag for tenantID
func (l *RedisLocker) Release(ctx context.Context, tenantID string) error {
	return l.rdb.Del(ctx, keyPrefix+tenantID).Err()
}

func (l *RedisLocker) Held(ctx context.Context, tenantID string) (bool, error) {
	n, err := l.rdb.Exists(ctx, keyPrefix+tenantID).Result()
	if err != nil {
		return false, fmt.Errorf("redis Exists: %w", err)
	}
	return n > 0, nil
}

// MemoryLocker is a process-local Locker. Flags expire after their ttl so a
// crashed initialization cannot block a tenant forever.
type MemoryLocker struct {
	locks map[string]time.Time
	mu    chan struct{}
	now   func() time.Time
}

func NewMemory() *MemoryLocker {
	m := &MemoryLocker{
		locks: make(map[string]time.Time),
		mu:    make(chan struct{}, 1),
		now:   time.Now,
	}
	m.mu <- struct{}{}
	return m
}

// heldLocked reports whether tenantID holds an unexpired flag. Caller holds mu.
func (m *MemoryLocker) heldLocked(tenantID string) bool {
	exp, ok := m.locks[tenantID]
	if !ok {
		return false
	}
	if !exp.IsZero() && !m.now().Before(exp) {
		delete(m.locks, tenantID)
		return false
	}
	return true
}

func (m *MemoryLocker) Acquire(_ context.Context, tenantID string, ttl time.Duration) (bool, error) {
	<-m.mu
	defer func() { m.mu <- struct{}{} }()
	if m.heldLocked(tenantID) {
		return false, nil
	}
	var exp time.Time
	if ttl > 0 {
		exp = m.now().Add(ttl)
	}
	m.locks[tenantID] = exp
	return true, nil
}

func (m *MemoryLocker) Release(_ context.Context, tenantID string) error {
	<-m.mu
	defer func() { m.mu <- struct{}{} }()
	delete(m.locks, tenantID)
	return nil
}

func (m *MemoryLocker) Held(_ context.Context, tenantID string) (bool, error) {
	<-m.mu
	defer func() { m.mu <- struct{}{} }()
	return m.heldLocked(tenantID), nil
}
