// Package lock provides the leader lock used to coordinate background
// maintenance across gateway instances. A single-node deployment uses the
// in-memory locker; multi-instance deployments share a Redis-based lock so
// only one instance reaps expired credential mappings at a time.
package lock

import (
	"context"
	"sync"
	"time"
)

// Locker is a TTL-based advisory lock. Acquire returns false without
// error when another holder owns the key.
type Locker interface {
	// Acquire attempts to take the lock. The lock expires automatically
	// after ttl if not released.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Release gives the lock up. Releasing a key held by another owner
	// is a no-op.
	Release(ctx context.Context, key string) error
}

// MemoryLocker is a process-local Locker for single-node deployments.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]time.Time
}

// NewMemoryLocker creates an in-memory locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]time.Time)}
}

// Acquire takes the lock if it is free or its previous holder expired.
func (m *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if expiry, held := m.locks[key]; held && now.Before(expiry) {
		return false, nil
	}
	m.locks[key] = now.Add(ttl)
	return true, nil
}

// Release frees the lock.
func (m *MemoryLocker) Release(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, key)
	return nil
}
