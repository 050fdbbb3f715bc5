package locks

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrTimeout is returned when a lock cannot be acquired in time.
var ErrTimeout = errors.New("locks: acquisition timed out")

// maxReaders bounds concurrent readers. A writer acquires the full
// weight, excluding all readers.
const maxReaders = 1 << 30

// RWTimeout is a reader/writer lock whose acquisition is bounded by a
// timeout. It is built on a weighted semaphore: readers take weight 1,
// writers take the full capacity.
//
// Fairness follows the semaphore's FIFO ordering, so a waiting writer
// blocks later readers and cannot be starved.
type RWTimeout struct {
	sem *semaphore.Weighted
}

// NewRWTimeout creates a new timed reader/writer lock.
func NewRWTimeout() *RWTimeout {
	return &RWTimeout{sem: semaphore.NewWeighted(maxReaders)}
}

// RLock acquires the lock in read mode, waiting at most timeout.
func (l *RWTimeout) RLock(timeout time.Duration) error {
	return l.acquire(1, timeout)
}

// RUnlock releases a read acquisition.
func (l *RWTimeout) RUnlock() {
	l.sem.Release(1)
}

// Lock acquires the lock in write mode, waiting at most timeout.
func (l *RWTimeout) Lock(timeout time.Duration) error {
	return l.acquire(maxReaders, timeout)
}

// Unlock releases a write acquisition.
func (l *RWTimeout) Unlock() {
	l.sem.Release(maxReaders)
}

// RLockCtx acquires the lock in read mode, honoring ctx cancellation.
func (l *RWTimeout) RLockCtx(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return ErrTimeout
	}
	return nil
}

// LockCtx acquires the lock in write mode, honoring ctx cancellation.
func (l *RWTimeout) LockCtx(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, maxReaders); err != nil {
		return ErrTimeout
	}
	return nil
}

func (l *RWTimeout) acquire(weight int64, timeout time.Duration) error {
	if timeout <= 0 {
		if l.sem.TryAcquire(weight) {
			return nil
		}
		return ErrTimeout
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := l.sem.Acquire(ctx, weight); err != nil {
		return ErrTimeout
	}
	return nil
}

// Gate bounds the number of operations running concurrently.
type Gate struct {
	sem *semaphore.Weighted
	cap int64
}

// NewGate creates a gate admitting at most n concurrent holders.
func NewGate(n int64) *Gate {
	if n <= 0 {
		n = 1
	}
	return &Gate{sem: semaphore.NewWeighted(n), cap: n}
}

// Enter acquires a slot, waiting at most timeout.
func (g *Gate) Enter(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := g.sem.Acquire(ctx, 1); err != nil {
		return ErrTimeout
	}
	return nil
}

// Leave releases a slot.
func (g *Gate) Leave() {
	g.sem.Release(1)
}

// Cap returns the gate capacity.
func (g *Gate) Cap() int64 {
	return g.cap
}
