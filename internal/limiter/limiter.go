// Package limiter bounds concurrent outbound model calls so one burst of
// traffic cannot exhaust the API quota for the whole process.
package limiter

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// Limiter is a fair, process-wide slot pool for outbound transport calls.
// Waiters are served in FIFO order; a cancelled waiter leaves the queue
// without consuming a slot.
type Limiter struct {
	sem  *semaphore.Weighted
	size int64
}

// New creates a limiter with the given number of slots.
func New(size int) *Limiter {
	if size <= 0 {
		size = 1
	}
	return &Limiter{sem: semaphore.NewWeighted(int64(size)), size: int64(size)}
}

// Acquire blocks until a slot is available or ctx is done. Every successful
// Acquire must be paired with Release on all exit paths.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("limiter: %w", err)
	}
	return nil
}

// Release returns a slot to the pool.
func (l *Limiter) Release() { l.sem.Release(1) }

// Size reports the configured slot count.
func (l *Limiter) Size() int { return int(l.size) }
