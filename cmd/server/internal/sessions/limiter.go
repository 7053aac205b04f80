package sessions

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultAcquireTimeout bounds how long a call waits for a free slot.
const DefaultAcquireTimeout = 30 * time.Second

// Limiter caps the number of remote calls in flight across all sessions.
// It holds no session state.
type Limiter struct {
	sem     *semaphore.Weighted
	max     int64
	timeout time.Duration
}

// NewLimiter creates a limiter with maxConcurrent slots. A non-positive timeout
// uses DefaultAcquireTimeout.
func NewLimiter(maxConcurrent int, timeout time.Duration) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if timeout <= 0 {
		timeout = DefaultAcquireTimeout
	}
	return &Limiter{
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		max:     int64(maxConcurrent),
		timeout: timeout,
	}
}

// Acquire blocks until a slot is available, ctx is done or the timeout is reached.
func (l *Limiter) Acquire(ctx context.Context) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	if err := l.sem.Acquire(timeoutCtx, 1); err != nil {
		return fmt.Errorf("failed to acquire remote call slot: %w", err)
	}
	return nil
}

// Release returns a slot. It must follow a successful Acquire.
func (l *Limiter) Release() {
	l.sem.Release(1)
}

// Capacity returns the configured number of slots.
func (l *Limiter) Capacity() int {
	return int(l.max)
}
