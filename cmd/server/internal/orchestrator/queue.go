package orchestrator

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed is returned by Push after Close.
var ErrQueueClosed = errors.New("orchestrator: queue closed")

// SafeQueue is a bounded FIFO that can be closed while producers are blocked.
type SafeQueue[T any] struct {
	ch      chan T
	closing chan struct{}
	mu      sync.RWMutex
	closed  bool
	once    sync.Once
}

func NewSafeQueue[T any](size int) *SafeQueue[T] {
	return &SafeQueue[T]{ch: make(chan T, size), closing: make(chan struct{})}
}

// Push blocks until v is queued, ctx is done or the queue is closed.
func (q *SafeQueue[T]) Push(ctx context.Context, v T) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- v:
		return nil
	case <-q.closing:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *SafeQueue[T]) Pop() (T, bool) { v, ok := <-q.ch; return v, ok }

// Close stops new pushes and releases blocked producers; queued items can still be popped.
func (q *SafeQueue[T]) Close() {
	q.once.Do(func() {
		close(q.closing)
		q.mu.Lock()
		q.closed = true
		close(q.ch)
		q.mu.Unlock()
	})
}

func (q *SafeQueue[T]) Len() int { return len(q.ch) }
