// Package sink delivers per-chunk results to the surrounding system.
package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/houzhh15/consultscribe/cmd/server/internal/models"
)

// Sink receives one ChunkResult per processed chunk, in chunk order per session.
type Sink interface {
	Emit(ctx context.Context, result models.ChunkResult) error
	Name() string
}

// Fanout emits to every sink and joins their errors.
type Fanout []Sink

// Emit 依次写入所有 sink，单个失败不影响其它 sink
func (f Fanout) Emit(ctx context.Context, result models.ChunkResult) error {
	var errs []error
	for _, s := range f {
		if err := s.Emit(ctx, result); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Name() string { return "fanout" }

// Forgetter is a sink that holds per-session state which can be dropped.
type Forgetter interface {
	Forget(sessionID string)
}

// Forget forwards to every member that implements Forgetter.
func (f Fanout) Forget(sessionID string) {
	for _, s := range f {
		if fg, ok := s.(Forgetter); ok {
			fg.Forget(sessionID)
		}
	}
}

// MemorySink keeps results in memory, grouped by session.
type MemorySink struct {
	mu      sync.RWMutex
	results map[string][]models.ChunkResult
}

func NewMemorySink() *MemorySink {
	return &MemorySink{results: make(map[string][]models.ChunkResult)}
}

func (m *MemorySink) Emit(_ context.Context, result models.ChunkResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[result.SessionID] = append(m.results[result.SessionID], result)
	return nil
}

func (m *MemorySink) Name() string { return "memory" }

// Results returns a copy of the results emitted for sessionID.
func (m *MemorySink) Results(sessionID string) []models.ChunkResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.ChunkResult(nil), m.results[sessionID]...)
}

// Forget drops the results of sessionID.
func (m *MemorySink) Forget(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.results, sessionID)
}
