package diarization

import (
	"context"
	"fmt"
	"sync"

	"github.com/houzhh15/consultscribe/cmd/server/internal/models"
)

// FixtureChunk is a pre-recorded diarization answer for one chunk index.
type FixtureChunk struct {
	Result `yaml:",inline"`
	// FailAttempts makes the first N calls for this chunk fail.
	FailAttempts int `json:"fail_attempts" yaml:"fail_attempts"`
}

// FixtureDiarizer replays recorded results keyed by chunk index. Unknown indexes
// are silence.
type FixtureDiarizer struct {
	mu     sync.Mutex
	chunks map[int]FixtureChunk
	calls  map[int]int
}

// NewFixtureDiarizer 创建回放用 diarizer
func NewFixtureDiarizer(chunks map[int]FixtureChunk) *FixtureDiarizer {
	return &FixtureDiarizer{chunks: chunks, calls: make(map[int]int)}
}

// Diarize returns a copy of the recorded result for req.ChunkIndex.
func (f *FixtureDiarizer) Diarize(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.calls[req.ChunkIndex]++
	call := f.calls[req.ChunkIndex]
	chunk, ok := f.chunks[req.ChunkIndex]
	f.mu.Unlock()

	if ok && call <= chunk.FailAttempts {
		return nil, fmt.Errorf("fixture: simulated failure %d/%d for chunk %d", call, chunk.FailAttempts, req.ChunkIndex)
	}

	res := &Result{Segments: []models.Segment{}}
	if ok {
		res.Segments = append(res.Segments, chunk.Segments...)
		res.DetectedSpeakers = append([]string(nil), chunk.DetectedSpeakers...)
	}
	return res, nil
}

// Calls returns how many times chunk index was requested.
func (f *FixtureDiarizer) Calls(index int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[index]
}

// HealthCheck always succeeds.
func (f *FixtureDiarizer) HealthCheck(context.Context) (bool, error) {
	return true, nil
}

// Name returns "fixture".
func (f *FixtureDiarizer) Name() string {
	return "fixture"
}
