package diarization

import (
	"context"
	"log/slog"

	"github.com/houzhh15/consultscribe/cmd/server/internal/models"
	"github.com/houzhh15/consultscribe/pkg/logger"
)

// MockDiarizer is the degraded-mode fallback. It never blocks and never fails:
// every chunk comes back as silence so the session keeps its timeline while the
// real service is unavailable.
type MockDiarizer struct {
	logger *slog.Logger
}

// NewMockDiarizer creates the fallback diarizer.
func NewMockDiarizer(l *slog.Logger) *MockDiarizer {
	return &MockDiarizer{logger: logger.OrDefault(l)}
}

// Diarize returns an empty result with a nil error.
func (m *MockDiarizer) Diarize(_ context.Context, req Request) (*Result, error) {
	m.logger.Warn("mock diarizer returning empty result (degraded mode)",
		"session_id", req.SessionID, "chunk_index", req.ChunkIndex)
	return &Result{Segments: []models.Segment{}, DetectedSpeakers: []string{}}, nil
}

// HealthCheck always reports unhealthy so the degraded state stays visible.
func (m *MockDiarizer) HealthCheck(context.Context) (bool, error) {
	return false, nil
}

// Name returns "mock-degraded".
func (m *MockDiarizer) Name() string {
	return MockName
}

// MockName identifies the degraded fallback.
const MockName = "mock-degraded"
