// Package diarization provides an abstraction layer for the external speaker
// diarization/transcription service. Implementations return segments whose speaker
// ids are chunk-local and carry no meaning across calls.
package diarization

import (
	"context"
	"fmt"

	"github.com/houzhh15/consultscribe/cmd/server/internal/models"
)

// Request describes one chunk of audio to diarize.
type Request struct {
	// SessionID and ChunkIndex identify the chunk for logging and fixtures
	SessionID  string
	ChunkIndex int

	// Audio holds the encoded chunk (WAV recommended). It may be empty for fixture replay.
	Audio []byte

	// Filename is sent as the multipart file name
	Filename string

	// LanguageHint is an ISO 639-1 code, empty for auto-detection
	LanguageHint string
}

// Result is the diarization output for one chunk.
type Result struct {
	// Segments use chunk-relative times and chunk-local speaker ids.
	// An empty slice means silence, not an error.
	Segments []models.Segment `json:"segments" yaml:"segments"`

	// DetectedSpeakers lists the chunk-local speaker ids the service found
	DetectedSpeakers []string `json:"detected_speakers" yaml:"detected_speakers"`
}

// Diarizer defines the contract every diarization backend implements so the
// degradation controller can switch between them.
type Diarizer interface {
	// Diarize splits the chunk into speaker-labelled segments.
	//
	// Implementation notes:
	//   - Must respect context timeout and cancellation
	//   - Silence returns an empty Result, not an error
	Diarize(ctx context.Context, req Request) (*Result, error)

	// HealthCheck verifies that the service is operational. It should finish well
	// within 10 seconds.
	HealthCheck(ctx context.Context) (bool, error)

	// Name returns the implementation identifier used in logs and metrics
	// (e.g., "http", "fixture", "mock-degraded").
	Name() string
}

// HTTPError is returned when the service answers with a non-2xx status.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("diarization API returned status %d: %s", e.StatusCode, e.Body)
}
