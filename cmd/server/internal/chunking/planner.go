// Package chunking computes fixed-stride chunk boundaries with a trailing overlap.
package chunking

import (
	"errors"
	"fmt"
	"math"

	"github.com/houzhh15/consultscribe/cmd/server/internal/models"
)

// DefaultMaxChunks bounds the planner loop on malformed durations.
const DefaultMaxChunks = 200

// ErrInvalidDuration is returned for non-positive, non-finite or inconsistent durations.
var ErrInvalidDuration = errors.New("chunking: invalid duration")

// Options 切片参数，单位为秒
type Options struct {
	ChunkDuration   float64 `json:"chunk_duration" yaml:"chunk_duration"`
	OverlapDuration float64 `json:"overlap_duration" yaml:"overlap_duration"`
	MaxChunks       int     `json:"max_chunks" yaml:"max_chunks"`
}

// Plan is the planner output. Truncated reports that MaxChunks stopped the loop
// before the total duration was covered.
type Plan struct {
	Chunks    []models.ChunkSpec `json:"chunks"`
	Truncated bool               `json:"truncated"`
}

// Stride returns the distance between consecutive chunk starts.
func (o Options) Stride() float64 {
	return o.ChunkDuration - o.OverlapDuration
}

// Validate checks chunk/overlap consistency independently of the total duration.
func (o Options) Validate() error {
	if !finite(o.ChunkDuration) || o.ChunkDuration <= 0 {
		return fmt.Errorf("%w: chunk duration must be > 0, got %v", ErrInvalidDuration, o.ChunkDuration)
	}
	if !finite(o.OverlapDuration) || o.OverlapDuration < 0 {
		return fmt.Errorf("%w: overlap duration must be >= 0, got %v", ErrInvalidDuration, o.OverlapDuration)
	}
	if o.OverlapDuration >= o.ChunkDuration {
		return fmt.Errorf("%w: overlap %v must be shorter than chunk %v", ErrInvalidDuration, o.OverlapDuration, o.ChunkDuration)
	}
	if o.MaxChunks < 0 {
		return fmt.Errorf("%w: max chunks must be >= 0, got %d", ErrInvalidDuration, o.MaxChunks)
	}
	return nil
}

// PlanChunks splits [0, total) into chunks of opts.ChunkDuration that start every
// ChunkDuration-OverlapDuration seconds, until a start reaches total. Chunks are
// clipped to total and not padded, so the tail may hold chunks shorter than the
// overlap that lie inside the previous chunk.
func PlanChunks(total float64, opts Options) (Plan, error) {
	if !finite(total) || total <= 0 {
		return Plan{}, fmt.Errorf("%w: total duration must be > 0, got %v", ErrInvalidDuration, total)
	}
	if err := opts.Validate(); err != nil {
		return Plan{}, err
	}

	maxChunks := opts.MaxChunks
	if maxChunks == 0 {
		maxChunks = DefaultMaxChunks
	}
	stride := opts.Stride()

	plan := Plan{Chunks: make([]models.ChunkSpec, 0, min(maxChunks, int(math.Ceil(total/stride))+1))}
	for i := 0; ; i++ {
		start := float64(i) * stride
		if start >= total {
			break
		}
		if i >= maxChunks {
			plan.Truncated = true
			break
		}
		spec := models.ChunkSpec{Index: i, StartTime: start, EndTime: math.Min(start+opts.ChunkDuration, total)}
		if i > 0 {
			spec = WithOverlap(spec, plan.Chunks[i-1])
		}
		plan.Chunks = append(plan.Chunks, spec)
	}
	return plan, nil
}

// SpecAt builds the ChunkSpec for chunk index with the given global bounds. The overlap
// window is the leading part of the chunk that the previous chunk also covered.
func SpecAt(index int, start, end, overlap float64) models.ChunkSpec {
	spec := models.ChunkSpec{Index: index, StartTime: start, EndTime: end}
	if index > 0 && overlap > 0 {
		spec.OverlapStart = start
		spec.OverlapEnd = math.Min(start+overlap, end)
	}
	return spec
}

// SharedWindow returns the time range covered by both prev and cur. ok is false
// when the chunks do not intersect.
func SharedWindow(prev, cur models.ChunkSpec) (from, to float64, ok bool) {
	from = math.Max(prev.StartTime, cur.StartTime)
	to = math.Min(prev.EndTime, cur.EndTime)
	return from, to, to > from
}

// WithOverlap sets the overlap window of cur to the range it shares with prev,
// or clears it when they do not intersect.
func WithOverlap(cur, prev models.ChunkSpec) models.ChunkSpec {
	cur.OverlapStart, cur.OverlapEnd = 0, 0
	if from, to, ok := SharedWindow(prev, cur); ok {
		cur.OverlapStart, cur.OverlapEnd = from, to
	}
	return cur
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
