// Package registry holds the per-session canonical speaker identities and the
// accumulated, time-ordered transcript.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/houzhh15/consultscribe/cmd/server/internal/chunking"
	"github.com/houzhh15/consultscribe/cmd/server/internal/continuity"
	"github.com/houzhh15/consultscribe/cmd/server/internal/models"
	"github.com/houzhh15/consultscribe/cmd/server/internal/simhash"
)

var (
	// ErrOutOfOrder is returned when a chunk index skips ahead of the next expected index.
	ErrOutOfOrder = errors.New("registry: chunk out of order")
	// ErrDuplicateChunk is returned when a chunk index was already registered.
	ErrDuplicateChunk = errors.New("registry: duplicate chunk")
	// ErrFrozen is returned for writes after the session closed.
	ErrFrozen = errors.New("registry: session transcript is frozen")
	// ErrUnknownChunk is returned when stats are requested for a chunk never registered.
	ErrUnknownChunk = errors.New("registry: unknown chunk")
	// ErrUnknownSpeaker is returned for role writes on a speaker the session never created.
	ErrUnknownSpeaker = errors.New("registry: unknown speaker")
)

// SpeakerPrefix 规范说话人 ID 前缀
const SpeakerPrefix = "speaker_"

// Options 注册表参数
type Options struct {
	// Dedup 为空时不做重叠区去重
	Dedup *simhash.Detector
	Now   func() time.Time
}

type chunkRecord struct {
	spec     models.ChunkSpec
	segments []models.Segment
}

// Registration 是一次 RegisterChunk 的结果
type Registration struct {
	ChunkIndex int
	// Segments 去重后追加到转写中的片段（规范 ID，全局时间）
	Segments []models.Segment
	// LocalToCanonical 本切片本地 ID -> 规范 ID
	LocalToCanonical map[string]string
	// DetectedSpeakers 本切片出现的规范说话人，按首次出现排序
	DetectedSpeakers  []string
	NewSpeakers       []string
	DroppedDuplicates int
}

// Registry is the sole writer of canonical speaker ids, roles and the transcript
// of one consultation session. It is safe for concurrent readers.
type Registry struct {
	mu sync.RWMutex

	sessionID string
	dedup     *simhash.Detector
	now       func() time.Time

	nextID     int
	speakers   []models.CanonicalSpeaker
	known      map[string]struct{}
	chunks     map[int]*chunkRecord
	lastIndex  int
	transcript []models.Segment
	roles      map[string]models.RoleAssignment
	frozen     bool
}

// New 创建会话级注册表
func New(sessionID string, opts Options) *Registry {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Registry{
		sessionID: sessionID,
		dedup:     opts.Dedup,
		now:       now,
		nextID:    1,
		known:     make(map[string]struct{}),
		chunks:    make(map[int]*chunkRecord),
		lastIndex: -1,
		roles:     make(map[string]models.RoleAssignment),
	}
}

// SessionID returns the owning session id.
func (r *Registry) SessionID() string {
	return r.sessionID
}

// CheckNext reports whether index is the next chunk the registry accepts.
func (r *Registry) CheckNext(index int) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.checkNextLocked(index)
}

func (r *Registry) checkNextLocked(index int) error {
	if r.frozen {
		return ErrFrozen
	}
	if index < 0 {
		return fmt.Errorf("%w: negative chunk index %d", ErrOutOfOrder, index)
	}
	if index <= r.lastIndex {
		return fmt.Errorf("%w: chunk %d already registered", ErrDuplicateChunk, index)
	}
	if index != r.lastIndex+1 {
		return fmt.Errorf("%w: expected chunk %d, got %d", ErrOutOfOrder, r.lastIndex+1, index)
	}
	return nil
}

// LastIndex returns the last registered chunk index, -1 before the first chunk.
func (r *Registry) LastIndex() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastIndex
}

// RegisterChunk rewrites the chunk-local speaker ids of segments to canonical ids and
// appends the result to the transcript. segments must be in global time. A local id
// keeps the canonical id it was matched to only when the match is above threshold;
// otherwise a new canonical speaker is allocated. The input slice is not modified.
func (r *Registry) RegisterChunk(spec models.ChunkSpec, segments []models.Segment, mapping models.ContinuityMapping) (*Registration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkNextLocked(spec.Index); err != nil {
		return nil, err
	}

	ordered := make([]models.Segment, len(segments))
	copy(ordered, segments)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].StartTime < ordered[j].StartTime
	})

	reg := &Registration{
		ChunkIndex:       spec.Index,
		LocalToCanonical: make(map[string]string),
	}
	claimed := make(map[string]struct{})
	for _, seg := range ordered {
		if _, done := reg.LocalToCanonical[seg.SpeakerID]; done {
			continue
		}
		canonical := ""
		if m, ok := mapping[seg.SpeakerID]; ok && m.Matched() {
			_, isKnown := r.known[m.MatchedTo]
			_, taken := claimed[m.MatchedTo]
			if isKnown && !taken {
				canonical = m.MatchedTo
			}
		}
		if canonical == "" {
			canonical = r.allocateLocked(spec.Index)
			reg.NewSpeakers = append(reg.NewSpeakers, canonical)
		}
		claimed[canonical] = struct{}{}
		reg.LocalToCanonical[seg.SpeakerID] = canonical
		reg.DetectedSpeakers = append(reg.DetectedSpeakers, canonical)
	}

	for i := range ordered {
		ordered[i].SpeakerID = reg.LocalToCanonical[ordered[i].SpeakerID]
	}

	accepted := ordered
	if r.dedup != nil {
		accepted, reg.DroppedDuplicates = r.dedup.Filter(r.tailLocked(spec.StartTime), ordered)
	}

	r.transcript = append(r.transcript, accepted...)
	sort.SliceStable(r.transcript, func(i, j int) bool {
		return r.transcript[i].StartTime < r.transcript[j].StartTime
	})

	r.chunks[spec.Index] = &chunkRecord{spec: spec, segments: ordered}
	r.lastIndex = spec.Index

	reg.Segments = append([]models.Segment(nil), accepted...)
	return reg, nil
}

// tailLocked returns transcript segments that end after from.
func (r *Registry) tailLocked(from float64) []models.Segment {
	var tail []models.Segment
	for _, seg := range r.transcript {
		if seg.EndTime > from {
			tail = append(tail, seg)
		}
	}
	return tail
}

func (r *Registry) allocateLocked(chunkIndex int) string {
	id := fmt.Sprintf("%s%d", SpeakerPrefix, r.nextID)
	r.nextID++
	r.known[id] = struct{}{}
	r.speakers = append(r.speakers, models.CanonicalSpeaker{
		ID:             id,
		CreatedInChunk: chunkIndex,
		CreatedAt:      r.now(),
	})
	return id
}

// TrailingStatsFor returns stats of the canonical-labelled segments of chunk index
// inside the window it actually shares with next. Chunks that do not intersect
// yield empty stats.
func (r *Registry) TrailingStatsFor(index int, next models.ChunkSpec) (models.SpeakerStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.chunks[index]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownChunk, index)
	}
	from, to, shared := chunking.SharedWindow(rec.spec, next)
	if !shared {
		return models.SpeakerStats{}, nil
	}
	return continuity.ComputeStats(rec.segments, from, to), nil
}

// ChunkSpec returns the spec a chunk was registered with.
func (r *Registry) ChunkSpec(index int) (models.ChunkSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.chunks[index]
	if !ok {
		return models.ChunkSpec{}, false
	}
	return rec.spec, true
}

// ChunkSegments returns the canonical segments of a registered chunk, duplicates included.
func (r *Registry) ChunkSegments(index int) []models.Segment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.chunks[index]
	if !ok {
		return nil
	}
	return append([]models.Segment(nil), rec.segments...)
}

// Speakers returns the canonical speakers in creation order.
func (r *Registry) Speakers() []models.CanonicalSpeaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]models.CanonicalSpeaker(nil), r.speakers...)
}

// Segments returns a copy of the transcript without roles.
func (r *Registry) Segments() []models.Segment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]models.Segment(nil), r.transcript...)
}

// Transcript returns the ordered transcript with each segment's resolved role.
func (r *Registry) Transcript() []models.TranscriptSegment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.TranscriptSegment, len(r.transcript))
	for i, seg := range r.transcript {
		role := models.RoleUnknown
		if a, ok := r.roles[seg.SpeakerID]; ok {
			role = a.Role
		}
		out[i] = models.TranscriptSegment{Segment: seg, Role: role}
	}
	return out
}

// Freeze makes the registry read-only. It is idempotent.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Frozen reports whether Freeze was called.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}
