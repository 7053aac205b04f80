package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/houzhh15/consultscribe/cmd/server/internal/chunking"
	"github.com/houzhh15/consultscribe/cmd/server/internal/continuity"
	"github.com/houzhh15/consultscribe/cmd/server/internal/models"
	"github.com/houzhh15/consultscribe/cmd/server/internal/orchestrator/diarization"
	"github.com/houzhh15/consultscribe/cmd/server/internal/registry"
	"github.com/houzhh15/consultscribe/cmd/server/internal/roles"
	"github.com/houzhh15/consultscribe/cmd/server/internal/simhash"
	"github.com/houzhh15/consultscribe/cmd/server/internal/sink"
	"github.com/houzhh15/consultscribe/pkg/logger"
	"github.com/houzhh15/consultscribe/pkg/metrics"
)

// DiarizerProvider returns the diarizer to use for the next call.
// *degradation.DegradationController satisfies it.
type DiarizerProvider interface {
	GetDiarizer() diarization.Diarizer
}

// StaticDiarizer always provides the same diarizer.
type StaticDiarizer struct {
	diarization.Diarizer
}

func (s StaticDiarizer) GetDiarizer() diarization.Diarizer { return s.Diarizer }

// Limiter bounds remote calls across sessions.
type Limiter interface {
	Acquire(ctx context.Context) error
	Release()
}

// ChunkInput is one chunk of audio submitted by the recording side.
// A negative StartTime uses the planned position of Index; a non-positive EndTime
// uses StartTime + chunk duration.
type ChunkInput struct {
	Index     int
	StartTime float64
	EndTime   float64
	Audio     []byte
	Filename  string
}

// Options 构造 Orchestrator 所需的协作者
type Options struct {
	SessionID string
	Config    Config

	Diarizers DiarizerProvider
	// Resolver 为空时不做角色识别，所有说话人保持 Unknown
	Resolver     *roles.Resolver
	Hints        roles.Hints
	LanguageHint string

	Sink    sink.Sink
	Limiter Limiter
	Logger  *slog.Logger
	Now     func() time.Time
}

type chunkReply struct {
	result *models.ChunkResult
	err    error
}

type chunkJob struct {
	input ChunkInput
	spec  models.ChunkSpec
	reply chan chunkReply
}

// Orchestrator runs the per-session chunk pipeline on a single worker:
// diarize, leading-edge stats, continuity match against the previous chunk's
// trailing stats, registry rewrite, then role resolution for new speakers.
// Chunks are processed strictly in index order.
type Orchestrator struct {
	sessionID string
	cfg       Config
	opts      Options
	logger    *slog.Logger
	now       func() time.Time

	registry *registry.Registry
	matcher  *continuity.Matcher
	queue    *SafeQueue[*chunkJob]

	submitMu  sync.Mutex
	prevSpec  *models.ChunkSpec // guarded by submitMu
	mutex     sync.Mutex
	state     State
	nextIndex int
	fatalErr  error

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New validates the configuration and starts the session worker.
func New(opts Options) (*Orchestrator, error) {
	if opts.SessionID == "" {
		return nil, NewInvalidInputError("session id is required", nil)
	}
	if opts.Diarizers == nil {
		return nil, NewInvalidInputError("diarizer is required", nil)
	}
	cfg := opts.Config
	if err := cfg.ChunkOptions().Validate(); err != nil {
		return nil, NewInvalidInputError("invalid chunk configuration", err)
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	l := logger.OrDefault(opts.Logger).With("session_id", opts.SessionID)
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		sessionID: opts.SessionID,
		cfg:       cfg,
		opts:      opts,
		logger:    l,
		now:       now,
		registry: registry.New(opts.SessionID, registry.Options{
			Dedup: simhash.NewDetector(cfg.DedupThreshold, cfg.DedupMinOverlapRatio),
			Now:   now,
		}),
		matcher: continuity.NewMatcher(cfg.Weights, cfg.LowConfidenceThreshold),
		queue:   NewSafeQueue[*chunkJob](cfg.QueueSize),
		state:   StateAwaitingFirstChunk,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go o.worker()
	return o, nil
}

// SessionID returns the owning session id.
func (o *Orchestrator) SessionID() string { return o.sessionID }

// Registry exposes the session registry for readers and manual role resolution.
func (o *Orchestrator) Registry() *registry.Registry { return o.registry }

// GetState returns the current pipeline state.
func (o *Orchestrator) GetState() State {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	return o.state
}

// Err returns the session-fatal error that closed the session, if any.
func (o *Orchestrator) Err() error {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	return o.fatalErr
}

// Done is closed once every queued chunk is processed and the transcript is frozen.
func (o *Orchestrator) Done() <-chan struct{} { return o.done }

// Submit enqueues a chunk and waits for its result. Index order is enforced here:
// a skipped or repeated index is session-fatal, closes the session and is returned
// as CHUNK_OUT_OF_ORDER / CHUNK_DUPLICATE. A start time not after the previous chunk's
// start is INVALID_INPUT and leaves the session open. ctx only bounds the wait; a chunk
// that was accepted is processed even if the caller gives up.
func (o *Orchestrator) Submit(ctx context.Context, in ChunkInput) (*models.ChunkResult, error) {
	if in.Index < 0 {
		return nil, NewInvalidInputError(fmt.Sprintf("negative chunk index %d", in.Index), nil)
	}
	if in.StartTime >= 0 && in.EndTime > 0 && in.EndTime <= in.StartTime {
		return nil, NewInvalidInputError(fmt.Sprintf("chunk %d: end %.3f must be after start %.3f", in.Index, in.EndTime, in.StartTime), nil)
	}
	if math.IsNaN(in.StartTime) || math.IsNaN(in.EndTime) {
		return nil, NewInvalidInputError(fmt.Sprintf("chunk %d: invalid time range", in.Index), nil)
	}

	job, err := o.enqueue(ctx, in)
	if err != nil {
		return nil, err
	}

	select {
	case r := <-job.reply:
		return r.result, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (o *Orchestrator) enqueue(ctx context.Context, in ChunkInput) (*chunkJob, error) {
	// submitMu 串行化入队，保证队列顺序与序号一致；mutex 只保护状态，worker 也会获取
	o.submitMu.Lock()
	defer o.submitMu.Unlock()

	o.mutex.Lock()
	if o.state == StateClosed {
		err := NewSessionClosedError(o.sessionID)
		err.Cause = o.fatalErr
		o.mutex.Unlock()
		return nil, err
	}
	if in.Index != o.nextIndex {
		var oe *OrchError
		if in.Index < o.nextIndex {
			oe = NewOrchError(CHUNK_DUPLICATE, fmt.Sprintf("chunk %d already submitted", in.Index), registry.ErrDuplicateChunk)
		} else {
			oe = NewOrchError(CHUNK_OUT_OF_ORDER, fmt.Sprintf("expected chunk %d, got %d", o.nextIndex, in.Index), registry.ErrOutOfOrder)
		}
		o.fatalErr = oe
		o.state = StateClosed
		o.queue.Close()
		o.logger.Error("session-fatal chunk order violation, closing session",
			"chunk_index", in.Index, "expected", o.nextIndex, "error_code", string(oe.Code))
		o.mutex.Unlock()
		metrics.RecordChunk("submit", "rejected")
		return nil, oe
	}
	o.mutex.Unlock()

	spec := o.cfg.SpecFor(in.Index, in.StartTime, in.EndTime)
	if o.prevSpec != nil {
		// 起点必须严格递增；拒绝不消耗序号，调用方可用正确时间重交
		if spec.StartTime <= o.prevSpec.StartTime {
			metrics.RecordChunk("submit", "rejected")
			return nil, NewInvalidInputError(fmt.Sprintf("chunk %d: start %.3f must be after previous chunk start %.3f",
				in.Index, spec.StartTime, o.prevSpec.StartTime), nil)
		}
		spec = chunking.WithOverlap(spec, *o.prevSpec)
	}

	job := &chunkJob{
		input: in,
		spec:  spec,
		reply: make(chan chunkReply, 1),
	}
	if err := o.queue.Push(ctx, job); err != nil {
		if errors.Is(err, ErrQueueClosed) {
			return nil, NewSessionClosedError(o.sessionID)
		}
		return nil, err
	}
	o.prevSpec = &spec

	o.mutex.Lock()
	o.nextIndex++
	o.mutex.Unlock()
	return job, nil
}

// Close stops accepting chunks, lets queued chunks finish and freezes the
// transcript. If ctx expires first the session is cancelled.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mutex.Lock()
	o.state = StateClosed
	o.queue.Close()
	o.mutex.Unlock()

	select {
	case <-o.done:
		return nil
	case <-ctx.Done():
		o.cancel()
		<-o.done
		return ctx.Err()
	}
}

// Cancel ends the session immediately. The in-flight chunk and any queued chunks
// are discarded; the transcript accumulated so far stays readable.
func (o *Orchestrator) Cancel() {
	o.mutex.Lock()
	o.state = StateClosed
	o.queue.Close()
	o.mutex.Unlock()
	o.cancel()
	<-o.done
}

func (o *Orchestrator) worker() {
	defer close(o.done)
	for {
		job, ok := o.queue.Pop()
		if !ok {
			break
		}
		res, err := o.process(job)
		job.reply <- chunkReply{result: res, err: err}
	}
	o.registry.Freeze()
	o.cancel()

	o.mutex.Lock()
	o.state = StateClosed
	o.mutex.Unlock()
	o.logger.Info("session closed", "chunks", o.registry.LastIndex()+1, "speakers", len(o.registry.Speakers()))
}

func (o *Orchestrator) cancelled(job *chunkJob) error {
	if o.ctx.Err() == nil {
		return nil
	}
	o.logger.Warn("session cancelled, discarding chunk", "chunk_index", job.spec.Index)
	metrics.RecordChunk("pipeline", "discarded")
	return NewSessionClosedError(o.sessionID)
}

// process runs one chunk through the pipeline. Upstream failures are absorbed into
// the result; only cancellation and registry violations are returned.
func (o *Orchestrator) process(job *chunkJob) (*models.ChunkResult, error) {
	spec := job.spec
	started := o.now()
	if err := o.cancelled(job); err != nil {
		return nil, err
	}
	logger.LogChunkProcessing(o.logger, "diarize", "start", spec.Index, 0, "")

	raw, attempts, diarizerName, diarErr := o.diarize(job)
	if err := o.cancelled(job); err != nil {
		return nil, err
	}

	var notes []string
	status := models.ChunkStatusOK
	var segments []models.Segment
	switch {
	case diarErr != nil:
		status = models.ChunkStatusFailed
		notes = append(notes, diarErr.Error())
		logger.LogChunkProcessing(o.logger, "diarize", "error", spec.Index, o.since(started), string(CodeOf(diarErr)))
	case diarizerName == diarization.MockName:
		status = models.ChunkStatusDegraded
		segments = toGlobal(raw.Segments, spec)
		logger.LogChunkProcessing(o.logger, "diarize", "degraded", spec.Index, o.since(started), "")
	default:
		segments = toGlobal(raw.Segments, spec)
		logger.LogChunkProcessing(o.logger, "diarize", "success", spec.Index, o.since(started), "")
	}
	metrics.RecordChunk("diarize", string(status))

	mapping := o.matchLeadingEdge(spec, segments)

	reg, err := o.registry.RegisterChunk(spec, segments, mapping)
	if err != nil {
		logger.LogChunkProcessing(o.logger, "registry", "error", spec.Index, o.since(started), string(INVALID_INPUT))
		return nil, NewOrchError(INVALID_INPUT, fmt.Sprintf("register chunk %d", spec.Index), err)
	}
	metrics.RecordCanonicalSpeakers(len(reg.NewSpeakers))
	logger.LogChunkProcessing(o.logger, "registry", "success", spec.Index, o.since(started), "")

	o.mutex.Lock()
	if o.state == StateAwaitingFirstChunk {
		o.state = StateSteady
	}
	o.mutex.Unlock()

	if roleErr := o.resolveRoles(spec.Index, reg.DetectedSpeakers); roleErr != nil {
		notes = append(notes, roleErr.Error())
	}

	result := &models.ChunkResult{
		SchemaVersion:     models.SchemaVersion,
		SessionID:         o.sessionID,
		ChunkIndex:        spec.Index,
		ChunkStart:        spec.StartTime,
		ChunkEnd:          spec.EndTime,
		Status:            status,
		Attempts:          attempts,
		Segments:          reg.Segments,
		DetectedSpeakers:  reg.DetectedSpeakers,
		NewSpeakers:       reg.NewSpeakers,
		RoleMapping:       o.registry.Roles(),
		ContinuityMapping: mapping,
		DroppedDuplicates: reg.DroppedDuplicates,
		Error:             strings.Join(notes, "; "),
		ProcessedAt:       o.now(),
	}
	if result.Segments == nil {
		result.Segments = []models.Segment{}
	}
	if result.DetectedSpeakers == nil {
		result.DetectedSpeakers = []string{}
	}
	result.LatencyMs = o.since(started)

	o.emit(result)
	metrics.RecordChunk("pipeline", string(status))
	return result, nil
}

// diarize calls the current diarizer with bounded retries. The n-th retry waits
// n*n*RetryBackoff.
func (o *Orchestrator) diarize(job *chunkJob) (*diarization.Result, int, string, error) {
	req := diarization.Request{
		SessionID:    o.sessionID,
		ChunkIndex:   job.spec.Index,
		Audio:        job.input.Audio,
		Filename:     job.input.Filename,
		LanguageHint: o.opts.LanguageHint,
	}

	var lastErr error
	attempt := 0
	for attempt < o.cfg.MaxAttempts {
		attempt++
		d := o.opts.Diarizers.GetDiarizer()
		res, err := o.callDiarizer(d, req)
		if err == nil {
			if res == nil {
				res = &diarization.Result{}
			}
			return res, attempt, d.Name(), nil
		}
		lastErr = NewDiarizationError(err)
		if o.ctx.Err() != nil {
			break
		}
		if attempt < o.cfg.MaxAttempts {
			logger.LogChunkProcessing(o.logger, "diarize", "retry", job.spec.Index, 0, string(CodeOf(lastErr)))
			backoff := time.Duration(attempt*attempt) * o.cfg.RetryBackoff
			select {
			case <-time.After(backoff):
			case <-o.ctx.Done():
			}
		}
	}
	o.logger.Warn("diarization retries exhausted, inserting empty placeholder",
		"chunk_index", job.spec.Index, "attempts", attempt, "error", lastErr)
	return nil, attempt, "", lastErr
}

func (o *Orchestrator) callDiarizer(d diarization.Diarizer, req diarization.Request) (*diarization.Result, error) {
	if o.opts.Limiter != nil {
		if err := o.opts.Limiter.Acquire(o.ctx); err != nil {
			return nil, err
		}
		defer o.opts.Limiter.Release()
	}

	ctx := o.ctx
	if o.cfg.DiarizationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(o.ctx, o.cfg.DiarizationTimeout)
		defer cancel()
	}

	start := time.Now()
	res, err := d.Diarize(ctx, req)
	metrics.RecordRemoteCallDuration("diarization", time.Since(start).Seconds())
	if err != nil {
		metrics.RecordRemoteCall("diarization", "failed")
		return nil, err
	}
	metrics.RecordRemoteCall("diarization", "success")
	return res, nil
}

// matchLeadingEdge compares the leading overlap window of the chunk with the
// registry-held trailing stats of the previous chunk.
func (o *Orchestrator) matchLeadingEdge(spec models.ChunkSpec, segments []models.Segment) models.ContinuityMapping {
	if spec.Index == 0 || !spec.HasOverlap() {
		return models.ContinuityMapping{}
	}
	prev, err := o.registry.TrailingStatsFor(spec.Index-1, spec)
	if err != nil {
		o.logger.Warn("previous chunk stats unavailable", "chunk_index", spec.Index, "error", err)
		return models.ContinuityMapping{}
	}
	curr := continuity.ComputeStats(segments, spec.OverlapStart, spec.OverlapEnd)
	mapping := o.matcher.Match(prev, curr)
	for _, m := range mapping {
		if m.MatchedTo != "" {
			metrics.ObserveContinuityConfidence(m.Confidence)
		}
	}
	logger.LogChunkProcessing(o.logger, "continuity", "success", spec.Index, 0, "")
	return mapping
}

// resolveRoles classifies canonical speakers of this chunk that have no role yet.
// The resolver runs without holding any registry lock.
func (o *Orchestrator) resolveRoles(index int, detected []string) error {
	if o.opts.Resolver == nil || len(detected) == 0 {
		return nil
	}
	present := make(map[string]struct{}, len(detected))
	for _, id := range detected {
		present[id] = struct{}{}
	}
	var targets []string
	for _, id := range o.registry.SpeakersLackingRoles() {
		if _, ok := present[id]; ok {
			targets = append(targets, id)
		}
	}
	if len(targets) == 0 {
		return nil
	}

	hints := o.opts.Hints
	if hints.LanguageHint == "" {
		hints.LanguageHint = o.opts.LanguageHint
	}
	hints.KnownRoles = make(map[string]models.Role)
	for id, a := range o.registry.Roles() {
		hints.KnownRoles[id] = a.Role
	}

	start := o.now()
	assignments, err := o.opts.Resolver.Resolve(o.ctx, o.registry.ChunkSegments(index), hints, targets)
	applied := o.registry.AssignRoles(assignments)

	ids := make([]string, 0, len(applied))
	for id := range applied {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		metrics.RecordRoleAssignment(string(applied[id].Role), applied[id].RequiresManualAssignment)
	}

	if err != nil {
		roleErr := NewRoleServiceError(err)
		logger.LogChunkProcessing(o.logger, "roles", "error", index, o.since(start), string(roleErr.Code))
		return roleErr
	}
	logger.LogChunkProcessing(o.logger, "roles", "success", index, o.since(start), "")
	return nil
}

func (o *Orchestrator) emit(result *models.ChunkResult) {
	if o.opts.Sink == nil {
		return
	}
	if err := o.opts.Sink.Emit(o.ctx, *result); err != nil {
		metrics.RecordSinkError(o.opts.Sink.Name())
		logger.LogChunkProcessing(o.logger, "sink", "error", result.ChunkIndex, 0, string(SINK_FAILED))
		o.logger.Error("sink emit failed", "sink", o.opts.Sink.Name(), "chunk_index", result.ChunkIndex, "error", err)
	}
}

func (o *Orchestrator) since(t time.Time) int64 {
	return o.now().Sub(t).Milliseconds()
}

// toGlobal clamps chunk-relative segments to the chunk, drops empty ones and shifts
// them to session time. Missing speaker labels become "UNKNOWN".
func toGlobal(segments []models.Segment, spec models.ChunkSpec) []models.Segment {
	limit := spec.Duration()
	out := make([]models.Segment, 0, len(segments))
	for _, seg := range segments {
		if math.IsNaN(seg.StartTime) || math.IsNaN(seg.EndTime) {
			continue
		}
		seg.StartTime = math.Max(seg.StartTime, 0)
		seg.EndTime = math.Min(seg.EndTime, limit)
		if !seg.Valid() {
			continue
		}
		if strings.TrimSpace(seg.SpeakerID) == "" {
			seg.SpeakerID = "UNKNOWN"
		}
		out = append(out, seg.Shift(spec.StartTime))
	}
	return out
}
