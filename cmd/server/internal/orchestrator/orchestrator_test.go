package orchestrator

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houzhh15/consultscribe/cmd/server/internal/models"
	"github.com/houzhh15/consultscribe/cmd/server/internal/orchestrator/diarization"
	"github.com/houzhh15/consultscribe/cmd/server/internal/roles"
	"github.com/houzhh15/consultscribe/cmd/server/internal/sink"
)

func seg(speaker string, start, end float64, text string) models.Segment {
	return models.Segment{SpeakerID: speaker, StartTime: start, EndTime: end, Text: text}
}

func chunk(segments ...models.Segment) diarization.FixtureChunk {
	ids := map[string]struct{}{}
	var detected []string
	for _, s := range segments {
		if _, ok := ids[s.SpeakerID]; !ok {
			ids[s.SpeakerID] = struct{}{}
			detected = append(detected, s.SpeakerID)
		}
	}
	return diarization.FixtureChunk{Result: diarization.Result{Segments: segments, DetectedSpeakers: detected}}
}

// consultation is 80s of doctor (A) and patient (B) diarized as 3 chunks of 30s
// with 5s overlap. Chunk-local labels change between chunks.
func consultation() map[int]diarization.FixtureChunk {
	return map[int]diarization.FixtureChunk{
		0: chunk(
			seg("SPEAKER_00", 0, 8, "Good morning, what brings you in today?"),
			seg("SPEAKER_01", 8, 14, "I have had a headache for three days"),
			seg("SPEAKER_00", 14, 22, "Let me check your blood pressure"),
			seg("SPEAKER_01", 22, 25, "Sure"),
			seg("SPEAKER_00", 25, 28, "Any allergies to medication?"),
			seg("SPEAKER_01", 28, 30, "A little dizzy"),
		),
		1: chunk(
			seg("SPEAKER_01", 0, 3, "Any allergies to medication?"),
			seg("SPEAKER_00", 3, 5, "A little dizzy"),
			seg("SPEAKER_01", 5, 12, "Has the pain changed over time?"),
			seg("SPEAKER_00", 12, 18, "It gets worse in the evening"),
			seg("SPEAKER_01", 18, 25, "I will prescribe something for the pain"),
			seg("SPEAKER_01", 25, 28, "Take it twice a day"),
			seg("SPEAKER_00", 28, 30, "Thank you doctor"),
		),
		2: chunk(
			seg("S1", 0, 3, "Take it twice a day"),
			seg("S2", 3, 5, "Thank you doctor"),
			seg("S1", 5, 20, "Come back next week if it persists"),
			seg("S2", 20, 30, "Okay I will"),
		),
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryBackoff = time.Millisecond
	cfg.DiarizationTimeout = 2 * time.Second
	cfg.RoleTimeout = time.Second
	return cfg
}

func newTestOrchestrator(t *testing.T, d diarization.Diarizer, mutate func(*Options)) *Orchestrator {
	t.Helper()
	opts := Options{
		SessionID: "sess-test",
		Config:    testConfig(),
		Diarizers: StaticDiarizer{d},
		Resolver:  roles.NewResolver(roles.NewCueClassifier(nil, nil), roles.ResolverConfig{Timeout: time.Second}, nil),
	}
	if mutate != nil {
		mutate(&opts)
	}
	o, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = o.Close(ctx)
	})
	return o
}

func submitAll(t *testing.T, o *Orchestrator, n int) []*models.ChunkResult {
	t.Helper()
	var out []*models.ChunkResult
	for i := 0; i < n; i++ {
		res, err := o.Submit(context.Background(), ChunkInput{Index: i, StartTime: -1})
		require.NoError(t, err, "chunk %d", i)
		out = append(out, res)
	}
	return out
}

func TestOrchestrator_EndToEndTwoSpeakers(t *testing.T) {
	mem := sink.NewMemorySink()
	o := newTestOrchestrator(t, diarization.NewFixtureDiarizer(consultation()), func(opts *Options) {
		opts.Sink = mem
	})
	assert.Equal(t, StateAwaitingFirstChunk, o.GetState())

	results := submitAll(t, o, 3)
	assert.Equal(t, StateSteady, o.GetState())

	// chunk 1 swaps the local labels, the matcher must undo that
	assert.Equal(t, "speaker_1", results[1].ContinuityMapping["SPEAKER_01"].MatchedTo)
	assert.Equal(t, "speaker_2", results[1].ContinuityMapping["SPEAKER_00"].MatchedTo)
	assert.InDelta(t, 1.0, results[1].ContinuityMapping["SPEAKER_01"].Confidence, 1e-9)
	assert.Empty(t, results[1].NewSpeakers)
	assert.Equal(t, 2, results[1].DroppedDuplicates)
	assert.Equal(t, 2, results[2].DroppedDuplicates)

	require.NoError(t, o.Close(context.Background()))
	assert.Equal(t, StateClosed, o.GetState())
	assert.True(t, o.Registry().Frozen())

	speakers := o.Registry().Speakers()
	require.Len(t, speakers, 2)

	transcript := o.Registry().Transcript()
	require.Len(t, transcript, 13)
	assert.True(t, sort.SliceIsSorted(transcript, func(i, j int) bool {
		return transcript[i].StartTime < transcript[j].StartTime
	}))
	assert.Equal(t, 80.0, transcript[len(transcript)-1].EndTime)

	roleMap := o.Registry().Roles()
	assert.Equal(t, models.RoleDoctor, roleMap["speaker_1"].Role)
	assert.Equal(t, models.RolePatient, roleMap["speaker_2"].Role)
	assert.False(t, roleMap["speaker_1"].RequiresManualAssignment)
	assert.Equal(t, models.RoleDoctor, transcript[0].Role)

	emitted := mem.Results("sess-test")
	require.Len(t, emitted, 3)
	for i, r := range emitted {
		assert.Equal(t, i, r.ChunkIndex)
		assert.Equal(t, models.SchemaVersion, r.SchemaVersion)
		assert.Equal(t, models.ChunkStatusOK, r.Status)
		assert.Equal(t, 1, r.Attempts)
	}
	assert.Equal(t, 25.0, emitted[1].ChunkStart)
	assert.Equal(t, 55.0, emitted[1].ChunkEnd)
}

func TestOrchestrator_SilentOverlapCreatesNewSpeakers(t *testing.T) {
	fixture := map[int]diarization.FixtureChunk{
		0: chunk(
			seg("A", 0, 10, "What seems to be the problem?"),
			seg("B", 10, 20, "My chest hurts when I climb stairs"),
		),
		1: chunk(
			seg("A", 6, 15, "How long have you noticed it?"),
			seg("B", 15, 25, "About two weeks"),
		),
	}
	o := newTestOrchestrator(t, diarization.NewFixtureDiarizer(fixture), nil)

	results := submitAll(t, o, 2)
	assert.Empty(t, results[1].ContinuityMapping)
	assert.Equal(t, []string{"speaker_3", "speaker_4"}, results[1].NewSpeakers)
	assert.Len(t, o.Registry().Speakers(), 4)
}

func TestOrchestrator_OutOfOrderIsSessionFatal(t *testing.T) {
	o := newTestOrchestrator(t, diarization.NewFixtureDiarizer(consultation()), nil)

	_, err := o.Submit(context.Background(), ChunkInput{Index: 0, StartTime: -1})
	require.NoError(t, err)

	_, err = o.Submit(context.Background(), ChunkInput{Index: 2, StartTime: -1})
	require.Error(t, err)
	assert.Equal(t, CHUNK_OUT_OF_ORDER, CodeOf(err))
	assert.True(t, IsSessionFatal(err))
	assert.Equal(t, StateClosed, o.GetState())
	assert.Equal(t, CHUNK_OUT_OF_ORDER, CodeOf(o.Err()))

	_, err = o.Submit(context.Background(), ChunkInput{Index: 1, StartTime: -1})
	assert.Equal(t, SESSION_CLOSED, CodeOf(err))

	select {
	case <-o.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish draining")
	}
	assert.True(t, o.Registry().Frozen())
	assert.Equal(t, 0, o.Registry().LastIndex())
	assert.Len(t, o.Registry().Transcript(), 6)
}

func TestOrchestrator_DuplicateIndexIsSessionFatal(t *testing.T) {
	o := newTestOrchestrator(t, diarization.NewFixtureDiarizer(consultation()), nil)
	submitAll(t, o, 1)

	_, err := o.Submit(context.Background(), ChunkInput{Index: 0, StartTime: -1})
	assert.Equal(t, CHUNK_DUPLICATE, CodeOf(err))
	assert.True(t, IsSessionFatal(err))
}

func TestOrchestrator_InvalidInput(t *testing.T) {
	o := newTestOrchestrator(t, diarization.NewFixtureDiarizer(nil), nil)

	_, err := o.Submit(context.Background(), ChunkInput{Index: -1})
	assert.Equal(t, INVALID_INPUT, CodeOf(err))

	_, err = o.Submit(context.Background(), ChunkInput{Index: 0, StartTime: 10, EndTime: 5})
	assert.Equal(t, INVALID_INPUT, CodeOf(err))

	// rejected input does not consume an index or close the session
	assert.Equal(t, StateAwaitingFirstChunk, o.GetState())
	_, err = o.Submit(context.Background(), ChunkInput{Index: 0, StartTime: -1})
	assert.NoError(t, err)
}

func TestOrchestrator_AbuttingChunksSkipContinuity(t *testing.T) {
	fixture := map[int]diarization.FixtureChunk{
		0: chunk(
			seg("A", 0, 10, "What seems to be the problem?"),
			seg("B", 10, 20, "My chest hurts when I climb stairs"),
			seg("A", 20, 30, "Does it spread to your arm?"),
		),
		1: chunk(
			seg("X", 0, 5, "Sorry I am late, I am his daughter"),
			seg("X", 5, 15, "He has been short of breath all week"),
		),
	}
	o := newTestOrchestrator(t, diarization.NewFixtureDiarizer(fixture), nil)

	_, err := o.Submit(context.Background(), ChunkInput{Index: 0, StartTime: 0, EndTime: 30})
	require.NoError(t, err)
	// chunk 1 starts where chunk 0 ends: no shared audio, so X must not inherit A
	res, err := o.Submit(context.Background(), ChunkInput{Index: 1, StartTime: 30, EndTime: 60})
	require.NoError(t, err)

	assert.Empty(t, res.ContinuityMapping)
	assert.Equal(t, []string{"speaker_3"}, res.NewSpeakers)
	assert.Equal(t, 0, res.DroppedDuplicates)
	assert.Len(t, o.Registry().Speakers(), 3)
}

func TestOrchestrator_StartBeforePreviousIsRejected(t *testing.T) {
	o := newTestOrchestrator(t, diarization.NewFixtureDiarizer(consultation()), nil)

	_, err := o.Submit(context.Background(), ChunkInput{Index: 0, StartTime: 10, EndTime: 40})
	require.NoError(t, err)

	_, err = o.Submit(context.Background(), ChunkInput{Index: 1, StartTime: 5, EndTime: 35})
	assert.Equal(t, INVALID_INPUT, CodeOf(err))
	assert.False(t, IsSessionFatal(err))
	_, err = o.Submit(context.Background(), ChunkInput{Index: 1, StartTime: 10, EndTime: 40})
	assert.Equal(t, INVALID_INPUT, CodeOf(err))

	assert.NotEqual(t, StateClosed, o.GetState())
	assert.NoError(t, o.Err())

	// the index was not consumed, a valid resubmission goes through
	res, err := o.Submit(context.Background(), ChunkInput{Index: 1, StartTime: 35, EndTime: 65})
	require.NoError(t, err)
	assert.Equal(t, "speaker_1", res.ContinuityMapping["SPEAKER_01"].MatchedTo)
	assert.Equal(t, "speaker_2", res.ContinuityMapping["SPEAKER_00"].MatchedTo)
	assert.Equal(t, 35.0, res.ChunkStart)
}

func TestNew_RejectsBadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.OverlapDuration = cfg.ChunkDuration
	_, err := New(Options{SessionID: "s", Config: cfg, Diarizers: StaticDiarizer{diarization.NewFixtureDiarizer(nil)}})
	assert.Equal(t, INVALID_INPUT, CodeOf(err))

	_, err = New(Options{SessionID: "s", Config: testConfig()})
	assert.Equal(t, INVALID_INPUT, CodeOf(err))
}

func TestOrchestrator_RetriesThenSucceeds(t *testing.T) {
	fixture := consultation()
	c0 := fixture[0]
	c0.FailAttempts = 2
	fixture[0] = c0
	fd := diarization.NewFixtureDiarizer(fixture)
	o := newTestOrchestrator(t, fd, nil)

	results := submitAll(t, o, 1)
	assert.Equal(t, models.ChunkStatusOK, results[0].Status)
	assert.Equal(t, 3, results[0].Attempts)
	assert.Equal(t, 3, fd.Calls(0))
	assert.Len(t, results[0].Segments, 6)
}

func TestOrchestrator_ExhaustedRetriesInsertPlaceholder(t *testing.T) {
	fixture := consultation()
	c1 := fixture[1]
	c1.FailAttempts = 10
	fixture[1] = c1
	o := newTestOrchestrator(t, diarization.NewFixtureDiarizer(fixture), nil)

	results := submitAll(t, o, 3)

	failed := results[1]
	assert.Equal(t, models.ChunkStatusFailed, failed.Status)
	assert.Equal(t, 3, failed.Attempts)
	assert.Empty(t, failed.Segments)
	assert.Contains(t, failed.Error, string(DIARIZATION_UNAVAILABLE))

	// the session keeps going; chunk 2 cannot be linked across the gap
	assert.Equal(t, models.ChunkStatusOK, results[2].Status)
	assert.Len(t, results[2].NewSpeakers, 2)
	assert.Equal(t, 2, o.Registry().LastIndex())
	assert.Len(t, o.Registry().Speakers(), 4)
}

func TestOrchestrator_DegradedDiarizer(t *testing.T) {
	o := newTestOrchestrator(t, diarization.NewMockDiarizer(nil), nil)

	results := submitAll(t, o, 2)
	for _, r := range results {
		assert.Equal(t, models.ChunkStatusDegraded, r.Status)
		assert.Empty(t, r.Segments)
		assert.NotNil(t, r.DetectedSpeakers)
	}
	assert.Empty(t, o.Registry().Speakers())
}

// blockingDiarizer waits until its context is cancelled.
type blockingDiarizer struct {
	started chan struct{}
	once    sync.Once
}

func (b *blockingDiarizer) Diarize(ctx context.Context, _ diarization.Request) (*diarization.Result, error) {
	b.once.Do(func() { close(b.started) })
	<-ctx.Done()
	return nil, ctx.Err()
}

func (b *blockingDiarizer) HealthCheck(context.Context) (bool, error) { return true, nil }
func (b *blockingDiarizer) Name() string                              { return "blocking" }

func TestOrchestrator_CancelDiscardsInFlightChunk(t *testing.T) {
	bd := &blockingDiarizer{started: make(chan struct{})}
	o := newTestOrchestrator(t, bd, nil)

	errCh := make(chan error, 1)
	go func() {
		_, err := o.Submit(context.Background(), ChunkInput{Index: 0, StartTime: -1})
		errCh <- err
	}()

	select {
	case <-bd.started:
	case <-time.After(5 * time.Second):
		t.Fatal("diarizer never called")
	}
	o.Cancel()

	select {
	case err := <-errCh:
		assert.Equal(t, SESSION_CLOSED, CodeOf(err))
	case <-time.After(5 * time.Second):
		t.Fatal("submit did not return after cancel")
	}
	assert.Equal(t, StateClosed, o.GetState())
	assert.Equal(t, -1, o.Registry().LastIndex())
	assert.Empty(t, o.Registry().Transcript())
	assert.True(t, o.Registry().Frozen())
}

func TestOrchestrator_SubmitWaitBoundedByCallerContext(t *testing.T) {
	bd := &blockingDiarizer{started: make(chan struct{})}
	o := newTestOrchestrator(t, bd, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := o.Submit(ctx, ChunkInput{Index: 0, StartTime: -1})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	// the accepted chunk still owns index 0
	o.Cancel()
	_, err = o.Submit(context.Background(), ChunkInput{Index: 1, StartTime: -1})
	assert.Equal(t, SESSION_CLOSED, CodeOf(err))
}

type failingClassifier struct{}

func (failingClassifier) Classify(context.Context, []models.Segment, roles.Hints) (*roles.Classification, error) {
	return nil, errors.New("upstream 503")
}
func (failingClassifier) Name() string               { return "failing" }
func (failingClassifier) Source() models.RoleSource { return models.RoleSourceRemote }

func TestOrchestrator_RoleFailureIsNotFatal(t *testing.T) {
	o := newTestOrchestrator(t, diarization.NewFixtureDiarizer(consultation()), func(opts *Options) {
		opts.Resolver = roles.NewResolver(failingClassifier{}, roles.ResolverConfig{}, nil)
	})

	results := submitAll(t, o, 2)
	r0 := results[0]
	assert.Equal(t, models.ChunkStatusOK, r0.Status)
	assert.Contains(t, r0.Error, string(ROLE_SERVICE_FAILED))
	require.Len(t, r0.RoleMapping, 2)
	for _, a := range r0.RoleMapping {
		assert.Equal(t, models.RoleUnknown, a.Role)
		assert.True(t, a.RequiresManualAssignment)
	}
	// both speakers already carry a placeholder, so chunk 1 does not call the classifier
	assert.Empty(t, results[1].Error)
}

type erroringSink struct{ calls int }

func (e *erroringSink) Emit(context.Context, models.ChunkResult) error {
	e.calls++
	return errors.New("disk full")
}
func (e *erroringSink) Name() string { return "erroring" }

func TestOrchestrator_SinkFailureIsNotFatal(t *testing.T) {
	es := &erroringSink{}
	o := newTestOrchestrator(t, diarization.NewFixtureDiarizer(consultation()), func(opts *Options) {
		opts.Sink = es
	})

	results := submitAll(t, o, 2)
	assert.Len(t, results, 2)
	assert.Equal(t, 2, es.calls)
}

func TestToGlobal(t *testing.T) {
	spec := models.ChunkSpec{Index: 1, StartTime: 25, EndTime: 55}
	got := toGlobal([]models.Segment{
		seg("A", -1, 2, "clamped start"),
		seg("", 10, 12, "no label"),
		seg("B", 29, 40, "clamped end"),
		seg("C", 31, 35, "outside"),
		seg("D", 5, 5, "empty"),
	}, spec)

	require.Len(t, got, 3)
	assert.Equal(t, seg("A", 25, 27, "clamped start"), got[0])
	assert.Equal(t, "UNKNOWN", got[1].SpeakerID)
	assert.Equal(t, seg("B", 54, 55, "clamped end"), got[2])
}
