package roles

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houzhh15/consultscribe/cmd/server/internal/models"
)

// FakeClassifier returns a canned classification or error.
type FakeClassifier struct {
	Result *Classification
	Err    error
	Calls  int
	Block  bool
}

func (f *FakeClassifier) Classify(ctx context.Context, _ []models.Segment, _ Hints) (*Classification, error) {
	f.Calls++
	if f.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.Result, f.Err
}

func (f *FakeClassifier) Name() string { return "fake" }

func (f *FakeClassifier) Source() models.RoleSource { return models.RoleSourceRemote }

var twoSpeakers = []models.Segment{
	{SpeakerID: "speaker_1", StartTime: 0, EndTime: 3, Text: "Let me check your blood pressure"},
	{SpeakerID: "speaker_2", StartTime: 3, EndTime: 7, Text: "I've been having headaches"},
}

func TestResolve_ConfidentAssignments(t *testing.T) {
	fake := &FakeClassifier{Result: &Classification{
		RoleMapping:      map[string]string{"speaker_1": "doctor", "speaker_2": "Patient"},
		ConfidenceScores: map[string]float64{"speaker_1": 0.92, "speaker_2": 0.81},
		Reasoning:        map[string]string{"speaker_1": "examines patient"},
	}}
	r := NewResolver(fake, ResolverConfig{}, nil)

	out, err := r.Resolve(context.Background(), twoSpeakers, Hints{}, nil)
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, models.RoleDoctor, out["speaker_1"].Role)
	assert.Equal(t, 0.92, out["speaker_1"].Confidence)
	assert.False(t, out["speaker_1"].RequiresManualAssignment)
	assert.Equal(t, "examines patient", out["speaker_1"].Reasoning)
	assert.Equal(t, models.RoleSourceRemote, out["speaker_1"].Source)
	assert.Equal(t, models.RolePatient, out["speaker_2"].Role)
}

func TestResolve_LowConfidenceIsFlaggedNotUpgraded(t *testing.T) {
	fake := &FakeClassifier{Result: &Classification{
		RoleMapping:      map[string]string{"speaker_1": "Doctor", "speaker_2": "Patient"},
		ConfidenceScores: map[string]float64{"speaker_1": 0.95, "speaker_2": 0.4},
	}}
	r := NewResolver(fake, ResolverConfig{ConfidenceThreshold: 0.7}, nil)

	out, err := r.Resolve(context.Background(), twoSpeakers, Hints{}, nil)
	require.NoError(t, err)
	assert.Equal(t, models.RolePatient, out["speaker_2"].Role)
	assert.Equal(t, 0.4, out["speaker_2"].Confidence)
	assert.True(t, out["speaker_2"].RequiresManualAssignment)
	assert.False(t, out["speaker_1"].RequiresManualAssignment)
}

func TestResolve_UniversallyLowMarksAllUnknown(t *testing.T) {
	fake := &FakeClassifier{Result: &Classification{
		RoleMapping:      map[string]string{"speaker_1": "Doctor", "speaker_2": "Patient"},
		ConfidenceScores: map[string]float64{"speaker_1": 0.55, "speaker_2": 0.5},
	}}
	r := NewResolver(fake, ResolverConfig{}, nil)

	out, err := r.Resolve(context.Background(), twoSpeakers, Hints{}, nil)
	require.NoError(t, err)
	for id, a := range out {
		assert.Equal(t, models.RoleUnknown, a.Role, id)
		assert.True(t, a.RequiresManualAssignment, id)
	}
	assert.Equal(t, 0.55, out["speaker_1"].Confidence)
}

func TestResolve_ClassifierFailureGivesUnknownPlaceholders(t *testing.T) {
	fake := &FakeClassifier{Err: errors.New("connection refused")}
	r := NewResolver(fake, ResolverConfig{}, nil)

	out, err := r.Resolve(context.Background(), twoSpeakers, Hints{}, nil)
	require.Error(t, err)
	require.Len(t, out, 2)
	for _, a := range out {
		assert.Equal(t, models.RoleUnknown, a.Role)
		assert.True(t, a.RequiresManualAssignment)
		assert.Equal(t, models.RoleSourceFallback, a.Source)
	}
}

func TestResolve_NilResultIsInvalid(t *testing.T) {
	r := NewResolver(&FakeClassifier{}, ResolverConfig{}, nil)
	_, err := r.Resolve(context.Background(), twoSpeakers, Hints{}, nil)
	assert.True(t, errors.Is(err, ErrResponseInvalid))
}

func TestResolve_TimeoutBoundsTheCall(t *testing.T) {
	fake := &FakeClassifier{Block: true}
	r := NewResolver(fake, ResolverConfig{Timeout: 20 * time.Millisecond}, nil)

	start := time.Now()
	out, err := r.Resolve(context.Background(), twoSpeakers, Hints{}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), time.Second)
	assert.Len(t, out, 2)
}

func TestResolve_OnlyTargetsAreReturned(t *testing.T) {
	fake := &FakeClassifier{Result: &Classification{
		RoleMapping:      map[string]string{"speaker_1": "Doctor", "speaker_3": "Other"},
		ConfidenceScores: map[string]float64{"speaker_1": 0.9, "speaker_3": 0.8},
	}}
	r := NewResolver(fake, ResolverConfig{}, nil)

	batch := append(twoSpeakers, models.Segment{SpeakerID: "speaker_3", StartTime: 8, EndTime: 9, Text: "I'm her daughter"})
	out, err := r.Resolve(context.Background(), batch, Hints{}, []string{"speaker_3", "speaker_4"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, models.RoleOther, out["speaker_3"].Role)
	// omitted by the classifier
	assert.Equal(t, models.RoleUnknown, out["speaker_4"].Role)
	assert.Equal(t, 0.0, out["speaker_4"].Confidence)
	assert.True(t, out["speaker_4"].RequiresManualAssignment)
}

func TestResolve_UnparseableRoleAndClampedConfidence(t *testing.T) {
	fake := &FakeClassifier{Result: &Classification{
		RoleMapping:      map[string]string{"speaker_1": "Doctor", "speaker_2": "nurse"},
		ConfidenceScores: map[string]float64{"speaker_1": 1.7, "speaker_2": 0.9},
	}}
	r := NewResolver(fake, ResolverConfig{}, nil)

	out, err := r.Resolve(context.Background(), twoSpeakers, Hints{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, out["speaker_1"].Confidence)
	assert.Equal(t, models.RoleUnknown, out["speaker_2"].Role)
	assert.True(t, out["speaker_2"].RequiresManualAssignment)
}

func TestResolve_EmptyBatch(t *testing.T) {
	fake := &FakeClassifier{}
	r := NewResolver(fake, ResolverConfig{}, nil)
	out, err := r.Resolve(context.Background(), nil, Hints{}, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Zero(t, fake.Calls)
}
