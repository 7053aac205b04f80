package roles

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houzhh15/consultscribe/cmd/server/internal/models"
)

func TestCueClassifier_DoctorPatientExample(t *testing.T) {
	batch := []models.Segment{
		{SpeakerID: "speaker_1", StartTime: 0, EndTime: 3, Text: "Let me check your blood pressure"},
		{SpeakerID: "speaker_2", StartTime: 3, EndTime: 7, Text: "I've been having headaches and I feel dizzy"},
	}

	c := NewCueClassifier(nil, nil)
	out, err := c.Classify(context.Background(), batch, Hints{})
	require.NoError(t, err)
	assert.Equal(t, "Doctor", out.RoleMapping["speaker_1"])
	assert.Equal(t, "Patient", out.RoleMapping["speaker_2"])
	assert.Greater(t, out.ConfidenceScores["speaker_1"], 0.7)
	assert.Greater(t, out.ConfidenceScores["speaker_2"], 0.7)

	// through the resolver nothing needs manual review
	r := NewResolver(c, ResolverConfig{ConfidenceThreshold: 0.7}, nil)
	assignments, err := r.Resolve(context.Background(), batch, Hints{}, nil)
	require.NoError(t, err)
	assert.Equal(t, models.RoleDoctor, assignments["speaker_1"].Role)
	assert.Equal(t, models.RolePatient, assignments["speaker_2"].Role)
	assert.False(t, assignments["speaker_1"].RequiresManualAssignment)
	assert.False(t, assignments["speaker_2"].RequiresManualAssignment)
	assert.Equal(t, models.RoleSourceHeuristic, assignments["speaker_1"].Source)
}

func TestCueClassifier_ThreeSpeakersWithFamilyMember(t *testing.T) {
	batch := []models.Segment{
		{SpeakerID: "speaker_1", Text: "How long have you had the cough?"},
		{SpeakerID: "speaker_2", Text: "I've been coughing for two weeks and I feel tired"},
		{SpeakerID: "speaker_3", Text: "She can't sleep at night because of it"},
		{SpeakerID: "speaker_1", Text: "I'll prescribe something for the cough"},
	}

	out, err := NewCueClassifier(nil, nil).Classify(context.Background(), batch, Hints{})
	require.NoError(t, err)
	assert.Equal(t, "Doctor", out.RoleMapping["speaker_1"])
	assert.Equal(t, "Patient", out.RoleMapping["speaker_2"])
	assert.Equal(t, "Other", out.RoleMapping["speaker_3"])
	assert.LessOrEqual(t, out.ConfidenceScores["speaker_3"], 0.5)
}

func TestCueClassifier_NoCuesIsUnknown(t *testing.T) {
	batch := []models.Segment{
		{SpeakerID: "speaker_1", Text: "okay"},
		{SpeakerID: "speaker_2", Text: "right"},
	}
	out, err := NewCueClassifier(nil, nil).Classify(context.Background(), batch, Hints{})
	require.NoError(t, err)
	assert.Equal(t, "Unknown", out.RoleMapping["speaker_1"])
	assert.Equal(t, 0.0, out.ConfidenceScores["speaker_2"])
}

func TestCueClassifier_RespectsKnownRoles(t *testing.T) {
	batch := []models.Segment{
		{SpeakerID: "speaker_1", Text: "Let me check your blood pressure"},
		{SpeakerID: "speaker_3", Text: "How long have you been on this medication?"},
	}
	hints := Hints{KnownRoles: map[string]models.Role{"speaker_1": models.RoleDoctor}}

	out, err := NewCueClassifier(nil, nil).Classify(context.Background(), batch, hints)
	require.NoError(t, err)
	_, classified := out.RoleMapping["speaker_1"]
	assert.False(t, classified, "known speakers are context only")
	assert.Equal(t, "Other", out.RoleMapping["speaker_3"])
}

func TestCueClassifier_ChineseCuesAndExtraCues(t *testing.T) {
	batch := []models.Segment{
		{SpeakerID: "speaker_1", Text: "我先给你量一下血压"},
		{SpeakerID: "speaker_2", Text: "我最近一直头晕"},
		{SpeakerID: "speaker_3", Text: "auscultation sounds clear"},
	}

	out, err := NewCueClassifier([]string{"Auscultation"}, nil).Classify(context.Background(), batch, Hints{})
	require.NoError(t, err)
	assert.Equal(t, "Doctor", out.RoleMapping["speaker_1"])
	assert.Equal(t, "Patient", out.RoleMapping["speaker_2"])
	assert.Equal(t, "Other", out.RoleMapping["speaker_3"])
}

func TestCueClassifier_EmptyBatch(t *testing.T) {
	_, err := NewCueClassifier(nil, nil).Classify(context.Background(), nil, Hints{})
	assert.ErrorIs(t, err, ErrInvalidInput)
}
