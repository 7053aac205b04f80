package transcript

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houzhh15/consultscribe/cmd/server/internal/models"
	"github.com/houzhh15/consultscribe/cmd/server/internal/registry"
)

func sampleDoc() Document {
	return Document{
		SessionID: "sess-1",
		Final:     true,
		Segments: []models.TranscriptSegment{
			{Segment: models.Segment{SpeakerID: "speaker_1", StartTime: 0, EndTime: 2.5, Text: "Any allergies?"}, Role: models.RoleDoctor},
			{Segment: models.Segment{SpeakerID: "speaker_2", StartTime: 3661.042, EndTime: 3662, Text: "No."}, Role: models.RoleUnknown},
		},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatText, false},
		{"TEXT", FormatText, false},
		{"json", FormatJSON, false},
		{"srt", FormatSRT, false},
		{"webvtt", FormatVTT, false},
		{"docx", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, FormatText, sampleDoc()))
	assert.Equal(t,
		"[00:00:00.000 --> 00:00:02.500] [speaker_1 Doctor] Any allergies?\n"+
			"[01:01:01.042 --> 01:01:02.000] [speaker_2] No.\n",
		buf.String())
}

func TestRenderSRT(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, FormatSRT, sampleDoc()))
	assert.Equal(t,
		"1\n00:00:00,000 --> 00:00:02,500\n[speaker_1 Doctor] Any allergies?\n\n"+
			"2\n01:01:01,042 --> 01:01:02,000\n[speaker_2] No.\n\n",
		buf.String())
}

func TestRenderVTT(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, FormatVTT, sampleDoc()))
	out := buf.String()
	assert.Contains(t, out, "WEBVTT\n\n")
	assert.Contains(t, out, "00:00:00.000 --> 00:00:02.500\n<v speaker_1 Doctor>Any allergies?\n")
}

func TestRenderJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, FormatJSON, sampleDoc()))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "sess-1", decoded["session_id"])
	segs := decoded["segments"].([]any)
	require.Len(t, segs, 2)
	first := segs[0].(map[string]any)
	assert.Equal(t, "speaker_1", first["speaker_id"])
	assert.Equal(t, "Doctor", first["role"])
}

func TestRenderUnknownFormat(t *testing.T) {
	assert.Error(t, Render(&bytes.Buffer{}, Format("pdf"), sampleDoc()))
}

func TestFromRegistry(t *testing.T) {
	reg := registry.New("sess-9", registry.Options{})
	doc := FromRegistry(reg)
	assert.Equal(t, "sess-9", doc.SessionID)
	assert.False(t, doc.Final)
	assert.NotNil(t, doc.Segments)
	assert.NotNil(t, doc.Speakers)

	_, err := reg.RegisterChunk(models.ChunkSpec{Index: 0, StartTime: 0, EndTime: 30}, []models.Segment{
		{SpeakerID: "A", StartTime: 1, EndTime: 4, Text: "hello"},
	}, nil)
	require.NoError(t, err)
	reg.Freeze()

	doc = FromRegistry(reg)
	assert.True(t, doc.Final)
	require.Len(t, doc.Segments, 1)
	assert.Equal(t, "speaker_1", doc.Segments[0].SpeakerID)
	assert.Equal(t, models.RoleUnknown, doc.Segments[0].Role)
}
