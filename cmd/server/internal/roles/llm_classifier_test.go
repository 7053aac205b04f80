package roles

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houzhh15/consultscribe/cmd/server/internal/models"
)

func chatServer(t *testing.T, status int, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		assert.Equal(t, "gpt-test", req.Model)
		if assert.NotNil(t, req.ResponseFormat) {
			assert.Equal(t, "json_object", req.ResponseFormat.Type)
		}
		if assert.Len(t, req.Messages, 2) {
			assert.Contains(t, req.Messages[1].Content, "[speaker_1 0.0-3.0] Let me check your blood pressure")
			assert.Contains(t, req.Messages[1].Content, "Clinician specialty: cardiology")
		}

		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(content))
			return
		}
		resp := map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": content}}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func newTestLLM(t *testing.T, url string) *LLMClassifier {
	t.Helper()
	c, err := NewLLMClassifier(LLMOptions{BaseURL: url + "/v1", Model: "gpt-test", APIKey: "test-key"})
	require.NoError(t, err)
	return c
}

var llmBatch = []models.Segment{
	{SpeakerID: "speaker_1", StartTime: 0, EndTime: 3, Text: "Let me check your blood pressure"},
	{SpeakerID: "speaker_2", StartTime: 3, EndTime: 6, Text: "I've been dizzy all week"},
}

func TestLLMClassifier_Classify(t *testing.T) {
	content := `{"role_mapping":{"speaker_1":"Doctor","speaker_2":"Patient"},` +
		`"confidence_scores":{"speaker_1":0.93,"speaker_2":0.88},` +
		`"reasoning":{"speaker_1":"measures vitals","speaker_2":"reports symptoms"}}`
	srv := chatServer(t, http.StatusOK, content)
	defer srv.Close()

	out, err := newTestLLM(t, srv.URL).Classify(context.Background(), llmBatch, Hints{DoctorSpecialty: "cardiology"})
	require.NoError(t, err)
	assert.Equal(t, "Doctor", out.RoleMapping["speaker_1"])
	assert.Equal(t, 0.88, out.ConfidenceScores["speaker_2"])
	assert.Equal(t, "measures vitals", out.Reasoning["speaker_1"])
}

func TestLLMClassifier_FencedJSON(t *testing.T) {
	content := "```json\n{\"role_mapping\":{\"speaker_1\":\"Doctor\"},\"confidence_scores\":{\"speaker_1\":0.8}}\n```"
	srv := chatServer(t, http.StatusOK, content)
	defer srv.Close()

	out, err := newTestLLM(t, srv.URL).Classify(context.Background(), llmBatch, Hints{DoctorSpecialty: "cardiology"})
	require.NoError(t, err)
	assert.Equal(t, "Doctor", out.RoleMapping["speaker_1"])
}

func TestLLMClassifier_InvalidContent(t *testing.T) {
	srv := chatServer(t, http.StatusOK, "the first speaker is the doctor")
	defer srv.Close()

	_, err := newTestLLM(t, srv.URL).Classify(context.Background(), llmBatch, Hints{DoctorSpecialty: "cardiology"})
	assert.ErrorIs(t, err, ErrResponseInvalid)
}

func TestLLMClassifier_UpstreamError(t *testing.T) {
	srv := chatServer(t, http.StatusBadGateway, "upstream overloaded")
	defer srv.Close()

	_, err := newTestLLM(t, srv.URL).Classify(context.Background(), llmBatch, Hints{DoctorSpecialty: "cardiology"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "502"))
}

func TestNewLLMClassifier_MissingKey(t *testing.T) {
	t.Setenv("CONSULT_TEST_EMPTY_KEY", "")
	_, err := NewLLMClassifier(LLMOptions{APIKeyEnv: "CONSULT_TEST_EMPTY_KEY"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestNewLLMClassifier_KeyFromEnvAndFullEndpoint(t *testing.T) {
	t.Setenv("CONSULT_TEST_KEY", "k")
	c, err := NewLLMClassifier(LLMOptions{APIKeyEnv: "CONSULT_TEST_KEY", EndpointPath: "https://llm.internal/v2/chat"})
	require.NoError(t, err)
	assert.Equal(t, "https://llm.internal/v2/chat", c.url)
	assert.Equal(t, "k", c.apiKey)
	assert.Equal(t, "llm", c.Name())
}
