package diarization

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/houzhh15/consultscribe/cmd/server/internal/models"
	"github.com/houzhh15/consultscribe/pkg/logger"
)

// HTTPDiarizer implements Diarizer against a REST diarization service.
//
// API:
//   - POST {baseURL}/api/v1/diarize, multipart fields "audio" (file) and "language"
//   - GET  {baseURL}/health
type HTTPDiarizer struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPDiarizer creates a client for baseURL. timeout bounds a whole request;
// callers usually also pass a context deadline per chunk.
func NewHTTPDiarizer(baseURL string, timeout time.Duration, l *slog.Logger) *HTTPDiarizer {
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	return &HTTPDiarizer{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.OrDefault(l),
	}
}

// Diarize sends the chunk as multipart/form-data and parses the JSON response.
func (h *HTTPDiarizer) Diarize(ctx context.Context, req Request) (*Result, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	filename := req.Filename
	if filename == "" {
		filename = fmt.Sprintf("chunk_%04d.wav", req.ChunkIndex)
	}
	part, err := writer.CreateFormFile("audio", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(req.Audio); err != nil {
		return nil, fmt.Errorf("failed to copy audio data: %w", err)
	}
	if req.LanguageHint != "" {
		if err := writer.WriteField("language", req.LanguageHint); err != nil {
			return nil, fmt.Errorf("failed to write language field: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	endpoint := h.baseURL + "/api/v1/diarize"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	h.logger.Debug("sending diarization request",
		"endpoint", endpoint, "session_id", req.SessionID, "chunk_index", req.ChunkIndex, "bytes", len(req.Audio))

	resp, err := h.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(bodyBytes))}
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse JSON response: %w", err)
	}
	if result.Segments == nil {
		result.Segments = []models.Segment{}
	}
	return &result, nil
}

// HealthCheck returns true when GET /health answers 200.
func (h *HTTPDiarizer) HealthCheck(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/health", nil)
	if err != nil {
		return false, fmt.Errorf("failed to create health check request: %w", err)
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return true, nil
	}
	return false, fmt.Errorf("health check failed: status %d", resp.StatusCode)
}

// Name returns "http".
func (h *HTTPDiarizer) Name() string {
	return "http"
}
