package roles

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/houzhh15/consultscribe/cmd/server/internal/models"
)

// LLMOptions OpenAI 兼容接口的最小配置
type LLMOptions struct {
	// BaseURL 例如 https://api.openai.com/v1
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	// APIKeyEnv 优先从环境变量读取密钥
	APIKeyEnv string `yaml:"api_key_env"`
	APIKey    string `yaml:"-"`
	// EndpointPath 覆盖默认 /chat/completions，可为完整 URL
	EndpointPath string        `yaml:"endpoint_path"`
	Timeout      time.Duration `yaml:"timeout"`
	Temperature  *float64      `yaml:"temperature"`
}

func (o *LLMOptions) defaults() {
	if o.BaseURL == "" {
		o.BaseURL = "https://api.openai.com/v1"
	}
	if o.Model == "" {
		o.Model = "gpt-4.1-mini"
	}
	if o.APIKeyEnv == "" {
		o.APIKeyEnv = "OPENAI_API_KEY"
	}
	if o.EndpointPath == "" {
		o.EndpointPath = "/chat/completions"
	}
	if o.Timeout <= 0 {
		o.Timeout = 120 * time.Second
	}
}

// LLMClassifier asks an OpenAI-compatible chat completions endpoint to label speakers.
type LLMClassifier struct {
	hc     *http.Client
	url    string
	apiKey string
	model  string
	temp   *float64
}

// NewLLMClassifier 构造客户端，缺少 API Key 时返回 ErrInvalidInput
func NewLLMClassifier(opts LLMOptions) (*LLMClassifier, error) {
	opts.defaults()
	key := opts.APIKey
	if key == "" {
		key = os.Getenv(opts.APIKeyEnv)
	}
	if key == "" {
		return nil, fmt.Errorf("llm classifier: %w: missing api key (env %s)", ErrInvalidInput, opts.APIKeyEnv)
	}

	fullURL := opts.EndpointPath
	if !(strings.HasPrefix(fullURL, "http://") || strings.HasPrefix(fullURL, "https://")) {
		fullURL = strings.TrimRight(opts.BaseURL, "/") + "/" + strings.TrimLeft(opts.EndpointPath, "/")
	}
	return &LLMClassifier{
		hc:     &http.Client{Timeout: opts.Timeout},
		url:    fullURL,
		apiKey: key,
		model:  opts.Model,
		temp:   opts.Temperature,
	}, nil
}

// Name 返回分类器名称
func (c *LLMClassifier) Name() string { return "llm" }

// Source 远程语义分类
func (c *LLMClassifier) Source() models.RoleSource { return models.RoleSourceRemote }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

const systemPrompt = `You label the speakers of a medical consultation transcript.
For every speaker id decide whether the speaker is the clinician ("Doctor"), the "Patient", or someone else ("Other", e.g. a family member or interpreter).
Use "Unknown" when the text gives no evidence. Do not guess: report a low confidence instead.
Answer with one JSON object: {"role_mapping": {"<speaker id>": "<role>"}, "confidence_scores": {"<speaker id>": <0..1>}, "reasoning": {"<speaker id>": "<one sentence>"}}.`

// Classify 发送转写片段并解析 JSON 结果
func (c *LLMClassifier) Classify(ctx context.Context, batch []models.Segment, hints Hints) (*Classification, error) {
	if len(batch) == 0 {
		return nil, fmt.Errorf("%w: empty segment batch", ErrInvalidInput)
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildUserPrompt(batch, hints)},
		},
		Temperature:    c.temp,
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %v: %w", err, ErrInvalidInput)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("llm upstream %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var cr chatResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResponseInvalid, err)
	}
	if len(cr.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices", ErrResponseInvalid)
	}
	return parseClassification(cr.Choices[0].Message.Content)
}

func parseClassification(content string) (*Classification, error) {
	content = strings.TrimSpace(content)
	// 部分兼容服务会用 markdown 代码块包裹 JSON
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var out Classification
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResponseInvalid, err)
	}
	if out.RoleMapping == nil {
		return nil, fmt.Errorf("%w: missing role_mapping", ErrResponseInvalid)
	}
	return &out, nil
}

func buildUserPrompt(batch []models.Segment, hints Hints) string {
	var b strings.Builder
	if hints.DoctorSpecialty != "" {
		fmt.Fprintf(&b, "Clinician specialty: %s\n", hints.DoctorSpecialty)
	}
	if hints.PatientContext != "" {
		fmt.Fprintf(&b, "Patient context: %s\n", hints.PatientContext)
	}
	if hints.LanguageHint != "" {
		fmt.Fprintf(&b, "Language: %s\n", hints.LanguageHint)
	}
	if len(hints.KnownRoles) > 0 {
		ids := make([]string, 0, len(hints.KnownRoles))
		for id := range hints.KnownRoles {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		b.WriteString("Already identified:\n")
		for _, id := range ids {
			fmt.Fprintf(&b, "- %s: %s\n", id, hints.KnownRoles[id])
		}
	}
	b.WriteString("Transcript:\n")
	for _, seg := range batch {
		fmt.Fprintf(&b, "[%s %.1f-%.1f] %s\n", seg.SpeakerID, seg.StartTime, seg.EndTime, seg.Text)
	}
	return b.String()
}
