package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/svarunid/voiceflow/logger"
)

// HTTP constants
const (
	contentTypeHeader = "Content-Type"
	applicationJSON   = "application/json"
	httpClientTimeout = 60 * time.Second

	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
)

// Gemini finish reasons that indicate an unusable response.
const (
	finishReasonMaxTokens  = "MAX_TOKENS"
	finishReasonSafety     = "SAFETY"
	finishReasonRecitation = "RECITATION"
)

// GeminiProvider implements the Provider interface for Google Gemini.
type GeminiProvider struct {
	id      string
	model   string
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
}

// GeminiOption configures a GeminiProvider.
type GeminiOption func(*GeminiProvider)

// WithBaseURL overrides the Gemini API base URL. Used in tests to point the
// provider at a local fake.
func WithBaseURL(baseURL string) GeminiOption {
	return func(p *GeminiProvider) { p.baseURL = baseURL }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) GeminiOption {
	return func(p *GeminiProvider) { p.client = client }
}

// WithRateLimit bounds outbound request rate. Burst allows short spikes
// while holding the sustained rate at rps requests per second.
func WithRateLimit(rps float64, burst int) GeminiOption {
	return func(p *GeminiProvider) { p.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// NewGeminiProvider creates a new Gemini provider. The API key comes from
// the caller (typically configuration, falling back to GEMINI_API_KEY or
// GOOGLE_API_KEY in the config layer).
func NewGeminiProvider(id, model, apiKey string, opts ...GeminiOption) *GeminiProvider {
	p := &GeminiProvider{
		id:      id,
		model:   model,
		baseURL: defaultGeminiBaseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: httpClientTimeout},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ID returns the provider ID.
func (p *GeminiProvider) ID() string {
	return p.id
}

// Model returns the model name/identifier used by this provider.
func (p *GeminiProvider) Model() string {
	return p.model
}

// Close cleans up provider resources.
func (p *GeminiProvider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

// Gemini API request/response structures
type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenConfig `json:"generationConfig"`
	SafetySettings    []geminiSafety  `json:"safetySettings,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiGenConfig struct {
	Temperature      float32 `json:"temperature"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"` // "text/plain" or "application/json"
}

type geminiSafety struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type geminiResponse struct {
	Candidates     []geminiCandidate     `json:"candidates"`
	UsageMetadata  *geminiUsage          `json:"usageMetadata,omitempty"`
	PromptFeedback *geminiPromptFeedback `json:"promptFeedback,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
	Index        int           `json:"index"`
}

type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type geminiPromptFeedback struct {
	BlockReason string `json:"blockReason,omitempty"`
}

// convertMessages converts provider messages to Gemini contents.
// Gemini uses "user" and "model" roles, which Message already carries.
func convertMessages(messages []Message) []geminiContent {
	contents := make([]geminiContent, 0, len(messages))
	for _, msg := range messages {
		contents = append(contents, geminiContent{
			Role:  msg.Role,
			Parts: []geminiPart{{Text: msg.Content}},
		})
	}
	return contents
}

// buildRequest creates a Gemini API request with standard safety settings.
func (p *GeminiProvider) buildRequest(req ChatRequest) geminiRequest {
	var systemInstruction *geminiContent
	if req.System != "" {
		systemInstruction = &geminiContent{
			Parts: []geminiPart{{Text: req.System}},
		}
	}

	gr := geminiRequest{
		Contents:          convertMessages(req.Messages),
		SystemInstruction: systemInstruction,
		GenerationConfig: geminiGenConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		},
		SafetySettings: []geminiSafety{
			{Category: "HARM_CATEGORY_HARASSMENT", Threshold: "BLOCK_NONE"},
			{Category: "HARM_CATEGORY_HATE_SPEECH", Threshold: "BLOCK_NONE"},
			{Category: "HARM_CATEGORY_SEXUALLY_EXPLICIT", Threshold: "BLOCK_NONE"},
			{Category: "HARM_CATEGORY_DANGEROUS_CONTENT", Threshold: "BLOCK_NONE"},
		},
	}
	if req.JSONResponse {
		gr.GenerationConfig.ResponseMimeType = applicationJSON
	}
	return gr
}

// Chat performs a generateContent request against the Gemini API.
func (p *GeminiProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return ChatResponse{}, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	start := time.Now()

	body, err := json.Marshal(p.buildRequest(req))
	if err != nil {
		return ChatResponse{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", p.baseURL, p.model, p.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return ChatResponse{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set(contentTypeHeader, applicationJSON)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("gemini request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		logger.Debug("Gemini API error body", "status", resp.StatusCode, "body", string(respBody))
		return ChatResponse{}, fmt.Errorf("gemini API returned status %d", resp.StatusCode)
	}

	var geminiResp geminiResponse
	if err := json.Unmarshal(respBody, &geminiResp); err != nil {
		return ChatResponse{}, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if len(geminiResp.Candidates) == 0 {
		if geminiResp.PromptFeedback != nil && geminiResp.PromptFeedback.BlockReason != "" {
			return ChatResponse{}, fmt.Errorf("prompt blocked by Gemini: %s", geminiResp.PromptFeedback.BlockReason)
		}
		return ChatResponse{}, fmt.Errorf("no candidates in response")
	}

	candidate := geminiResp.Candidates[0]
	if len(candidate.Content.Parts) == 0 {
		return ChatResponse{}, p.finishReasonError(candidate.FinishReason)
	}

	out := ChatResponse{
		Content: candidate.Content.Parts[0].Text,
		Latency: time.Since(start),
	}
	if geminiResp.UsageMetadata != nil {
		out.InputTokens = geminiResp.UsageMetadata.PromptTokenCount
		out.OutputTokens = geminiResp.UsageMetadata.CandidatesTokenCount
	}
	return out, nil
}

// finishReasonError maps error finish reasons to descriptive errors.
func (p *GeminiProvider) finishReasonError(finishReason string) error {
	switch finishReason {
	case finishReasonMaxTokens:
		return fmt.Errorf("gemini returned MAX_TOKENS (raise the output token limit)")
	case finishReasonSafety:
		return fmt.Errorf("response blocked by Gemini safety filters")
	case finishReasonRecitation:
		return fmt.Errorf("response blocked due to recitation concerns")
	default:
		return fmt.Errorf("no content parts in response (finish reason: %s)", finishReason)
	}
}
