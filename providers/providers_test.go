package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripJSONFences(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"plain json", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"surrounding whitespace", "  {\"a\":1}\n", `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripJSONFences(tt.content))
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	var out struct {
		Name string `json:"name"`
	}
	err := DecodeJSON("```json\n{\"name\":\"Asha\"}\n```", &out)
	require.NoError(t, err)
	assert.Equal(t, "Asha", out.Name)

	err = DecodeJSON("not json at all", &out)
	assert.Error(t, err)
}

func TestMockProviderScript(t *testing.T) {
	mock := NewMockProvider("mock", "first", "second")

	resp, err := mock.Chat(context.Background(), ChatRequest{System: "sys"})
	require.NoError(t, err)
	assert.Equal(t, "first", resp.Content)

	resp, err = mock.Chat(context.Background(), ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "second", resp.Content)

	// Script exhausted: last response repeats.
	resp, err = mock.Chat(context.Background(), ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "second", resp.Content)

	assert.Len(t, mock.Requests(), 3)
}

func TestMockProviderFailWith(t *testing.T) {
	boom := errors.New("boom")
	mock := NewMockProvider("mock", "ok", "ok").FailWith(nil, boom)

	_, err := mock.Chat(context.Background(), ChatRequest{})
	require.NoError(t, err)

	_, err = mock.Chat(context.Background(), ChatRequest{})
	assert.ErrorIs(t, err, boom)
}

func TestGenerationError(t *testing.T) {
	inner := errors.New("upstream 500")
	err := NewGenerationError("gemini", "persona_turn", inner)

	assert.True(t, IsGenerationError(err))
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "persona_turn")
	assert.False(t, IsGenerationError(inner))
}

func TestGeminiProviderChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req geminiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotNil(t, req.SystemInstruction)
		assert.Equal(t, "be helpful", req.SystemInstruction.Parts[0].Text)
		require.Len(t, req.Contents, 1)
		assert.Equal(t, RoleUser, req.Contents[0].Role)

		resp := geminiResponse{
			Candidates: []geminiCandidate{{
				Content: geminiContent{
					Role:  RoleModel,
					Parts: []geminiPart{{Text: "hello there"}},
				},
				FinishReason: "STOP",
			}},
			UsageMetadata: &geminiUsage{PromptTokenCount: 12, CandidatesTokenCount: 3},
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	p := NewGeminiProvider("gemini", "gemini-2.0-flash", "test-key", WithBaseURL(srv.URL))
	defer func() { _ = p.Close() }()

	resp, err := p.Chat(context.Background(), ChatRequest{
		System:   "be helpful",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello there", resp.Content)
	assert.Equal(t, 12, resp.InputTokens)
	assert.Equal(t, 3, resp.OutputTokens)
}

func TestGeminiProviderBlockedPrompt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := geminiResponse{
			PromptFeedback: &geminiPromptFeedback{BlockReason: "SAFETY"},
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	p := NewGeminiProvider("gemini", "gemini-2.0-flash", "test-key", WithBaseURL(srv.URL))
	_, err := p.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blocked")
}

func TestGeminiProviderHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewGeminiProvider("gemini", "gemini-2.0-flash", "test-key", WithBaseURL(srv.URL))
	_, err := p.Chat(context.Background(), ChatRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestGeminiProviderJSONResponseMode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req geminiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "application/json", req.GenerationConfig.ResponseMimeType)

		resp := geminiResponse{
			Candidates: []geminiCandidate{{
				Content:      geminiContent{Parts: []geminiPart{{Text: `{"ok":true}`}}},
				FinishReason: "STOP",
			}},
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	p := NewGeminiProvider("gemini", "gemini-2.0-flash", "test-key", WithBaseURL(srv.URL))
	resp, err := p.Chat(context.Background(), ChatRequest{JSONResponse: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, resp.Content)
}
