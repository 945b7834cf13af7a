package providers

import (
	"context"
	"fmt"
	"sync"
)

// MockProvider is a provider implementation for testing and development.
// It returns scripted responses in order without making any API calls and
// records every request it receives.
type MockProvider struct {
	id string

	mu        sync.Mutex
	responses []string
	errs      []error
	next      int
	requests  []ChatRequest
}

// NewMockProvider creates a mock provider that cycles through the given
// responses. When the script is exhausted, the last response repeats.
func NewMockProvider(id string, responses ...string) *MockProvider {
	return &MockProvider{id: id, responses: responses}
}

// FailWith queues an error to be returned instead of the response at the
// same script position. A nil entry means the call succeeds.
func (m *MockProvider) FailWith(errs ...error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = errs
	return m
}

// Requests returns a copy of every ChatRequest this provider has received.
func (m *MockProvider) Requests() []ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ChatRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// ID returns the provider ID.
func (m *MockProvider) ID() string {
	return m.id
}

// Chat returns the next scripted response.
func (m *MockProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return ChatResponse{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)

	pos := m.next
	m.next++

	if pos < len(m.errs) && m.errs[pos] != nil {
		return ChatResponse{}, m.errs[pos]
	}

	if len(m.responses) == 0 {
		return ChatResponse{}, fmt.Errorf("mock provider %s has no scripted responses", m.id)
	}
	if pos >= len(m.responses) {
		pos = len(m.responses) - 1
	}

	content := m.responses[pos]
	return ChatResponse{
		Content:      content,
		InputTokens:  approximateTokens(req),
		OutputTokens: len(content) / 4,
	}, nil
}

// Close is a no-op for the mock provider.
func (m *MockProvider) Close() error {
	return nil
}

// approximateTokens estimates input tokens at ~4 chars per token.
func approximateTokens(req ChatRequest) int {
	total := len(req.System)
	for _, msg := range req.Messages {
		total += len(msg.Content)
	}
	if total == 0 {
		return 10
	}
	return total / 4
}
