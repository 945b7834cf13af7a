// Package providers implements generative-model provider support with a
// unified chat interface.
//
// Every generative call in the simulation core — agent turns, persona turns,
// persona generation, validation and prompt enhancement — goes through the
// single Provider abstraction defined here. The core does not care which
// upstream service backs it.
package providers

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Message roles used on the provider wire. Conversation history is mapped
// into these roles relative to the side being generated: the side producing
// the next utterance sees its own prior turns as "model" and the
// counterpart's as "user".
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Message is a single history entry sent to a provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest represents a request to a chat provider.
type ChatRequest struct {
	// System is the system context (instructions) for the call.
	System string `json:"system"`

	// Messages is the ordered conversation history.
	Messages []Message `json:"messages"`

	Temperature float32 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`

	// JSONResponse requests a structured JSON body instead of free text,
	// for calls whose output is parsed (persona generation, validation).
	JSONResponse bool `json:"json_response,omitempty"`
}

// ChatResponse represents a response from a chat provider.
type ChatResponse struct {
	Content      string        `json:"content"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	Latency      time.Duration `json:"latency"`
}

// Provider is the contract for chat providers.
type Provider interface {
	ID() string
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)

	// Close cleans up provider resources (e.g., HTTP connections).
	Close() error
}

// GenerationError wraps any failure of a generative-model call, including
// upstream errors and unparseable output. Callers use errors.As to detect
// it and scope the failure to the operation that produced it.
type GenerationError struct {
	Provider string // provider ID, empty when the failure is local parsing
	Op       string // logical operation: "agent_turn", "persona_turn", ...
	Err      error
}

// NewGenerationError wraps err as a GenerationError for the given provider
// and operation.
func NewGenerationError(provider, op string, err error) *GenerationError {
	return &GenerationError{Provider: provider, Op: op, Err: err}
}

// Error implements the error interface.
func (e *GenerationError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("generation failed (%s): %v", e.Op, e.Err)
	}
	return fmt.Sprintf("generation failed (%s, provider %s): %v", e.Op, e.Provider, e.Err)
}

// Unwrap returns the wrapped error.
func (e *GenerationError) Unwrap() error {
	return e.Err
}

// IsGenerationError reports whether err is (or wraps) a GenerationError.
func IsGenerationError(err error) bool {
	var ge *GenerationError
	return errors.As(err, &ge)
}
