// Package validator scores completed test-run transcripts on the two
// behavioral axes and produces free-text feedback for the enhancer.
package validator

import (
	"context"
	"fmt"

	"github.com/svarunid/voiceflow/logger"
	"github.com/svarunid/voiceflow/prompts"
	"github.com/svarunid/voiceflow/providers"
	"github.com/svarunid/voiceflow/types"
)

// validationOp tags GenerationErrors produced by this package.
const validationOp = "transcript_validation"

// Result is one scored evaluation of a transcript.
type Result struct {
	Metric   types.Metric
	Feedback string
}

// verdict is the wire shape the model is instructed to produce.
type verdict struct {
	Metric struct {
		Politeness       string `json:"politeness"`
		NegotiationLevel string `json:"negotiation_level"`
	} `json:"metric"`
	Feedback string `json:"feedback"`
}

// Validator evaluates transcripts through a generative model.
// Evaluation runs at most once per transcript; an error here leaves the
// run's metric unset rather than failing the run.
type Validator struct {
	provider providers.Provider
}

// New creates a transcript validator backed by the given provider.
func New(provider providers.Provider) *Validator {
	return &Validator{provider: provider}
}

// Validate scores a completed transcript, with the persona the agent was
// speaking with as context. The returned metric always carries legal
// values on both axes; out-of-vocabulary model output is a generation
// failure.
func (v *Validator) Validate(ctx context.Context, persona *types.Persona, conv types.Conversation) (*Result, error) {
	if len(conv) == 0 {
		return nil, providers.NewGenerationError(v.provider.ID(), validationOp,
			fmt.Errorf("cannot validate an empty transcript"))
	}

	logger.LLMCall(v.provider.ID(), validationOp, 1)

	resp, err := v.provider.Chat(ctx, providers.ChatRequest{
		System: prompts.Validator,
		Messages: []providers.Message{{
			Role:    providers.RoleUser,
			Content: prompts.ValidatorInput(persona, conv),
		}},
		Temperature:  0.2,
		MaxTokens:    2048,
		JSONResponse: true,
	})
	if err != nil {
		logger.LLMError(v.provider.ID(), validationOp, err)
		return nil, providers.NewGenerationError(v.provider.ID(), validationOp, err)
	}

	result, err := parseVerdict(resp.Content)
	if err != nil {
		logger.LLMError(v.provider.ID(), validationOp, err)
		return nil, providers.NewGenerationError(v.provider.ID(), validationOp, err)
	}

	logger.LLMResponse(v.provider.ID(), validationOp, resp.InputTokens, resp.OutputTokens,
		"politeness", result.Metric.Politeness,
		"negotiation_level", result.Metric.NegotiationLevel)
	return result, nil
}

// parseVerdict decodes and vocabulary-checks the model's verdict.
func parseVerdict(content string) (*Result, error) {
	var raw verdict
	if err := providers.DecodeJSON(providers.StripJSONFences(content), &raw); err != nil {
		return nil, err
	}

	politeness, err := parsePoliteness(raw.Metric.Politeness)
	if err != nil {
		return nil, err
	}
	negotiation, err := parseNegotiation(raw.Metric.NegotiationLevel)
	if err != nil {
		return nil, err
	}
	if raw.Feedback == "" {
		return nil, fmt.Errorf("verdict is missing feedback")
	}

	return &Result{
		Metric:   types.Metric{Politeness: politeness, NegotiationLevel: negotiation},
		Feedback: raw.Feedback,
	}, nil
}

func parsePoliteness(s string) (types.Politeness, error) {
	switch p := types.Politeness(s); p {
	case types.PolitenessPolite, types.PolitenessNeutral, types.PolitenessRude:
		return p, nil
	}
	return "", fmt.Errorf("invalid politeness value: %q", s)
}

func parseNegotiation(s string) (types.NegotiationLevel, error) {
	switch n := types.NegotiationLevel(s); n {
	case types.NegotiationSoft, types.NegotiationModerate, types.NegotiationHard:
		return n, nil
	}
	return "", fmt.Errorf("invalid negotiation_level value: %q", s)
}
