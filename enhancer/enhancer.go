// Package enhancer rewrites the agent prompt of a failed test run into a
// new, unpinned prompt version.
package enhancer

import (
	"context"
	"errors"
	"fmt"

	"github.com/svarunid/voiceflow/logger"
	"github.com/svarunid/voiceflow/prompts"
	"github.com/svarunid/voiceflow/providers"
	"github.com/svarunid/voiceflow/store"
	"github.com/svarunid/voiceflow/types"
)

// enhancementOp tags GenerationErrors produced by this package.
const enhancementOp = "prompt_enhancement"

// ErrPrecondition is returned when the referenced run is not eligible for
// enhancement: it must be completed, validated, and classified as failed.
var ErrPrecondition = errors.New("run is not eligible for enhancement")

// Enhancer produces improved prompt versions from failed runs.
// Enhancement never mutates existing versions and never changes the pin;
// adopting the new version is a separate, explicit operation.
type Enhancer struct {
	provider providers.Provider
	personas store.PersonaStore
	runs     store.RunStore
	versions store.VersionStore
}

// New creates a prompt enhancer backed by the given provider and stores.
func New(provider providers.Provider, personas store.PersonaStore, runs store.RunStore, versions store.VersionStore) *Enhancer {
	return &Enhancer{provider: provider, personas: personas, runs: runs, versions: versions}
}

// Enhance rewrites the prompt version a failed run executed with and
// appends the result as a new unpinned version attributed to that run.
//
// Only runs whose classification is failed are eligible; anything else is
// an ErrPrecondition. Calling Enhance twice on the same run yields two
// independent versions.
func (e *Enhancer) Enhance(ctx context.Context, runID string) (*types.PromptVersion, error) {
	run, err := e.runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}

	if err := eligible(run); err != nil {
		return nil, err
	}

	current, err := e.versions.Get(ctx, run.PromptVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to load run's prompt version: %w", err)
	}

	persona, err := e.personas.Get(ctx, run.PersonaID)
	if err != nil {
		return nil, fmt.Errorf("failed to load run's persona: %w", err)
	}

	logger.LLMCall(e.provider.ID(), enhancementOp, 1)

	resp, err := e.provider.Chat(ctx, providers.ChatRequest{
		System: prompts.Enhancer,
		Messages: []providers.Message{{
			Role:    providers.RoleUser,
			Content: prompts.EnhancerInput(current.Text, persona, run.Conversation, run.Metric, run.Feedback),
		}},
		Temperature: 0.7,
		MaxTokens:   4096,
	})
	if err != nil {
		logger.LLMError(e.provider.ID(), enhancementOp, err)
		return nil, providers.NewGenerationError(e.provider.ID(), enhancementOp, err)
	}

	text := providers.StripJSONFences(resp.Content)
	if err := prompts.ValidatePlaceholders(text); err != nil {
		logger.LLMError(e.provider.ID(), enhancementOp, err)
		return nil, providers.NewGenerationError(e.provider.ID(), enhancementOp, err)
	}

	version, err := e.versions.Append(ctx, text, types.VersionSource{
		Kind:  types.SourceEnhancer,
		RunID: run.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to append enhanced version: %w", err)
	}

	logger.LLMResponse(e.provider.ID(), enhancementOp, resp.InputTokens, resp.OutputTokens,
		"run_id", run.ID, "version", version.Version)
	return version, nil
}

// eligible checks the enhancement precondition on a run.
func eligible(run *types.TestRun) error {
	switch run.Classify() {
	case types.ClassificationFailed:
		return nil
	case types.ClassificationPending:
		return fmt.Errorf("%w: run %s has no validation metric", ErrPrecondition, run.ID)
	default:
		return fmt.Errorf("%w: run %s passed validation", ErrPrecondition, run.ID)
	}
}
