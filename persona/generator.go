// Package persona generates synthetic debtor personas from free-text
// archetype descriptions.
package persona

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"

	"github.com/svarunid/voiceflow/logger"
	"github.com/svarunid/voiceflow/prompts"
	"github.com/svarunid/voiceflow/providers"
	"github.com/svarunid/voiceflow/store"
	"github.com/svarunid/voiceflow/types"
)

// generationOp tags GenerationErrors produced by this package.
const generationOp = "persona_generation"

// personaSchema validates the shape of model-produced persona JSON before
// it is accepted. Missing fields and wrong types fail generation.
const personaSchema = `{
	"type": "object",
	"required": ["full_name", "age", "gender", "debt_amount", "due_date", "description"],
	"properties": {
		"full_name":   {"type": "string", "minLength": 1},
		"age":         {"type": "integer", "minimum": 18, "maximum": 75},
		"gender":      {"type": "string", "enum": ["male", "female", "non-binary"]},
		"debt_amount": {"type": "integer", "minimum": 1},
		"due_date":    {"type": "string", "pattern": "^[0-9]{4}-[0-9]{2}-[0-9]{2}$"},
		"description": {"type": "string", "minLength": 1}
	}
}`

// personaPayload is the wire shape the model is instructed to produce.
type personaPayload struct {
	FullName    string `json:"full_name"`
	Age         int    `json:"age"`
	Gender      string `json:"gender"`
	DebtAmount  int64  `json:"debt_amount"`
	DueDate     string `json:"due_date"`
	Description string `json:"description"`
}

// Generator produces personas through a generative model and persists them.
// Generation failures are surfaced to the caller without retry; regeneration
// is a fresh, idempotent request.
type Generator struct {
	provider providers.Provider
	personas store.PersonaStore
	schema   *gojsonschema.Schema
}

// NewGenerator creates a persona generator backed by the given provider
// and store.
func NewGenerator(provider providers.Provider, personas store.PersonaStore) (*Generator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(personaSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile persona schema: %w", err)
	}
	return &Generator{provider: provider, personas: personas, schema: schema}, nil
}

// Generate calls the generative model with the archetype description and
// persists the resulting persona. On success exactly one persona record is
// written; on failure nothing is.
func (g *Generator) Generate(ctx context.Context, prompt string) (*types.Persona, error) {
	logger.LLMCall(g.provider.ID(), generationOp, 1)

	resp, err := g.provider.Chat(ctx, providers.ChatRequest{
		System: prompts.PersonaGenerator,
		Messages: []providers.Message{{
			Role:    providers.RoleUser,
			Content: fmt.Sprintf("Generate a defaulter persona based on this description: %s", prompt),
		}},
		Temperature:  0.9,
		MaxTokens:    2048,
		JSONResponse: true,
	})
	if err != nil {
		logger.LLMError(g.provider.ID(), generationOp, err)
		return nil, providers.NewGenerationError(g.provider.ID(), generationOp, err)
	}

	payload, err := g.parse(resp.Content)
	if err != nil {
		logger.LLMError(g.provider.ID(), generationOp, err)
		return nil, providers.NewGenerationError(g.provider.ID(), generationOp, err)
	}

	p := &types.Persona{
		ID:          uuid.NewString(),
		FullName:    payload.FullName,
		Age:         payload.Age,
		Gender:      payload.Gender,
		DebtAmount:  payload.DebtAmount,
		DueDate:     payload.DueDate,
		Description: payload.Description,
		CreatedAt:   time.Now(),
	}

	if err := g.personas.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to persist persona: %w", err)
	}

	logger.LLMResponse(g.provider.ID(), generationOp, resp.InputTokens, resp.OutputTokens,
		"persona", p.ID)
	return p, nil
}

// parse validates the model output against the persona schema and decodes it.
func (g *Generator) parse(content string) (*personaPayload, error) {
	cleaned := providers.StripJSONFences(content)

	result, err := g.schema.Validate(gojsonschema.NewStringLoader(cleaned))
	if err != nil {
		return nil, fmt.Errorf("persona output is not valid JSON: %w", err)
	}
	if !result.Valid() {
		return nil, fmt.Errorf("persona JSON failed schema validation: %v", result.Errors())
	}

	var payload personaPayload
	if err := providers.DecodeJSON(cleaned, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}
