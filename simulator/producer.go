package simulator

import (
	"context"

	"github.com/svarunid/voiceflow/prompts"
	"github.com/svarunid/voiceflow/providers"
	"github.com/svarunid/voiceflow/types"
)

// callOpening is the synthetic user message handed to the agent model when
// the transcript is still empty. Providers reject an empty history, and the
// agent has to speak first on an outbound call.
const callOpening = "The call has just connected. Greet the customer and begin."

// TurnProducer generates the next utterance for one side of the call.
type TurnProducer interface {
	// Role identifies which side this producer plays.
	Role() types.Role

	// Produce generates the side's next utterance given the transcript so
	// far. The raw model output is returned unprocessed; end-marker
	// handling is the caller's job.
	Produce(ctx context.Context, conv types.Conversation) (providers.ChatResponse, error)
}

// historyFor maps the transcript into provider messages relative to the
// side being generated: its own prior turns become "model" entries, the
// counterpart's become "user" entries.
func historyFor(conv types.Conversation, self types.Role) []providers.Message {
	msgs := make([]providers.Message, 0, len(conv))
	for _, turn := range conv {
		role := providers.RoleUser
		if turn.Role == self {
			role = providers.RoleModel
		}
		msgs = append(msgs, providers.Message{Role: role, Content: turn.Text})
	}
	return msgs
}

// AgentProducer plays the debt-collection agent under test, driven by the
// prompt version captured at run start.
type AgentProducer struct {
	provider providers.Provider
	system   string
}

// NewAgentProducer creates the agent side from an already-rendered prompt.
func NewAgentProducer(provider providers.Provider, renderedPrompt string) *AgentProducer {
	return &AgentProducer{
		provider: provider,
		system:   renderedPrompt + prompts.AgentClosing(),
	}
}

func (a *AgentProducer) Role() types.Role {
	return types.RoleAgent
}

func (a *AgentProducer) Produce(ctx context.Context, conv types.Conversation) (providers.ChatResponse, error) {
	msgs := historyFor(conv, types.RoleAgent)
	if len(msgs) == 0 {
		msgs = []providers.Message{{Role: providers.RoleUser, Content: callOpening}}
	}

	return a.provider.Chat(ctx, providers.ChatRequest{
		System:      a.system,
		Messages:    msgs,
		Temperature: 0.7,
		MaxTokens:   1024,
	})
}

// PersonaProducer plays the simulated debtor, driven by the persona's
// roleplay context.
type PersonaProducer struct {
	provider providers.Provider
	system   string
}

// NewPersonaProducer creates the debtor side for the given persona.
func NewPersonaProducer(provider providers.Provider, persona *types.Persona) *PersonaProducer {
	return &PersonaProducer{
		provider: provider,
		system:   prompts.PersonaRoleplay(persona),
	}
}

func (p *PersonaProducer) Role() types.Role {
	return types.RolePersona
}

func (p *PersonaProducer) Produce(ctx context.Context, conv types.Conversation) (providers.ChatResponse, error) {
	return p.provider.Chat(ctx, providers.ChatRequest{
		System:      p.system,
		Messages:    historyFor(conv, types.RolePersona),
		Temperature: 0.9,
		MaxTokens:   1024,
	})
}
