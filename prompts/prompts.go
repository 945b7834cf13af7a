// Package prompts assembles the generative-model instructions used across
// the simulation core: the agent system prompt (rendered from a versioned
// template), the persona roleplay context, and the fixed instructions for
// persona generation, validation and prompt enhancement.
package prompts

import (
	"fmt"
	"strings"

	"github.com/svarunid/voiceflow/types"
)

// Placeholders every agent prompt template must carry. Rendering
// substitutes them with the persona's details at run start.
const (
	PlaceholderFullName   = "{full_name}"
	PlaceholderDebtAmount = "{debt_amount}"
	PlaceholderDueDate    = "{due_date}"
)

// RequiredPlaceholders lists the placeholders validated on every prompt
// template, including enhancer output.
var RequiredPlaceholders = []string{
	PlaceholderFullName,
	PlaceholderDebtAmount,
	PlaceholderDueDate,
}

// ValidatePlaceholders checks that a prompt template carries every
// required placeholder.
func ValidatePlaceholders(text string) error {
	var missing []string
	for _, p := range RequiredPlaceholders {
		if !strings.Contains(text, p) {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("prompt template missing required placeholders: %s", strings.Join(missing, ", "))
	}
	return nil
}

// RenderAgentPrompt substitutes persona details into a prompt template.
func RenderAgentPrompt(template string, persona *types.Persona) string {
	r := strings.NewReplacer(
		PlaceholderFullName, persona.FullName,
		PlaceholderDebtAmount, persona.FormatDebtAmount(),
		PlaceholderDueDate, persona.DueDate,
	)
	return r.Replace(template)
}

// PersonaRoleplay builds the system context for the simulated debtor side
// of the call. The persona's free-text description carries disposition,
// payment capability and emotional triggers.
func PersonaRoleplay(persona *types.Persona) string {
	return fmt.Sprintf(`You are roleplaying as a defaulter (debtor) in a debt collection scenario for training purposes.

PERSONA DETAILS:
- Name: %s
- Age: %d
- Gender: %s
- Outstanding Debt: %s
- Due Date: %s

PERSONA BACKGROUND:
%s

ROLEPLAY INSTRUCTIONS:
- Stay completely in character as this defaulter throughout the conversation
- Respond naturally based on this persona's background, personality, and financial situation
- Show realistic emotions and reactions that match this character's circumstances
- If the agent asks about payment, respond based on this persona's actual financial situation
- Reference specific details from your background when relevant
- Don't break character or acknowledge this is a roleplay scenario
- Keep responses conversational and realistic for a phone call scenario
- Generate output only in plain english. DON'T use markdown format
- If the conversation has naturally concluded and there is nothing left to say, end your reply with %s`,
		persona.FullName, persona.Age, persona.Gender,
		persona.FormatDebtAmount(), persona.DueDate,
		persona.Description, types.EndCallMarker)
}

// AgentClosing is appended to the rendered agent prompt so the agent side
// can signal a natural end of conversation.
func AgentClosing() string {
	return fmt.Sprintf("\nWhen the call has reached its natural conclusion, end your reply with %s", types.EndCallMarker)
}

// PersonaGenerator is the fixed instruction for generating defaulter
// personas. The model must answer with a single JSON object matching the
// persona schema.
const PersonaGenerator = `You are an expert persona generator for debt collection testing scenarios. Create realistic,
nuanced defaulter personas that provide meaningful training data for debt collection agents.

PERSONA REQUIREMENTS:
- Generate believable individuals with authentic financial circumstances
- Consider psychological factors that lead to payment defaults
- Include realistic financial constraints and life situations
- Vary communication styles, emotional responses, and negotiation approaches
- Ensure personas have clear motivations and barriers to payment

RESPONSE FORMAT:
Respond ONLY with a valid JSON object containing exactly these fields:
- full_name: realistic name appropriate for demographics
- age: integer between 18-75
- gender: 'male', 'female', or 'non-binary'
- debt_amount: integer amount owed in minor currency units (paise)
- due_date: date in YYYY-MM-DD format (should be in the past or near future)
- description: comprehensive 200-500 word persona description including:
  - Personal background and current life situation
  - Employment status and income sources
  - Reason(s) for default (job loss, medical bills, family crisis, etc.)
  - Baseline disposition (polite, defensive, or evasive)
  - Current payment capability and competing priorities
  - Emotional triggers and stress points
  - Communication style and likely responses to debt collectors

Each persona should feel like a real person with genuine circumstances, not a stereotype.`

// Validator is the fixed evaluation instruction for scoring a completed
// transcript. The model must answer with a single JSON object carrying the
// two metric axes and free-text feedback.
const Validator = `You are an expert evaluator of debt collection conversations for training purposes.
Analyze the conversation between a debt collection agent and a defaulter.

EVALUATION AXES:
1. POLITENESS: one of "polite", "neutral", "rude"
   - polite: respectful but firm language, professional demeanor
   - neutral: flat or detached, neither warm nor hostile
   - rude: aggressive, threatening, or inappropriate language
2. NEGOTIATION_LEVEL: one of "soft", "moderate", "hard"
   - soft: accepts excuses and delays without pressing for commitments
   - moderate: works towards concrete payment arrangements while respecting the debtor's situation
   - hard: relentless pressure, refuses to acknowledge the debtor's circumstances

The target behavior is a polite agent negotiating at soft or moderate intensity.
Hard-pressure tactics fail the evaluation even when delivered politely.

RESPONSE FORMAT:
Respond ONLY with a valid JSON object containing exactly these fields:
- metric: object with "politeness" and "negotiation_level" string fields
- feedback: string feedback (200-400 words) that MUST include:
  - Concrete behavioral shortcomings observed in the conversation, with examples
  - Specific suggestions for prompt changes that would address them
  - What the agent did well and should preserve`

// Enhancer is the fixed instruction for improving a failed prompt version.
// The model must answer with only the revised prompt text.
const Enhancer = `You are an expert prompt engineer specializing in debt collection training scenarios.
Your task is to improve an existing debt collection agent prompt based on performance metrics and detailed feedback.

IMPROVEMENT CRITERIA:
The goal is a prompt that keeps the agent exactly "polite" while negotiating at "soft" or "moderate"
intensity - firm enough to work towards payment arrangements, never hard-pressure.

PROMPT IMPROVEMENT GUIDELINES:
1. Analyze the current prompt and identify areas that relate to the feedback
2. If politeness was "rude": add respectful, empathetic language and remove aggressive phrasing
3. If politeness was "neutral": add warmth without becoming overly accommodating
4. If negotiation_level was "hard": soften pressure tactics into solution-oriented negotiation
5. Maintain the core structure; enhance only the sections the feedback implicates
6. Keep all existing formatting placeholders ({full_name}, {debt_amount}, {due_date})
7. Preserve the essential debt collection practices and legal compliance aspects

RESPONSE FORMAT:
Respond with ONLY the improved prompt text. Do not include any explanations, comments, or markdown formatting.`

// personaDetails renders the persona facts shared by the validator and
// enhancer inputs.
func personaDetails(persona *types.Persona) string {
	return fmt.Sprintf(`- Name: %s
- Age: %d
- Gender: %s
- Outstanding Debt: %s
- Due Date: %s

DEFAULTER BACKGROUND:
%s`,
		persona.FullName, persona.Age, persona.Gender,
		persona.FormatDebtAmount(), persona.DueDate, persona.Description)
}

// ValidatorInput renders the user-side content for a validation call: who
// the agent was speaking with, then the full transcript.
func ValidatorInput(persona *types.Persona, conv types.Conversation) string {
	return fmt.Sprintf(`DEFAULTER CONTEXT:
%s

CONVERSATION:
%s`,
		personaDetails(persona), FormatTranscript(conv))
}

// EnhancerInput renders the user-side content for an enhancement call: the
// prompt that failed, the call it failed on, and the verdict.
func EnhancerInput(currentPrompt string, persona *types.Persona, conv types.Conversation, metric *types.Metric, feedback string) string {
	return fmt.Sprintf(`CURRENT PROMPT:
%s

DEFAULTER CONTEXT:
%s

CONVERSATION:
%s

PERFORMANCE METRICS:
- Politeness: %s
- Negotiation Level: %s

DETAILED FEEDBACK:
%s

Please improve this prompt to address the identified issues and achieve the target metrics.`,
		currentPrompt, personaDetails(persona), FormatTranscript(conv),
		metric.Politeness, metric.NegotiationLevel, feedback)
}

// FormatTranscript renders a conversation for the validator's input.
func FormatTranscript(conv types.Conversation) string {
	var b strings.Builder
	for _, turn := range conv {
		switch turn.Role {
		case types.RoleAgent:
			b.WriteString("Agent: ")
		case types.RolePersona:
			b.WriteString("Defaulter: ")
		}
		b.WriteString(turn.Text)
		b.WriteString("\n")
	}
	return b.String()
}
