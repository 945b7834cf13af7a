// Package types defines the canonical data model shared across the
// simulation core: personas, test runs, conversation turns, behavioral
// metrics and prompt versions.
package types

import (
	"fmt"
	"time"
)

// Role identifies which side of the simulated call produced a turn.
type Role string

const (
	// RoleAgent is the debt-collection agent under test.
	RoleAgent Role = "agent"

	// RolePersona is the simulated debtor driven by a generative model.
	RolePersona Role = "persona"
)

// EndCallMarker is the explicit end-of-conversation token either role may
// emit to terminate a run before the turn budget is exhausted. The marker
// is stripped from the persisted utterance.
const EndCallMarker = "[END_CALL]"

// Turn is a single utterance within a test run's conversation.
type Turn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp,omitempty"`
	LatencyMs int64     `json:"latency_ms,omitempty"`
}

// Conversation is the ordered transcript of a test run.
// Turns strictly alternate starting with the agent role.
type Conversation []Turn

// NextRole returns the role expected to produce the next turn.
// The agent always opens, mirroring a real outbound call.
func (c Conversation) NextRole() Role {
	if len(c)%2 == 0 {
		return RoleAgent
	}
	return RolePersona
}

// Alternates reports whether the transcript strictly alternates roles
// starting with the agent.
func (c Conversation) Alternates() bool {
	for i, turn := range c {
		want := RoleAgent
		if i%2 == 1 {
			want = RolePersona
		}
		if turn.Role != want {
			return false
		}
	}
	return true
}

// Persona is a generated synthetic debtor profile. Personas are immutable
// once created.
type Persona struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
	Age      int    `json:"age"`
	Gender   string `json:"gender"`

	// DebtAmount is in integer minor currency units (e.g. paise),
	// so 500000 represents ₹5,000.00.
	DebtAmount int64 `json:"debt_amount"`

	// DueDate is the payment due date in ISO format (YYYY-MM-DD).
	DueDate string `json:"due_date"`

	// Description is the free-text backstory used as the generative-model
	// system context when playing this persona.
	Description string `json:"description"`

	CreatedAt time.Time `json:"created_at"`
}

// FormatDebtAmount renders the debt amount in display currency units.
func (p *Persona) FormatDebtAmount() string {
	return fmt.Sprintf("₹%d.%02d", p.DebtAmount/100, p.DebtAmount%100)
}

// Politeness is the first scored behavioral axis.
type Politeness string

const (
	PolitenessPolite  Politeness = "polite"
	PolitenessNeutral Politeness = "neutral"
	PolitenessRude    Politeness = "rude"
)

// NegotiationLevel is the second scored behavioral axis.
type NegotiationLevel string

const (
	NegotiationSoft     NegotiationLevel = "soft"
	NegotiationModerate NegotiationLevel = "moderate"
	NegotiationHard     NegotiationLevel = "hard"
)

// Metric holds the two structured axes produced by the validator.
type Metric struct {
	Politeness       Politeness       `json:"politeness"`
	NegotiationLevel NegotiationLevel `json:"negotiation_level"`
}

// RunState is the lifecycle state of a test run.
type RunState string

const (
	RunStateIdle      RunState = "idle"
	RunStateRunning   RunState = "running"
	RunStateCompleted RunState = "completed"
	RunStateFailed    RunState = "failed"
)

// Terminal reports whether the state is one of the two terminal states.
func (s RunState) Terminal() bool {
	return s == RunStateCompleted || s == RunStateFailed
}

// Classification is the derived pass/fail view over a run's metric.
// It is never stored; compute it with TestRun.Classify.
type Classification string

const (
	ClassificationPending Classification = "pending"
	ClassificationPassed  Classification = "passed"
	ClassificationFailed  Classification = "failed"
)

// TestRun is one execution of the simulated conversation plus its
// resulting transcript, metric and feedback.
type TestRun struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	PersonaID  string `json:"persona_id"`
	TurnBudget int    `json:"turn_budget"`

	// Conversation is append-only while the run executes.
	Conversation Conversation `json:"conversation"`

	// Metric and Feedback are written exactly once, by the validator,
	// after the run completes. Both stay empty on failed runs and on
	// completed runs whose validation errored.
	Metric   *Metric `json:"metric,omitempty"`
	Feedback string  `json:"feedback,omitempty"`

	// PromptVersion is the prompt version captured at run start and used
	// for every agent turn of this run.
	PromptVersion string `json:"prompt_version"`

	State         RunState `json:"state"`
	FailureReason string   `json:"failure_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Classify derives the pass/fail view from the run's metric.
// A run passes when the agent stayed polite without negotiating hard;
// runs without a metric are pending.
func (r *TestRun) Classify() Classification {
	if r.Metric == nil {
		return ClassificationPending
	}
	if r.Metric.Politeness == PolitenessPolite && r.Metric.NegotiationLevel != NegotiationHard {
		return ClassificationPassed
	}
	return ClassificationFailed
}

// SourceKind records how a prompt version came into existence.
type SourceKind string

const (
	// SourceManual marks versions seeded or uploaded by an operator.
	SourceManual SourceKind = "manual"

	// SourceEnhancer marks versions produced by the prompt enhancer from
	// a failed test run.
	SourceEnhancer SourceKind = "enhancer"
)

// VersionSource describes the origin of a prompt version. RunID is set
// only for enhancer-generated versions and references the originating
// test run.
type VersionSource struct {
	Kind  SourceKind `json:"kind"`
	RunID string     `json:"run_id,omitempty"`
}

// PromptVersion is one immutable entry in the append-only prompt log.
// Version identifiers are semantic versions and strictly increase;
// at most one version is pinned at any instant.
type PromptVersion struct {
	Version   string        `json:"version"`
	Text      string        `json:"text"`
	Source    VersionSource `json:"source"`
	Pinned    bool          `json:"pinned"`
	CreatedAt time.Time     `json:"created_at"`
}
