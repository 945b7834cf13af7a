// Package simulator executes test runs: turn-alternating conversations
// between the agent under test and a persona-driven debtor model, streamed
// live, validated on completion and archived.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/svarunid/voiceflow/livechannel"
	"github.com/svarunid/voiceflow/logger"
	"github.com/svarunid/voiceflow/metrics"
	"github.com/svarunid/voiceflow/prompts"
	"github.com/svarunid/voiceflow/providers"
	"github.com/svarunid/voiceflow/storage"
	"github.com/svarunid/voiceflow/store"
	"github.com/svarunid/voiceflow/types"
	"github.com/svarunid/voiceflow/validator"
)

const (
	// defaultTurnTimeout bounds a single provider call.
	defaultTurnTimeout = 60 * time.Second

	// persistTimeout bounds store writes made after the run's own context
	// is gone.
	persistTimeout = 10 * time.Second

	// defaultChannelRetention is how long a terminal run's live channel is
	// kept for post-terminal replay before its backlog is evicted. The
	// transcript itself stays in the run store and object archive.
	defaultChannelRetention = 5 * time.Minute

	// DefaultTurnBudget is applied when a run request leaves the budget unset.
	DefaultTurnBudget = 6

	// MaxTurnBudget caps the per-run budget a caller may request.
	MaxTurnBudget = 50

	// canceledReason is recorded on runs stopped by the caller.
	canceledReason = "run canceled"
)

// ErrRunNotActive is returned by Stop for runs that are not executing.
var ErrRunNotActive = errors.New("run is not active")

// ErrInvalidBudget is returned for run requests with an out-of-range
// turn budget.
var ErrInvalidBudget = errors.New("turn budget out of range")

// RunRequest describes a new test run.
type RunRequest struct {
	PersonaID string

	// Name is an optional operator-facing label.
	Name string

	// TurnBudget is the number of exchanges (agent + persona turn pairs)
	// the conversation may reach before it is cut off. Zero applies
	// DefaultTurnBudget.
	TurnBudget int

	// PromptVersion optionally overrides the pinned prompt version.
	PromptVersion string
}

// Simulator owns run execution. Each started run executes on its own
// goroutine, detached from the request that created it; concurrent runs
// are independent.
type Simulator struct {
	agent     providers.Provider
	persona   providers.Provider
	personas  store.PersonaStore
	runs      store.RunStore
	versions  store.VersionStore
	channels  *livechannel.Registry
	objects   storage.ObjectStore
	validator *validator.Validator

	turnTimeout time.Duration
	retention   time.Duration

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// Deps carries the collaborators a Simulator needs.
type Deps struct {
	// Agent and Persona are the providers backing the two sides of the
	// call. They may be the same provider.
	Agent   providers.Provider
	Persona providers.Provider

	Personas store.PersonaStore
	Runs     store.RunStore
	Versions store.VersionStore

	Channels *livechannel.Registry

	// Objects receives the transcript archive of every terminal run.
	Objects storage.ObjectStore

	Validator *validator.Validator
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithTurnTimeout overrides the per-turn provider call timeout.
func WithTurnTimeout(d time.Duration) Option {
	return func(s *Simulator) {
		s.turnTimeout = d
	}
}

// WithChannelRetention overrides how long a terminal run's live channel is
// retained for replay. Zero evicts the channel as soon as the terminal
// envelope is published.
func WithChannelRetention(d time.Duration) Option {
	return func(s *Simulator) {
		s.retention = d
	}
}

// New creates a Simulator from its dependencies.
func New(deps Deps, opts ...Option) *Simulator {
	s := &Simulator{
		agent:       deps.Agent,
		persona:     deps.Persona,
		personas:    deps.Personas,
		runs:        deps.Runs,
		versions:    deps.Versions,
		channels:    deps.Channels,
		objects:     deps.Objects,
		validator:   deps.Validator,
		turnTimeout: defaultTurnTimeout,
		retention:   defaultChannelRetention,
		cancels:     make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartRun creates a run, registers its live channel and launches the
// conversation loop. The returned run is already in the running state; the
// caller observes progress through the channel or by polling the store.
func (s *Simulator) StartRun(ctx context.Context, req RunRequest) (*types.TestRun, error) {
	budget := req.TurnBudget
	if budget == 0 {
		budget = DefaultTurnBudget
	}
	if budget < 1 || budget > MaxTurnBudget {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBudget, req.TurnBudget)
	}

	persona, err := s.personas.Get(ctx, req.PersonaID)
	if err != nil {
		return nil, err
	}

	version, err := s.resolveVersion(ctx, req.PromptVersion)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	run := &types.TestRun{
		ID:            uuid.NewString(),
		Name:          req.Name,
		PersonaID:     persona.ID,
		TurnBudget:    budget,
		PromptVersion: version.Version,
		State:         types.RunStateRunning,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to persist run: %w", err)
	}

	ch := s.channels.Create(run.ID)
	ch.Publish(livechannel.Start(persona))

	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancels[run.ID] = cancel
	s.mu.Unlock()

	metrics.RunsStarted.Inc()
	logger.Info("Test run started",
		"run_id", run.ID,
		"persona_id", persona.ID,
		"prompt_version", version.Version,
		"turn_budget", budget)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(run.ID)
		s.execute(runCtx, run, persona, version.Text, ch)
	}()

	return run, nil
}

// Stop requests cooperative cancellation of an active run. An in-flight
// turn finishes and is persisted; no further turns are produced.
func (s *Simulator) Stop(runID string) error {
	s.mu.Lock()
	cancel, ok := s.cancels[runID]
	s.mu.Unlock()

	if !ok {
		return ErrRunNotActive
	}
	cancel()
	return nil
}

// Wait blocks until every active run has reached a terminal state.
func (s *Simulator) Wait() {
	s.wg.Wait()
}

// resolveVersion picks the prompt version for a new run: the explicit
// request override, or the pinned version.
func (s *Simulator) resolveVersion(ctx context.Context, requested string) (*types.PromptVersion, error) {
	if requested != "" {
		return s.versions.Get(ctx, requested)
	}
	return s.versions.Pinned(ctx)
}

// release removes the run's cancel handle.
func (s *Simulator) release(runID string) {
	s.mu.Lock()
	cancel, ok := s.cancels[runID]
	delete(s.cancels, runID)
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

// execute drives the conversation loop for one run until it reaches a
// terminal state.
//
// Each iteration produces exactly one turn: persist first, publish second,
// then advance. Cancellation is checked only between turns, so a stop
// request never discards a turn already being generated.
func (s *Simulator) execute(ctx context.Context, run *types.TestRun, persona *types.Persona, promptText string, ch *livechannel.Channel) {
	agentSide := NewAgentProducer(s.agent, prompts.RenderAgentPrompt(promptText, persona))
	personaSide := NewPersonaProducer(s.persona, persona)

	var conv types.Conversation
	maxTurns := 2 * run.TurnBudget

	for len(conv) < maxTurns {
		if ctx.Err() != nil {
			logger.Info("Test run canceled", "run_id", run.ID, "turns", len(conv))
			s.fail(run.ID, conv, canceledReason, ch)
			return
		}

		var producer TurnProducer = agentSide
		if conv.NextRole() == types.RolePersona {
			producer = personaSide
		}
		op := string(producer.Role()) + "_turn"

		callCtx, cancel := context.WithTimeout(context.Background(), s.turnTimeout)
		resp, err := producer.Produce(callCtx, conv)
		cancel()
		if err != nil {
			genErr := providers.NewGenerationError(providerID(producer, s), op, err)
			logger.LLMError(providerID(producer, s), op, err)
			s.fail(run.ID, conv, genErr.Error(), ch)
			return
		}

		metrics.ObserveProviderCall(providerID(producer, s), op, resp.Latency.Seconds(),
			resp.InputTokens, resp.OutputTokens)

		text, ended := trimEndMarker(resp.Content)
		if text != "" {
			turn := types.Turn{
				Role:      producer.Role(),
				Text:      text,
				Timestamp: time.Now(),
				LatencyMs: resp.Latency.Milliseconds(),
			}
			if err := s.appendTurn(run.ID, turn); err != nil {
				logger.Error("Failed to persist turn", "run_id", run.ID, "error", err)
				s.fail(run.ID, conv, fmt.Sprintf("failed to persist turn: %v", err), ch)
				return
			}
			ch.Publish(livechannel.Message(turn))
			metrics.TurnsProduced.WithLabelValues(string(turn.Role)).Inc()
			conv = append(conv, turn)
		}

		if ended {
			logger.Debug("End-of-call marker received", "run_id", run.ID, "role", producer.Role())
			break
		}
	}

	s.complete(run.ID, persona, conv, ch)
}

// appendTurn persists a turn with its own deadline, independent of the
// run context.
func (s *Simulator) appendTurn(runID string, turn types.Turn) error {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	return s.runs.AppendTurn(ctx, runID, turn)
}

// complete validates the finished transcript and marks the run completed.
// A validation error leaves the metric unset; the run still completes.
func (s *Simulator) complete(runID string, persona *types.Persona, conv types.Conversation, ch *livechannel.Channel) {
	ctx, cancel := context.WithTimeout(context.Background(), s.turnTimeout)
	defer cancel()

	var metric *types.Metric
	var feedback string
	if result, err := s.validator.Validate(ctx, persona, conv); err != nil {
		logger.Error("Transcript validation failed", "run_id", runID, "error", err)
	} else {
		metric = &result.Metric
		feedback = result.Feedback
	}

	if err := s.runs.Complete(ctx, runID, metric, feedback); err != nil {
		logger.Error("Failed to mark run completed", "run_id", runID, "error", err)
	}

	ch.Publish(livechannel.End(metric, feedback))
	metrics.RunsFinished.WithLabelValues(string(types.RunStateCompleted)).Inc()
	logger.Info("Test run completed", "run_id", runID, "turns", len(conv), "validated", metric != nil)

	s.archive(runID, conv)
	s.scheduleEviction(runID)
}

// fail marks the run failed and streams the terminal error.
func (s *Simulator) fail(runID string, conv types.Conversation, reason string, ch *livechannel.Channel) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := s.runs.Fail(ctx, runID, reason); err != nil {
		logger.Error("Failed to mark run failed", "run_id", runID, "error", err)
	}

	ch.Publish(livechannel.Error(reason))
	metrics.RunsFinished.WithLabelValues(string(types.RunStateFailed)).Inc()

	s.archive(runID, conv)
	s.scheduleEviction(runID)
}

// scheduleEviction drops the run's live channel after the retention
// window. Until then late observers can still replay the backlog.
func (s *Simulator) scheduleEviction(runID string) {
	if s.retention <= 0 {
		s.channels.Remove(runID)
		return
	}
	time.AfterFunc(s.retention, func() {
		s.channels.Remove(runID)
	})
}

// archive uploads the rendered transcript. Best effort: the run's outcome
// is already persisted in the run store.
func (s *Simulator) archive(runID string, conv types.Conversation) {
	if s.objects == nil || len(conv) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	key := storage.TranscriptKey(runID)
	if err := s.objects.Put(ctx, key, []byte(prompts.FormatTranscript(conv))); err != nil {
		logger.Warn("Failed to archive transcript", "run_id", runID, "key", key, "error", err)
	}
}

// providerID returns the ID of the provider backing a producer's side.
func providerID(p TurnProducer, s *Simulator) string {
	if p.Role() == types.RoleAgent {
		return s.agent.ID()
	}
	return s.persona.ID()
}

// trimEndMarker strips the end-of-call marker from an utterance and
// reports whether it was present.
func trimEndMarker(text string) (string, bool) {
	idx := strings.Index(text, types.EndCallMarker)
	if idx < 0 {
		return strings.TrimSpace(text), false
	}
	return strings.TrimSpace(text[:idx]), true
}
