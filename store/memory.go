package store

import (
	"context"
	"sync"
	"time"

	"github.com/svarunid/voiceflow/types"
)

// MemoryPersonaStore provides an in-memory implementation of PersonaStore.
// It is thread-safe and suitable for development, testing, and
// single-instance deployments.
type MemoryPersonaStore struct {
	mu       sync.RWMutex
	personas map[string]*types.Persona
	order    []string // insertion order, oldest first
}

// NewMemoryPersonaStore creates a new in-memory persona store.
func NewMemoryPersonaStore() *MemoryPersonaStore {
	return &MemoryPersonaStore{personas: make(map[string]*types.Persona)}
}

// Create persists a new persona.
func (s *MemoryPersonaStore) Create(ctx context.Context, persona *types.Persona) error {
	if persona == nil || persona.ID == "" {
		return ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *persona
	s.personas[persona.ID] = &cp
	s.order = append(s.order, persona.ID)
	return nil
}

// Get retrieves a persona by ID.
func (s *MemoryPersonaStore) Get(ctx context.Context, id string) (*types.Persona, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	persona, ok := s.personas[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *persona
	return &cp, nil
}

// List returns personas ordered newest first.
func (s *MemoryPersonaStore) List(ctx context.Context, opts ListOptions) ([]*types.Persona, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.Persona, 0, opts.limit())
	for i := len(s.order) - 1 - opts.Offset; i >= 0 && len(out) < opts.limit(); i-- {
		cp := *s.personas[s.order[i]]
		out = append(out, &cp)
	}
	return out, nil
}

// MemoryRunStore provides an in-memory implementation of RunStore.
type MemoryRunStore struct {
	mu    sync.RWMutex
	runs  map[string]*types.TestRun
	order []string
}

// NewMemoryRunStore creates a new in-memory run store.
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{runs: make(map[string]*types.TestRun)}
}

// Create persists a new run.
func (s *MemoryRunStore) Create(ctx context.Context, run *types.TestRun) error {
	if run == nil || run.ID == "" {
		return ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[run.ID] = copyRun(run)
	s.order = append(s.order, run.ID)
	return nil
}

// Get retrieves a run by ID.
func (s *MemoryRunStore) Get(ctx context.Context, id string) (*types.TestRun, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRun(run), nil
}

// List returns runs ordered newest first.
func (s *MemoryRunStore) List(ctx context.Context, opts ListOptions) ([]*types.TestRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.TestRun, 0, opts.limit())
	for i := len(s.order) - 1 - opts.Offset; i >= 0 && len(out) < opts.limit(); i-- {
		out = append(out, copyRun(s.runs[s.order[i]]))
	}
	return out, nil
}

// AppendTurn appends a turn to the run's conversation.
func (s *MemoryRunStore) AppendTurn(ctx context.Context, id string, turn types.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return ErrNotFound
	}
	run.Conversation = append(run.Conversation, turn)
	run.UpdatedAt = time.Now()
	return nil
}

// Complete marks the run completed with its validation outcome.
func (s *MemoryRunStore) Complete(ctx context.Context, id string, metric *types.Metric, feedback string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return ErrNotFound
	}
	run.State = types.RunStateCompleted
	if metric != nil {
		cp := *metric
		run.Metric = &cp
	}
	run.Feedback = feedback
	run.UpdatedAt = time.Now()
	return nil
}

// Fail marks the run failed with the given reason.
func (s *MemoryRunStore) Fail(ctx context.Context, id string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return ErrNotFound
	}
	run.State = types.RunStateFailed
	run.FailureReason = reason
	run.UpdatedAt = time.Now()
	return nil
}

// copyRun returns a deep copy to prevent external mutations.
func copyRun(run *types.TestRun) *types.TestRun {
	cp := *run
	cp.Conversation = make(types.Conversation, len(run.Conversation))
	copy(cp.Conversation, run.Conversation)
	if run.Metric != nil {
		m := *run.Metric
		cp.Metric = &m
	}
	return &cp
}

// MemoryVersionStore provides an in-memory implementation of VersionStore.
// Pin is a single critical section; the mutex is the one genuine
// mutual-exclusion region in the core.
type MemoryVersionStore struct {
	mu       sync.RWMutex
	versions map[string]*types.PromptVersion
	order    []string // append order, oldest first
	pinned   string   // currently pinned version, empty before first pin
}

// NewMemoryVersionStore creates a new in-memory prompt version store.
func NewMemoryVersionStore() *MemoryVersionStore {
	return &MemoryVersionStore{versions: make(map[string]*types.PromptVersion)}
}

// Append stores a new unpinned version with the next monotonic identifier.
func (s *MemoryVersionStore) Append(ctx context.Context, text string, source types.VersionSource) (*types.PromptVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	latest := ""
	if n := len(s.order); n > 0 {
		latest = s.order[n-1]
	}
	id, err := nextVersion(latest)
	if err != nil {
		return nil, err
	}

	version := &types.PromptVersion{
		Version:   id,
		Text:      text,
		Source:    source,
		Pinned:    false,
		CreatedAt: time.Now(),
	}
	s.versions[id] = version
	s.order = append(s.order, id)

	cp := *version
	return &cp, nil
}

// Get retrieves a version by identifier.
func (s *MemoryVersionStore) Get(ctx context.Context, version string) (*types.PromptVersion, error) {
	if version == "" {
		return nil, ErrInvalidID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.versions[version]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *v
	return &cp, nil
}

// List returns all versions ordered newest first.
func (s *MemoryVersionStore) List(ctx context.Context) ([]*types.PromptVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.PromptVersion, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		cp := *s.versions[s.order[i]]
		out = append(out, &cp)
	}
	return out, nil
}

// Pinned returns the currently pinned version.
func (s *MemoryVersionStore) Pinned(ctx context.Context) (*types.PromptVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.pinned == "" {
		return nil, ErrNoPinnedVersion
	}
	cp := *s.versions[s.pinned]
	return &cp, nil
}

// Pin atomically unpins the previous version and pins the target.
func (s *MemoryVersionStore) Pin(ctx context.Context, version string) error {
	if version == "" {
		return ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.versions[version]
	if !ok {
		return ErrNotFound
	}

	if s.pinned != "" {
		s.versions[s.pinned].Pinned = false
	}
	target.Pinned = true
	s.pinned = version
	return nil
}
