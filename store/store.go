// Package store provides persistence for personas, test runs and the
// append-only prompt version log.
//
// Two implementations exist for each store: an in-memory one suitable for
// development, testing and single-instance deployments, and a Redis-backed
// one for distributed setups. Personas and prompt versions are immutable
// once created; test runs are mutated only through the narrow transition
// methods (AppendTurn, Complete, Fail), never replaced wholesale.
package store

import (
	"context"
	"errors"

	"github.com/svarunid/voiceflow/types"
)

// ErrNotFound is returned when the requested persona, run or version
// doesn't exist.
var ErrNotFound = errors.New("record not found")

// ErrInvalidID is returned when an empty or malformed identifier is provided.
var ErrInvalidID = errors.New("invalid identifier")

// ErrNoPinnedVersion is returned by Pinned before any pin has occurred.
var ErrNoPinnedVersion = errors.New("no pinned prompt version")

// ErrVersionConflict is returned when a concurrent modification is detected
// during a pin or append. Not expected under the single-writer pin
// discipline, but guarded defensively.
var ErrVersionConflict = errors.New("prompt version conflict")

// ListOptions provides pagination for listing operations.
// Results are always ordered newest first.
type ListOptions struct {
	// Offset is the number of records to skip.
	Offset int

	// Limit is the maximum number of records to return.
	// If 0, DefaultListLimit is applied.
	Limit int
}

// DefaultListLimit is applied when ListOptions.Limit is 0.
const DefaultListLimit = 100

func (o ListOptions) limit() int {
	if o.Limit <= 0 {
		return DefaultListLimit
	}
	return o.Limit
}

// PersonaStore owns the Persona lifecycle.
type PersonaStore interface {
	// Create persists a new persona. The persona's ID must be set.
	Create(ctx context.Context, persona *types.Persona) error

	// Get retrieves a persona by ID. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*types.Persona, error)

	// List returns personas ordered newest first.
	List(ctx context.Context, opts ListOptions) ([]*types.Persona, error)
}

// RunStore owns the TestRun lifecycle.
type RunStore interface {
	// Create persists a new run in the running state.
	Create(ctx context.Context, run *types.TestRun) error

	// Get retrieves a run by ID. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*types.TestRun, error)

	// List returns runs ordered newest first.
	List(ctx context.Context, opts ListOptions) ([]*types.TestRun, error)

	// AppendTurn appends a turn to the run's conversation.
	AppendTurn(ctx context.Context, id string, turn types.Turn) error

	// Complete marks the run completed. Metric and feedback may be empty
	// when validation errored; the run is still completed.
	Complete(ctx context.Context, id string, metric *types.Metric, feedback string) error

	// Fail marks the run failed with the given reason. Metric and
	// feedback remain unset.
	Fail(ctx context.Context, id string, reason string) error
}

// VersionStore owns the append-only prompt version log and the single
// pinned pointer.
type VersionStore interface {
	// Append stores a new, always-unpinned version with the next
	// monotonic version identifier and returns it.
	Append(ctx context.Context, text string, source types.VersionSource) (*types.PromptVersion, error)

	// Get retrieves a version by identifier.
	Get(ctx context.Context, version string) (*types.PromptVersion, error)

	// List returns all versions ordered newest first.
	List(ctx context.Context) ([]*types.PromptVersion, error)

	// Pinned returns the currently pinned version, or ErrNoPinnedVersion.
	Pinned(ctx context.Context) (*types.PromptVersion, error)

	// Pin atomically flips the pinned pointer to the given version.
	// No intermediate state with zero or two pinned versions is ever
	// observable.
	Pin(ctx context.Context, version string) error
}
