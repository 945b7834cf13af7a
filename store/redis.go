package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/svarunid/voiceflow/types"
)

// defaultPrefix namespaces all Redis keys.
const defaultPrefix = "voiceflow"

// RedisStores bundles Redis-backed implementations of the three stores.
// All of them share one client and key prefix.
type RedisStores struct {
	Personas *RedisPersonaStore
	Runs     *RedisRunStore
	Versions *RedisVersionStore
}

// RedisOption configures the Redis stores.
type RedisOption func(*redisCommon)

// WithPrefix sets the key prefix. Default is "voiceflow".
func WithPrefix(prefix string) RedisOption {
	return func(c *redisCommon) { c.prefix = prefix }
}

type redisCommon struct {
	client *redis.Client
	prefix string
}

// NewRedisStores creates Redis-backed persona, run and version stores
// sharing the given client.
func NewRedisStores(client *redis.Client, opts ...RedisOption) *RedisStores {
	common := redisCommon{client: client, prefix: defaultPrefix}
	for _, opt := range opts {
		opt(&common)
	}
	return &RedisStores{
		Personas: &RedisPersonaStore{common},
		Runs:     &RedisRunStore{common},
		Versions: &RedisVersionStore{common},
	}
}

func (c *redisCommon) key(parts ...string) string {
	key := c.prefix
	for _, p := range parts {
		key += ":" + p
	}
	return key
}

// listIDs returns ids from an index sorted set, newest first.
func (c *redisCommon) listIDs(ctx context.Context, indexKey string, opts ListOptions) ([]string, error) {
	stop := int64(opts.Offset + opts.limit() - 1)
	ids, err := c.client.ZRevRange(ctx, indexKey, int64(opts.Offset), stop).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrevrange failed: %w", err)
	}
	return ids, nil
}

// RedisPersonaStore provides a Redis-backed implementation of PersonaStore.
type RedisPersonaStore struct {
	redisCommon
}

func (s *RedisPersonaStore) personaKey(id string) string { return s.key("persona", id) }
func (s *RedisPersonaStore) indexKey() string            { return s.key("personas") }

// Create persists a new persona and indexes it by creation time.
func (s *RedisPersonaStore) Create(ctx context.Context, persona *types.Persona) error {
	if persona == nil || persona.ID == "" {
		return ErrInvalidID
	}

	data, err := json.Marshal(persona)
	if err != nil {
		return fmt.Errorf("failed to marshal persona: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.personaKey(persona.ID), data, 0)
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{
			Score:  float64(persona.CreatedAt.UnixNano()),
			Member: persona.ID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

// Get retrieves a persona by ID.
func (s *RedisPersonaStore) Get(ctx context.Context, id string) (*types.Persona, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	data, err := s.client.Get(ctx, s.personaKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var persona types.Persona
	if err := json.Unmarshal(data, &persona); err != nil {
		return nil, fmt.Errorf("failed to unmarshal persona: %w", err)
	}
	return &persona, nil
}

// List returns personas ordered newest first.
func (s *RedisPersonaStore) List(ctx context.Context, opts ListOptions) ([]*types.Persona, error) {
	ids, err := s.listIDs(ctx, s.indexKey(), opts)
	if err != nil {
		return nil, err
	}

	out := make([]*types.Persona, 0, len(ids))
	for _, id := range ids {
		persona, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue // index entry outlived the record
			}
			return nil, err
		}
		out = append(out, persona)
	}
	return out, nil
}

// RedisRunStore provides a Redis-backed implementation of RunStore.
//
// Run mutation methods use plain read-modify-write: each run has exactly one
// writer (its simulator goroutine), so no transactional guard is needed.
type RedisRunStore struct {
	redisCommon
}

func (s *RedisRunStore) runKey(id string) string { return s.key("run", id) }
func (s *RedisRunStore) indexKey() string        { return s.key("runs") }

// Create persists a new run.
func (s *RedisRunStore) Create(ctx context.Context, run *types.TestRun) error {
	if run == nil || run.ID == "" {
		return ErrInvalidID
	}

	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.runKey(run.ID), data, 0)
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{
			Score:  float64(run.CreatedAt.UnixNano()),
			Member: run.ID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

// Get retrieves a run by ID.
func (s *RedisRunStore) Get(ctx context.Context, id string) (*types.TestRun, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	data, err := s.client.Get(ctx, s.runKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var run types.TestRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	return &run, nil
}

// List returns runs ordered newest first.
func (s *RedisRunStore) List(ctx context.Context, opts ListOptions) ([]*types.TestRun, error) {
	ids, err := s.listIDs(ctx, s.indexKey(), opts)
	if err != nil {
		return nil, err
	}

	out := make([]*types.TestRun, 0, len(ids))
	for _, id := range ids {
		run, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}

// AppendTurn appends a turn to the run's conversation.
func (s *RedisRunStore) AppendTurn(ctx context.Context, id string, turn types.Turn) error {
	return s.update(ctx, id, func(run *types.TestRun) {
		run.Conversation = append(run.Conversation, turn)
	})
}

// Complete marks the run completed with its validation outcome.
func (s *RedisRunStore) Complete(ctx context.Context, id string, metric *types.Metric, feedback string) error {
	return s.update(ctx, id, func(run *types.TestRun) {
		run.State = types.RunStateCompleted
		run.Metric = metric
		run.Feedback = feedback
	})
}

// Fail marks the run failed with the given reason.
func (s *RedisRunStore) Fail(ctx context.Context, id string, reason string) error {
	return s.update(ctx, id, func(run *types.TestRun) {
		run.State = types.RunStateFailed
		run.FailureReason = reason
	})
}

func (s *RedisRunStore) update(ctx context.Context, id string, mutate func(*types.TestRun)) error {
	run, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	mutate(run)
	run.UpdatedAt = time.Now()

	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}
	if err := s.client.Set(ctx, s.runKey(id), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// RedisVersionStore provides a Redis-backed implementation of VersionStore.
//
// Append and Pin run inside WATCH transactions so that the monotonic
// identifier sequence and the single-pinned invariant hold even with
// concurrent writers; a failed transaction surfaces as ErrVersionConflict.
type RedisVersionStore struct {
	redisCommon
}

func (s *RedisVersionStore) versionKey(v string) string { return s.key("prompt", v) }
func (s *RedisVersionStore) indexKey() string           { return s.key("prompt", "index") }
func (s *RedisVersionStore) pinnedKey() string          { return s.key("prompt", "pinned") }

// Append stores a new unpinned version with the next monotonic identifier.
func (s *RedisVersionStore) Append(ctx context.Context, text string, source types.VersionSource) (*types.PromptVersion, error) {
	var created *types.PromptVersion

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		latest := ""
		ids, err := tx.LRange(ctx, s.indexKey(), -1, -1).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("redis lrange failed: %w", err)
		}
		if len(ids) > 0 {
			latest = ids[0]
		}

		id, err := nextVersion(latest)
		if err != nil {
			return err
		}

		version := &types.PromptVersion{
			Version:   id,
			Text:      text,
			Source:    source,
			Pinned:    false,
			CreatedAt: time.Now(),
		}
		data, err := json.Marshal(version)
		if err != nil {
			return fmt.Errorf("failed to marshal version: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.versionKey(id), data, 0)
			pipe.RPush(ctx, s.indexKey(), id)
			return nil
		})
		if err != nil {
			return err
		}
		created = version
		return nil
	}, s.indexKey())

	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return nil, ErrVersionConflict
		}
		return nil, err
	}
	return created, nil
}

// Get retrieves a version by identifier.
func (s *RedisVersionStore) Get(ctx context.Context, version string) (*types.PromptVersion, error) {
	if version == "" {
		return nil, ErrInvalidID
	}

	data, err := s.client.Get(ctx, s.versionKey(version)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var v types.PromptVersion
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal version: %w", err)
	}
	return &v, nil
}

// List returns all versions ordered newest first.
func (s *RedisVersionStore) List(ctx context.Context) ([]*types.PromptVersion, error) {
	ids, err := s.client.LRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange failed: %w", err)
	}

	out := make([]*types.PromptVersion, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		v, err := s.Get(ctx, ids[i])
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Pinned returns the currently pinned version.
func (s *RedisVersionStore) Pinned(ctx context.Context) (*types.PromptVersion, error) {
	id, err := s.client.Get(ctx, s.pinnedKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoPinnedVersion
		}
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return s.Get(ctx, id)
}

// Pin atomically unpins the previous version and pins the target.
func (s *RedisVersionStore) Pin(ctx context.Context, version string) error {
	if version == "" {
		return ErrInvalidID
	}

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		target, err := s.Get(ctx, version)
		if err != nil {
			return err
		}

		previous := ""
		current, err := tx.Get(ctx, s.pinnedKey()).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("redis get failed: %w", err)
		}
		if err == nil {
			previous = current
		}

		target.Pinned = true
		targetData, err := json.Marshal(target)
		if err != nil {
			return fmt.Errorf("failed to marshal version: %w", err)
		}

		var prevData []byte
		if previous != "" && previous != version {
			prev, err := s.Get(ctx, previous)
			if err != nil {
				return err
			}
			prev.Pinned = false
			prevData, err = json.Marshal(prev)
			if err != nil {
				return fmt.Errorf("failed to marshal version: %w", err)
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if prevData != nil {
				pipe.Set(ctx, s.versionKey(previous), prevData, 0)
			}
			pipe.Set(ctx, s.versionKey(version), targetData, 0)
			pipe.Set(ctx, s.pinnedKey(), version, 0)
			return nil
		})
		return err
	}, s.pinnedKey())

	if errors.Is(err, redis.TxFailedErr) {
		return ErrVersionConflict
	}
	return err
}
