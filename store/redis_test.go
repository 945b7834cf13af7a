package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/svarunid/voiceflow/types"
)

func newTestRedisStores(t *testing.T) *RedisStores {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisStores(client, WithPrefix("voiceflow-test"))
}

func TestRedisPersonaStore(t *testing.T) {
	ctx := context.Background()
	s := newTestRedisStores(t).Personas

	p1 := testPersona("p1")
	p2 := testPersona("p2")
	p2.CreatedAt = p1.CreatedAt.Add(1) // deterministic index order

	require.NoError(t, s.Create(ctx, p1))
	require.NoError(t, s.Create(ctx, p2))

	got, err := s.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(500000), got.DebtAmount)

	_, err = s.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := s.List(ctx, ListOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "p2", list[0].ID, "newest first")
}

func TestRedisRunStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestRedisStores(t).Runs

	require.NoError(t, s.Create(ctx, testRun("r1", "p1")))

	require.NoError(t, s.AppendTurn(ctx, "r1", types.Turn{Role: types.RoleAgent, Text: "Hello."}))
	require.NoError(t, s.AppendTurn(ctx, "r1", types.Turn{Role: types.RolePersona, Text: "Hi."}))

	metric := &types.Metric{Politeness: types.PolitenessRude, NegotiationLevel: types.NegotiationHard}
	require.NoError(t, s.Complete(ctx, "r1", metric, "agent was abrasive"))

	run, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, types.RunStateCompleted, run.State)
	assert.Len(t, run.Conversation, 2)
	assert.Equal(t, types.ClassificationFailed, run.Classify())

	assert.ErrorIs(t, s.AppendTurn(ctx, "ghost", types.Turn{}), ErrNotFound)
}

func TestRedisRunStoreFail(t *testing.T) {
	ctx := context.Background()
	s := newTestRedisStores(t).Runs

	require.NoError(t, s.Create(ctx, testRun("r1", "p1")))
	require.NoError(t, s.Fail(ctx, "r1", "agent turn failed"))

	run, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, types.RunStateFailed, run.State)
	assert.Equal(t, "agent turn failed", run.FailureReason)
	assert.Nil(t, run.Metric)
}

func TestRedisVersionStoreAppendAndPin(t *testing.T) {
	ctx := context.Background()
	s := newTestRedisStores(t).Versions

	_, err := s.Pinned(ctx)
	assert.ErrorIs(t, err, ErrNoPinnedVersion)

	v1, err := s.Append(ctx, "first prompt", types.VersionSource{Kind: types.SourceManual})
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", v1.Version)

	v2, err := s.Append(ctx, "second prompt", types.VersionSource{Kind: types.SourceEnhancer, RunID: "r9"})
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", v2.Version)

	require.NoError(t, s.Pin(ctx, v1.Version))
	pinned, err := s.Pinned(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", pinned.Version)
	assert.True(t, pinned.Pinned)

	require.NoError(t, s.Pin(ctx, v2.Version))
	assertSinglePin(t, s, "1.1.0")

	// Re-pinning the already-pinned version is a no-op, not a conflict.
	require.NoError(t, s.Pin(ctx, v2.Version))
	assertSinglePin(t, s, "1.1.0")

	// Texts survive pin flips untouched.
	got, err := s.Get(ctx, "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "first prompt", got.Text)

	assert.ErrorIs(t, s.Pin(ctx, "3.0.0"), ErrNotFound)
}

func TestRedisVersionStoreListOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestRedisStores(t).Versions

	for i := 0; i < 3; i++ {
		_, err := s.Append(ctx, "text", types.VersionSource{Kind: types.SourceManual})
		require.NoError(t, err)
	}

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "1.2.0", list[0].Version)
	assert.Equal(t, "1.0.0", list[2].Version)
}
