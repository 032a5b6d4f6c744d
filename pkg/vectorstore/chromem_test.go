package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vec(xs ...float32) []float32 {
	return xs
}

func newStore(t *testing.T) *ChromemStore {
	t.Helper()
	s, err := NewChromemStore("")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertAndQuery(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "alice", Document{
		ID:        "a",
		Text:      "blue",
		Embedding: vec(1, 0, 0),
		Metadata:  map[string]string{"source_type": "conversation"},
	}))
	require.NoError(t, s.Upsert(ctx, "alice", Document{
		ID:        "b",
		Text:      "thursday",
		Embedding: vec(0, 1, 0),
	}))

	results, err := s.Query(ctx, "alice", vec(1, 0, 0), 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "a", results[0].Document.ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-5)
	assert.Equal(t, "conversation", results[0].Document.Metadata["source_type"])
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestQueryClampsNegativeSimilarity(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "alice", Document{
		ID: "opposite", Embedding: vec(-1, 0, 0),
	}))

	results, err := s.Query(ctx, "alice", vec(1, 0, 0), 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Zero(t, results[0].Score)
}

func TestQueryEmptyCollection(t *testing.T) {
	s := newStore(t)

	results, err := s.Query(context.Background(), "nobody", vec(1, 0, 0), 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestQueryKLargerThanCollection(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "alice", Document{ID: "a", Embedding: vec(1, 0)}))

	results, err := s.Query(ctx, "alice", vec(1, 0), 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestUserPartitionsIsolated(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "alice", Document{ID: "a", Embedding: vec(1, 0)}))
	require.NoError(t, s.Upsert(ctx, "bob", Document{ID: "b", Embedding: vec(1, 0)}))

	results, err := s.Query(ctx, "bob", vec(1, 0), 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].Document.ID)

	n, err := s.Count(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUpsertReplaces(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "alice", Document{ID: "a", Text: "old", Embedding: vec(1, 0)}))
	require.NoError(t, s.Upsert(ctx, "alice", Document{ID: "a", Text: "new", Embedding: vec(1, 0)}))

	n, err := s.Count(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	results, err := s.Query(ctx, "alice", vec(1, 0), 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "new", results[0].Document.Text)
}

func TestDeleteUser(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "alice", Document{ID: "a", Embedding: vec(1, 0)}))
	require.NoError(t, s.Upsert(ctx, "alice", Document{ID: "b", Embedding: vec(0, 1)}))

	n, err := s.DeleteUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	count, err := s.Count(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestValidation(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, s.Upsert(ctx, "", Document{ID: "a", Embedding: vec(1)}), ErrInvalidUser)
	assert.ErrorIs(t, s.Upsert(ctx, "alice", Document{ID: "a"}), ErrInvalidDoc)
	assert.ErrorIs(t, s.Upsert(ctx, "alice", Document{Embedding: vec(1)}), ErrInvalidDoc)

	_, err := s.Query(ctx, "", vec(1), 1)
	assert.ErrorIs(t, err, ErrInvalidUser)
}
