package history

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recalld/recalld/pkg/kvstore"
)

func newTestLog(t *testing.T, maxTurns int) *Log {
	t.Helper()
	kv := kvstore.NewMemoryStore(0)
	t.Cleanup(func() { kv.Close() })
	return NewLog(kv, maxTurns)
}

func TestAppendAndRecent(t *testing.T) {
	l := newTestLog(t, 10)
	ctx := context.Background()

	_, err := l.Append(ctx, "alice", RoleUser, "hello")
	require.NoError(t, err)
	_, err = l.Append(ctx, "alice", RoleAssistant, "hi, how can I help?")
	require.NoError(t, err)

	turns, err := l.Recent(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, turns, 2)

	// Newest first.
	assert.Equal(t, RoleAssistant, turns[0].Role)
	assert.Equal(t, "hi, how can I help?", turns[0].Content)
	assert.Equal(t, RoleUser, turns[1].Role)
	assert.Greater(t, turns[0].Sequence, turns[1].Sequence)
}

func TestWindowBounded(t *testing.T) {
	const max = 10
	l := newTestLog(t, max)
	ctx := context.Background()

	// Overfill by five and check the oldest fell off.
	for i := 0; i < max+5; i++ {
		_, err := l.Append(ctx, "alice", RoleUser, fmt.Sprintf("turn %d", i))
		require.NoError(t, err)
	}

	turns, err := l.Recent(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, turns, max)

	assert.Equal(t, "turn 14", turns[0].Content)
	assert.Equal(t, "turn 5", turns[max-1].Content)

	// Sequence stays monotonic across evictions.
	assert.Equal(t, uint64(15), turns[0].Sequence)
}

func TestRecentLimit(t *testing.T) {
	l := newTestLog(t, 20)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		_, err := l.Append(ctx, "alice", RoleUser, fmt.Sprintf("turn %d", i))
		require.NoError(t, err)
	}

	turns, err := l.Recent(ctx, "alice", 3)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, "turn 7", turns[0].Content)
}

func TestUserIsolation(t *testing.T) {
	l := newTestLog(t, 10)
	ctx := context.Background()

	_, err := l.Append(ctx, "alice", RoleUser, "alice secret")
	require.NoError(t, err)
	_, err = l.Append(ctx, "bob", RoleUser, "bob note")
	require.NoError(t, err)

	aliceTurns, err := l.Recent(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, aliceTurns, 1)
	assert.Equal(t, "alice secret", aliceTurns[0].Content)

	require.NoError(t, l.Clear(ctx, "alice"))

	aliceTurns, err = l.Recent(ctx, "alice", 0)
	require.NoError(t, err)
	assert.Empty(t, aliceTurns)

	bobTurns, err := l.Recent(ctx, "bob", 0)
	require.NoError(t, err)
	assert.Len(t, bobTurns, 1)
}

func TestAppendValidation(t *testing.T) {
	l := newTestLog(t, 10)
	ctx := context.Background()

	_, err := l.Append(ctx, "", RoleUser, "no user")
	assert.ErrorIs(t, err, ErrInvalidUser)

	_, err = l.Append(ctx, "alice", Role("system"), "bad role")
	assert.ErrorIs(t, err, ErrInvalidRole)
}

func TestConcurrentAppends(t *testing.T) {
	l := newTestLog(t, 100)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := l.Append(ctx, "alice", RoleUser, fmt.Sprintf("turn %d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	n, err := l.Count(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 50, n)

	// No duplicate sequence numbers under contention.
	turns, err := l.Recent(ctx, "alice", 0)
	require.NoError(t, err)
	seen := make(map[uint64]bool, len(turns))
	for _, turn := range turns {
		assert.False(t, seen[turn.Sequence], "duplicate sequence %d", turn.Sequence)
		seen[turn.Sequence] = true
	}
}
