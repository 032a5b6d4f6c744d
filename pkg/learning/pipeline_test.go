package learning

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recalld/recalld/pkg/embedding"
	"github.com/recalld/recalld/pkg/history"
	"github.com/recalld/recalld/pkg/kvstore"
	"github.com/recalld/recalld/pkg/logger"
	"github.com/recalld/recalld/pkg/semantic"
	"github.com/recalld/recalld/pkg/vectorstore"
)

func newTestPipeline(t *testing.T) (*Pipeline, *history.Log, *semantic.Store) {
	t.Helper()
	kv := kvstore.NewMemoryStore(0)
	vectors, err := vectorstore.NewChromemStore("")
	require.NoError(t, err)
	t.Cleanup(func() {
		kv.Close()
		vectors.Close()
	})

	hist := history.NewLog(kv, 20)
	memory := semantic.NewStore(vectors, embedding.NewLocalProvider(256), kv, 0.05)
	return NewPipeline(NewClassifier(), hist, memory, logger.Nop()), hist, memory
}

func TestNeutralTurnStaysInHistory(t *testing.T) {
	p, hist, memory := newTestPipeline(t)
	ctx := context.Background()

	outcome, err := p.ProcessTurn(ctx, "alice", "What time is it in Tokyo?")
	require.NoError(t, err)

	assert.Equal(t, StagePersisted, outcome.Stage)
	assert.Equal(t, LabelNeutral, outcome.Classification.Label)
	assert.Nil(t, outcome.Fragment)

	n, err := hist.Count(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	count, err := memory.Count(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestFactPromoted(t *testing.T) {
	p, hist, memory := newTestPipeline(t)
	ctx := context.Background()

	outcome, err := p.ProcessTurn(ctx, "alice", "My name is Alice")
	require.NoError(t, err)

	assert.Equal(t, StagePromoted, outcome.Stage)
	assert.Equal(t, LabelFact, outcome.Classification.Label)
	require.NotNil(t, outcome.Fragment)
	assert.Equal(t, semantic.SourceConversation, outcome.Fragment.SourceType)

	n, err := hist.Count(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	count, err := memory.Count(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPreferencePromoted(t *testing.T) {
	p, _, memory := newTestPipeline(t)
	ctx := context.Background()

	outcome, err := p.ProcessTurn(ctx, "alice", "My favorite color is blue")
	require.NoError(t, err)

	assert.Equal(t, StagePromoted, outcome.Stage)
	assert.Equal(t, LabelPreference, outcome.Classification.Label)
	require.NotNil(t, outcome.Fragment)
	assert.Equal(t, semantic.SourceConversation, outcome.Fragment.SourceType)

	results, err := memory.Query(ctx, "alice", "favorite color", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Contains(t, results[0].Fragment.Text, "blue")
}

func TestCorrectionSupersedesPriorFact(t *testing.T) {
	p, _, memory := newTestPipeline(t)
	ctx := context.Background()

	first, err := p.ProcessTurn(ctx, "alice", "My name is TestUser")
	require.NoError(t, err)
	require.NotNil(t, first.Fragment)

	second, err := p.ProcessTurn(ctx, "alice", "My name is J. P., not TestUser.")
	require.NoError(t, err)

	assert.Equal(t, StagePromoted, second.Stage)
	assert.Equal(t, LabelCorrection, second.Classification.Label)
	require.NotNil(t, second.Fragment)
	assert.Equal(t, semantic.SourceCorrection, second.Fragment.SourceType)
	assert.Equal(t, first.Fragment.ID, second.SupersededID)

	// The edge is queryable and resolves to the correction.
	next, err := memory.SupersededBy(ctx, "alice", first.Fragment.ID)
	require.NoError(t, err)
	assert.Equal(t, second.Fragment.ID, next)

	tail, err := memory.ResolveTail(ctx, "alice", first.Fragment.ID)
	require.NoError(t, err)
	assert.Equal(t, second.Fragment.ID, tail)
}

func TestCorrectionWithoutPriorFactStandsAlone(t *testing.T) {
	p, _, memory := newTestPipeline(t)
	ctx := context.Background()

	outcome, err := p.ProcessTurn(ctx, "alice", "Actually, my name is J. P.")
	require.NoError(t, err)

	assert.Equal(t, StagePromoted, outcome.Stage)
	require.NotNil(t, outcome.Fragment)
	assert.Empty(t, outcome.SupersededID)

	count, err := memory.Count(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestFeedbackNotPromoted(t *testing.T) {
	p, _, memory := newTestPipeline(t)
	ctx := context.Background()

	outcome, err := p.ProcessTurn(ctx, "alice", "Thanks, that worked!")
	require.NoError(t, err)

	assert.Equal(t, StagePersisted, outcome.Stage)
	assert.Equal(t, LabelFeedbackPositive, outcome.Classification.Label)

	count, err := memory.Count(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestPipelineUserIsolation(t *testing.T) {
	p, _, memory := newTestPipeline(t)
	ctx := context.Background()

	_, err := p.ProcessTurn(ctx, "alice", "My favorite color is blue")
	require.NoError(t, err)

	count, err := memory.Count(ctx, "bob")
	require.NoError(t, err)
	assert.Zero(t, count)
}
