package learning

import (
	"context"
	"fmt"

	"github.com/recalld/recalld/pkg/history"
	"github.com/recalld/recalld/pkg/semantic"
)

// Stage marks how far a turn made it through the pipeline.
type Stage string

const (
	StageReceived   Stage = "received"
	StageClassified Stage = "classified"
	StagePersisted  Stage = "persisted"
	StagePromoted   Stage = "promoted"
)

// Outcome reports what the pipeline did with one turn.
type Outcome struct {
	Stage          Stage          `json:"stage"`
	Classification Classification `json:"classification"`

	// Fragment is set when the turn was promoted to semantic memory.
	Fragment *semantic.Fragment `json:"fragment,omitempty"`

	// SupersededID names the prior fragment a correction replaced.
	SupersededID string `json:"superseded_id,omitempty"`
}

type pipelineLogger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type pipelineRecorder interface {
	RecordClassification(label string)
	RecordFragmentStored(sourceType string)
}

type nopRecorder struct{}

func (nopRecorder) RecordClassification(string) {}
func (nopRecorder) RecordFragmentStored(string) {}

// Pipeline processes user turns: every turn lands in history, durable turns
// are promoted to semantic memory, and corrections additionally mark their
// closest prior fragment superseded.
type Pipeline struct {
	classifier *Classifier
	hist       *history.Log
	memory     *semantic.Store
	logger     pipelineLogger
	metrics    pipelineRecorder
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMetrics attaches a metrics recorder.
func WithMetrics(r pipelineRecorder) Option {
	return func(p *Pipeline) {
		if r != nil {
			p.metrics = r
		}
	}
}

// NewPipeline wires the learning pipeline.
func NewPipeline(classifier *Classifier, hist *history.Log, memory *semantic.Store, log pipelineLogger, opts ...Option) *Pipeline {
	p := &Pipeline{
		classifier: classifier,
		hist:       hist,
		memory:     memory,
		logger:     log,
		metrics:    nopRecorder{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessTurn runs one user message through the pipeline. The history write
// is mandatory; promotion failures degrade the outcome but do not fail the
// turn. A classifier panic downgrades the turn to neutral.
func (p *Pipeline) ProcessTurn(ctx context.Context, userID, text string) (Outcome, error) {
	outcome := Outcome{Stage: StageReceived}

	outcome.Classification = p.classifySafe(userID, text)
	outcome.Stage = StageClassified
	p.metrics.RecordClassification(string(outcome.Classification.Label))

	if _, err := p.hist.Append(ctx, userID, history.RoleUser, text); err != nil {
		return outcome, fmt.Errorf("learning: history append failed: %w", err)
	}
	outcome.Stage = StagePersisted

	if !outcome.Classification.Durable() {
		return outcome, nil
	}

	frag, supersededID, err := p.promote(ctx, userID, text, outcome.Classification)
	if err != nil {
		p.logger.Warn("memory promotion failed, turn kept in history only",
			"user_id", userID, "label", outcome.Classification.Label, "error", err)
		return outcome, nil
	}

	outcome.Stage = StagePromoted
	outcome.Fragment = &frag
	outcome.SupersededID = supersededID
	p.metrics.RecordFragmentStored(string(frag.SourceType))
	return outcome, nil
}

// promote writes the turn into semantic memory. Corrections first locate the
// closest existing fragment and mark it superseded by the new one.
func (p *Pipeline) promote(ctx context.Context, userID, text string, cls Classification) (semantic.Fragment, string, error) {
	source := semantic.SourceConversation
	if cls.Label == LabelCorrection {
		source = semantic.SourceCorrection
	}

	supersededID := ""
	if cls.Label == LabelCorrection {
		supersededID = p.findSupersededTarget(ctx, userID, text, cls)
	}

	frag, err := p.memory.Upsert(ctx, semantic.Fragment{
		UserID:     userID,
		Text:       text,
		SourceType: source,
		Supersedes: supersededID,
	})
	if err != nil {
		return semantic.Fragment{}, "", err
	}

	p.logger.Debug("turn promoted to semantic memory",
		"user_id", userID, "fragment_id", frag.ID, "source_type", frag.SourceType,
		"superseded_id", supersededID)
	return frag, supersededID, nil
}

// findSupersededTarget picks the fragment a correction most plausibly
// replaces. Preference goes to a fragment containing the old value; failing
// that, the most similar prior fragment. Returns "" when nothing matches;
// the correction still stands on its own.
func (p *Pipeline) findSupersededTarget(ctx context.Context, userID, text string, cls Classification) string {
	lookup := text
	if cls.OldValue != "" {
		lookup = cls.OldValue
	}

	candidates, err := p.memory.Query(ctx, userID, lookup, 3)
	if err != nil {
		p.logger.Warn("supersede target lookup failed", "user_id", userID, "error", err)
		return ""
	}
	if len(candidates) == 0 {
		return ""
	}

	if cls.OldValue != "" {
		for _, cand := range candidates {
			if containsFold(cand.Fragment.Text, cls.OldValue) {
				return cand.Fragment.ID
			}
		}
	}
	return candidates[0].Fragment.ID
}

// classifySafe is Classify with a panic guard. A heuristic crash must never
// take a conversation down with it.
func (p *Pipeline) classifySafe(userID, text string) (cls Classification) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("classifier panicked, treating turn as neutral",
				"user_id", userID, "panic", fmt.Sprint(r))
			cls = Classification{Label: LabelNeutral}
		}
	}()
	return p.classifier.Classify(text)
}
