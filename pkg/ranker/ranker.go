// Package ranker adjusts raw similarity scores before memory results reach a
// prompt. Similarity alone keeps surfacing stale facts the user has since
// corrected; the ranker dampens superseded fragments and lifts their
// replacements so the newest version of a fact wins.
package ranker

import (
	"context"
	"sort"
	"strings"

	"github.com/recalld/recalld/pkg/semantic"
)

// EdgeResolver answers supersedes questions about a user's fragments. The
// semantic store satisfies it.
type EdgeResolver interface {
	SupersededBy(ctx context.Context, userID, fragID string) (string, error)
}

// Config tunes the ranking adjustments.
type Config struct {
	// Floor drops results whose adjusted score falls below it.
	Floor float64

	// Damping multiplies the score of a superseded fragment, and of any
	// fragment matching a value the query marks as outdated.
	Damping float64

	// Boost multiplies the score of correction fragments. Adjusted scores
	// clamp to 1.
	Boost float64
}

// QueryContext carries correction hints extracted from the current turn.
// OldValues are strings the user has explicitly replaced.
type QueryContext struct {
	OldValues []string
}

// Ranker reorders scored fragments with correction awareness.
type Ranker struct {
	edges EdgeResolver
	cfg   Config
}

// New creates a Ranker. Zero-value config fields get working defaults.
func New(edges EdgeResolver, cfg Config) *Ranker {
	if cfg.Damping <= 0 {
		cfg.Damping = 0.04
	}
	if cfg.Boost <= 0 {
		cfg.Boost = 1.15
	}
	return &Ranker{edges: edges, cfg: cfg}
}

// Rank adjusts, re-sorts and floor-filters the candidates for one user.
// Candidates should be overfetched; the caller truncates to its final k.
func (r *Ranker) Rank(ctx context.Context, userID string, candidates []semantic.ScoredFragment, qc QueryContext) ([]semantic.ScoredFragment, error) {
	ranked := make([]semantic.ScoredFragment, 0, len(candidates))
	for _, cand := range candidates {
		adjusted, err := r.adjust(ctx, userID, cand, qc)
		if err != nil {
			return nil, err
		}
		if adjusted.Score < r.cfg.Floor {
			continue
		}
		ranked = append(ranked, adjusted)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked, nil
}

func (r *Ranker) adjust(ctx context.Context, userID string, cand semantic.ScoredFragment, qc QueryContext) (semantic.ScoredFragment, error) {
	next, err := r.edges.SupersededBy(ctx, userID, cand.Fragment.ID)
	if err != nil {
		return cand, err
	}

	switch {
	case next != "":
		// Corrected facts stay retrievable but nearly never surface.
		cand.Score *= r.cfg.Damping
	case matchesOldValue(cand.Fragment.Text, qc.OldValues):
		cand.Score *= r.cfg.Damping
	case cand.Fragment.SourceType == semantic.SourceCorrection:
		cand.Score *= r.cfg.Boost
		if cand.Score > 1 {
			cand.Score = 1
		}
	}
	return cand, nil
}

// matchesOldValue reports whether the fragment text contains a value the
// current turn declared outdated.
func matchesOldValue(text string, oldValues []string) bool {
	if len(oldValues) == 0 {
		return false
	}
	lower := strings.ToLower(text)
	for _, v := range oldValues {
		v = strings.TrimSpace(strings.ToLower(v))
		if v != "" && strings.Contains(lower, v) {
			return true
		}
	}
	return false
}
