// Package semantic is the long-term memory tier: user-scoped fragments
// embedded into a vector store, queryable by similarity, with a supersedes
// graph tracking which fragments have been corrected.
package semantic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/recalld/recalld/pkg/embedding"
	"github.com/recalld/recalld/pkg/kvstore"
	"github.com/recalld/recalld/pkg/vectorstore"
)

// SourceType records where a fragment came from.
type SourceType string

const (
	SourceConversation SourceType = "conversation"
	SourceDocument     SourceType = "document"
	SourceCorrection   SourceType = "correction"
)

const supersedePrefix = "supersede:"

var (
	ErrInvalidUser     = errors.New("semantic: user id required")
	ErrEmptyFragment   = errors.New("semantic: fragment text is empty")
	ErrUnknownFragment = errors.New("semantic: fragment not found")
)

// Fragment is one unit of long-term memory.
type Fragment struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Text       string     `json:"text"`
	Embedding  []float32  `json:"-"`
	SourceType SourceType `json:"source_type"`
	CreatedAt  time.Time  `json:"created_at"`

	// Supersedes names the fragment this one corrects, if any.
	Supersedes string `json:"supersedes,omitempty"`
}

// ScoredFragment pairs a fragment with its query similarity.
type ScoredFragment struct {
	Fragment Fragment `json:"fragment"`
	Score    float64  `json:"score"`
}

// Store persists fragments in a vector store and the supersedes edges in the
// key-value store. Edges live outside vector metadata so marking a fragment
// superseded never re-embeds or rewrites it.
type Store struct {
	vectors  vectorstore.Store
	embedder embedding.Provider
	kv       kvstore.Store
	floor    float64

	// edgeMu serializes edge-map read-modify-write cycles.
	edgeMu sync.Mutex
}

// NewStore builds a semantic store. floor is the minimum similarity a query
// result must clear to be returned.
func NewStore(vectors vectorstore.Store, embedder embedding.Provider, kv kvstore.Store, floor float64) *Store {
	return &Store{
		vectors:  vectors,
		embedder: embedder,
		kv:       kv,
		floor:    floor,
	}
}

// Upsert stores a fragment, embedding the text when no vector was supplied.
// A missing ID is generated; the assigned fragment is returned.
func (s *Store) Upsert(ctx context.Context, frag Fragment) (Fragment, error) {
	if frag.UserID == "" {
		return Fragment{}, ErrInvalidUser
	}
	if frag.Text == "" {
		return Fragment{}, ErrEmptyFragment
	}

	if frag.ID == "" {
		frag.ID = uuid.NewString()
	}
	if frag.CreatedAt.IsZero() {
		frag.CreatedAt = time.Now().UTC()
	}
	if frag.SourceType == "" {
		frag.SourceType = SourceConversation
	}

	if frag.Embedding == nil {
		vec, err := s.embedder.Embed(ctx, frag.Text)
		if err != nil {
			return Fragment{}, fmt.Errorf("semantic: embed failed: %w", err)
		}
		frag.Embedding = vec
	}

	doc := vectorstore.Document{
		ID:        frag.ID,
		Text:      frag.Text,
		Embedding: frag.Embedding,
		Metadata: map[string]string{
			"source_type": string(frag.SourceType),
			"created_at":  frag.CreatedAt.Format(time.RFC3339Nano),
			"supersedes":  frag.Supersedes,
		},
	}
	if err := s.vectors.Upsert(ctx, frag.UserID, doc); err != nil {
		return Fragment{}, fmt.Errorf("semantic: upsert failed: %w", err)
	}

	if frag.Supersedes != "" {
		if err := s.addEdge(ctx, frag.UserID, frag.Supersedes, frag.ID); err != nil {
			return Fragment{}, err
		}
	}
	return frag, nil
}

// Query embeds the text and returns the user's fragments above the relevance
// floor, most similar first. k<=0 falls back to a single result.
func (s *Store) Query(ctx context.Context, userID, text string, k int) ([]ScoredFragment, error) {
	if userID == "" {
		return nil, ErrInvalidUser
	}
	if k <= 0 {
		k = 1
	}

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("semantic: embed failed: %w", err)
	}
	return s.QueryByVector(ctx, userID, vec, k)
}

// QueryByVector is Query with a precomputed embedding.
func (s *Store) QueryByVector(ctx context.Context, userID string, vec []float32, k int) ([]ScoredFragment, error) {
	results, err := s.vectors.Query(ctx, userID, vec, k)
	if err != nil {
		return nil, fmt.Errorf("semantic: query failed: %w", err)
	}

	scored := make([]ScoredFragment, 0, len(results))
	for _, res := range results {
		if res.Score < s.floor {
			continue
		}
		scored = append(scored, ScoredFragment{
			Fragment: fragmentFromDocument(userID, res.Document),
			Score:    res.Score,
		})
	}
	return scored, nil
}

// MarkSuperseded records that oldID has been replaced by newID. The old
// fragment stays in the store; ranking decides its visibility.
func (s *Store) MarkSuperseded(ctx context.Context, userID, oldID, newID string) error {
	if userID == "" {
		return ErrInvalidUser
	}
	if oldID == "" || newID == "" || oldID == newID {
		return fmt.Errorf("%w: bad edge %q -> %q", ErrUnknownFragment, oldID, newID)
	}
	return s.addEdge(ctx, userID, oldID, newID)
}

// SupersededBy returns the direct replacement of a fragment, or "" when the
// fragment is current.
func (s *Store) SupersededBy(ctx context.Context, userID, fragID string) (string, error) {
	edges, err := s.loadEdges(ctx, userID)
	if err != nil {
		return "", err
	}
	return edges[fragID], nil
}

// ResolveTail walks the supersedes chain from fragID to its newest
// replacement. A fragment with no successor resolves to itself. Cycles
// terminate at the last unvisited node.
func (s *Store) ResolveTail(ctx context.Context, userID, fragID string) (string, error) {
	edges, err := s.loadEdges(ctx, userID)
	if err != nil {
		return "", err
	}

	seen := map[string]bool{fragID: true}
	cur := fragID
	for {
		next, ok := edges[cur]
		if !ok || next == "" || seen[next] {
			return cur, nil
		}
		seen[next] = true
		cur = next
	}
}

// Count reports the user's fragment count.
func (s *Store) Count(ctx context.Context, userID string) (int, error) {
	return s.vectors.Count(ctx, userID)
}

// Forget erases the user's fragments and supersedes edges.
func (s *Store) Forget(ctx context.Context, userID string) (int, error) {
	n, err := s.vectors.DeleteUser(ctx, userID)
	if err != nil {
		return n, fmt.Errorf("semantic: forget failed: %w", err)
	}
	if err := s.kv.Delete(ctx, supersedePrefix+userID); err != nil {
		return n, fmt.Errorf("semantic: edge cleanup failed: %w", err)
	}
	return n, nil
}

func fragmentFromDocument(userID string, doc vectorstore.Document) Fragment {
	frag := Fragment{
		ID:        doc.ID,
		UserID:    userID,
		Text:      doc.Text,
		Embedding: doc.Embedding,
	}
	if doc.Metadata != nil {
		frag.SourceType = SourceType(doc.Metadata["source_type"])
		frag.Supersedes = doc.Metadata["supersedes"]
		if ts, err := time.Parse(time.RFC3339Nano, doc.Metadata["created_at"]); err == nil {
			frag.CreatedAt = ts
		}
	}
	return frag
}

// addEdge persists oldID -> newID in the user's edge map.
func (s *Store) addEdge(ctx context.Context, userID, oldID, newID string) error {
	s.edgeMu.Lock()
	defer s.edgeMu.Unlock()

	edges, err := s.loadEdges(ctx, userID)
	if err != nil {
		return err
	}
	if edges == nil {
		edges = make(map[string]string, 1)
	}
	edges[oldID] = newID

	data, err := json.Marshal(edges)
	if err != nil {
		return fmt.Errorf("semantic: edge marshal failed: %w", err)
	}
	if err := s.kv.Set(ctx, supersedePrefix+userID, string(data), 0); err != nil {
		return fmt.Errorf("semantic: edge store failed: %w", err)
	}
	return nil
}

func (s *Store) loadEdges(ctx context.Context, userID string) (map[string]string, error) {
	raw, found, err := s.kv.Get(ctx, supersedePrefix+userID)
	if err != nil {
		return nil, fmt.Errorf("semantic: edge load failed: %w", err)
	}
	if !found {
		return nil, nil
	}

	var edges map[string]string
	if err := json.Unmarshal([]byte(raw), &edges); err != nil {
		return nil, fmt.Errorf("semantic: corrupt edge map for user %s: %w", userID, err)
	}
	return edges, nil
}
