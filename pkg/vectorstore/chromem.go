package vectorstore

import (
	"context"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// ChromemStore implements Store over chromem-go, a pure-Go embedded vector
// database. Each user gets a dedicated collection, so partition isolation is
// structural rather than a filter someone can forget.
type ChromemStore struct {
	mu          sync.RWMutex
	db          *chromem.DB
	collections map[string]*chromem.Collection
}

// NewChromemStore creates an in-memory store, or a persistent one when
// persistPath is non-empty.
func NewChromemStore(persistPath string) (*ChromemStore, error) {
	var (
		db  *chromem.DB
		err error
	)
	if persistPath != "" {
		db, err = chromem.NewPersistentDB(persistPath, false)
		if err != nil {
			return nil, fmt.Errorf("vectorstore: open persistent db at %s: %w", persistPath, err)
		}
	} else {
		db = chromem.NewDB()
	}

	return &ChromemStore{
		db:          db,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

func collectionName(userID string) string {
	return "user_" + userID
}

// collection returns the user's collection, creating it on first use.
func (s *ChromemStore) collection(userID string) (*chromem.Collection, error) {
	s.mu.RLock()
	col, ok := s.collections[userID]
	s.mu.RUnlock()
	if ok {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if col, ok := s.collections[userID]; ok {
		return col, nil
	}

	// Embeddings are always supplied by the caller, so no embedding
	// function is registered; the default cosine distance applies.
	col, err := s.db.GetOrCreateCollection(collectionName(userID), nil, noEmbedding)
	if err != nil {
		return nil, fmt.Errorf("%w: create collection: %v", ErrUnavailable, err)
	}
	s.collections[userID] = col
	return col, nil
}

// noEmbedding guards against documents arriving without a vector; the
// semantic layer embeds before it writes.
func noEmbedding(_ context.Context, _ string) ([]float32, error) {
	return nil, fmt.Errorf("vectorstore: no embedding function configured")
}

// Upsert writes or replaces a document in the user's collection.
func (s *ChromemStore) Upsert(ctx context.Context, userID string, doc Document) error {
	if userID == "" {
		return ErrInvalidUser
	}
	if doc.ID == "" || len(doc.Embedding) == 0 {
		return ErrInvalidDoc
	}

	col, err := s.collection(userID)
	if err != nil {
		return err
	}

	metadata := make(map[string]string, len(doc.Metadata)+1)
	for k, v := range doc.Metadata {
		metadata[k] = v
	}
	metadata["user_id"] = userID

	err = col.AddDocument(ctx, chromem.Document{
		ID:        doc.ID,
		Content:   doc.Text,
		Embedding: doc.Embedding,
		Metadata:  metadata,
	})
	if err != nil {
		return fmt.Errorf("%w: add document: %v", ErrUnavailable, err)
	}
	return nil
}

// Query returns up to k documents from the user's collection, most similar
// first.
func (s *ChromemStore) Query(ctx context.Context, userID string, embedding []float32, k int) ([]Result, error) {
	if userID == "" {
		return nil, ErrInvalidUser
	}
	if k <= 0 {
		return nil, nil
	}

	col, err := s.collection(userID)
	if err != nil {
		return nil, err
	}

	// chromem rejects nResults larger than the collection.
	if n := col.Count(); n == 0 {
		return nil, nil
	} else if k > n {
		k = n
	}

	raw, err := col.QueryEmbedding(ctx, embedding, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", ErrUnavailable, err)
	}

	results := make([]Result, 0, len(raw))
	for _, r := range raw {
		results = append(results, Result{
			Document: Document{
				ID:        r.ID,
				Text:      r.Content,
				Embedding: r.Embedding,
				Metadata:  r.Metadata,
			},
			Score: normalizeScore(r.Similarity),
		})
	}
	return results, nil
}

// Count returns the number of documents in the user's collection.
func (s *ChromemStore) Count(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, ErrInvalidUser
	}
	col, err := s.collection(userID)
	if err != nil {
		return 0, err
	}
	return col.Count(), nil
}

// DeleteUser removes the user's collection.
func (s *ChromemStore) DeleteUser(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, ErrInvalidUser
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	if col, ok := s.collections[userID]; ok {
		count = col.Count()
	}
	if err := s.db.DeleteCollection(collectionName(userID)); err != nil {
		return 0, fmt.Errorf("%w: delete collection: %v", ErrUnavailable, err)
	}
	delete(s.collections, userID)
	return count, nil
}

// Ping always succeeds for the embedded store.
func (s *ChromemStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op; chromem persists incrementally when configured to.
func (s *ChromemStore) Close() error {
	return nil
}
