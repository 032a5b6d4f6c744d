// Package vectorstore provides a thin interface over a vector database with
// filtered similarity search. Every operation takes the owning user ID as a
// required parameter, so an unfiltered cross-user query is impossible to
// express.
package vectorstore

import (
	"context"
	"errors"
)

// Sentinel errors for the vector layer.
var (
	ErrUnavailable = errors.New("vectorstore: backend unavailable")
	ErrInvalidUser = errors.New("vectorstore: user ID is required")
	ErrInvalidDoc  = errors.New("vectorstore: document ID and embedding are required")
)

// Document is one embedded text unit owned by a single user.
type Document struct {
	ID        string
	Text      string
	Embedding []float32
	Metadata  map[string]string
}

// Result is a document with its similarity score, normalized to [0,1]
// (cosine similarity with negative values clamped to zero).
type Result struct {
	Document Document
	Score    float64
}

// Store is the interface over a vector-similarity engine.
type Store interface {
	// Upsert writes or replaces a document in the user's partition.
	Upsert(ctx context.Context, userID string, doc Document) error

	// Query returns up to k documents from the user's partition, most
	// similar first.
	Query(ctx context.Context, userID string, embedding []float32, k int) ([]Result, error)

	// Count returns the number of documents in the user's partition.
	Count(ctx context.Context, userID string) (int, error)

	// DeleteUser removes the user's entire partition and returns the
	// number of deleted documents.
	DeleteUser(ctx context.Context, userID string) (int, error)

	// Ping checks backend liveness.
	Ping(ctx context.Context) error

	Close() error
}

// normalizeScore clamps cosine similarity into [0,1]. Anti-correlated
// vectors carry no retrieval value, so negatives flatten to zero instead of
// shifting the whole scale.
func normalizeScore(sim float32) float64 {
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return float64(sim)
}
