// Package embedding converts text into fixed-length vectors for semantic
// retrieval. Providers may be local (deterministic, dependency-free) or
// remote (model server), and can fail independently of the stores.
package embedding

import (
	"context"
	"errors"
)

// Sentinel errors for the embedding layer.
var (
	ErrUnavailable = errors.New("embedding: provider unavailable")
	ErrEmptyText   = errors.New("embedding: empty text")
)

// Provider converts text to a fixed-length numeric vector.
type Provider interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int

	// Ping checks provider liveness.
	Ping(ctx context.Context) error
}
