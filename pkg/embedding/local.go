package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// LocalProvider is a deterministic, dependency-free embedder. It hashes
// tokens into a fixed number of buckets and L2-normalizes the counts, so
// texts sharing vocabulary land near each other under cosine similarity.
// Deterministic output makes retrieval behavior reproducible in tests and
// keeps the subsystem usable when no model server is deployed.
type LocalProvider struct {
	dimensions int
}

// NewLocalProvider creates a local embedder with the given dimension.
func NewLocalProvider(dimensions int) *LocalProvider {
	if dimensions <= 0 {
		dimensions = 256
	}
	return &LocalProvider{dimensions: dimensions}
}

// Embed converts text to a normalized bag-of-tokens vector.
func (p *LocalProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	vec := make([]float32, p.dimensions)
	for _, tok := range tokenize(text) {
		h := fnv.New64a()
		h.Write([]byte(tok))
		vec[h.Sum64()%uint64(p.dimensions)]++
	}

	return normalize(vec), nil
}

// Dimensions returns the embedding size.
func (p *LocalProvider) Dimensions() int {
	return p.dimensions
}

// Ping always succeeds for the local provider.
func (p *LocalProvider) Ping(ctx context.Context) error {
	return nil
}

// tokenize lowercases and splits on non-alphanumeric runes.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// normalize converts a vector to unit length.
func normalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}
