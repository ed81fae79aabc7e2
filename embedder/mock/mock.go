// Package mock provides a deterministic embedder for tests and for the
// minimal hardware profile. Embeddings derive from a text hash, so equal
// texts always map to equal vectors.
package mock

import (
	"context"
	"hash/fnv"
	"math"
	"strings"

	"github.com/lucidmem/recall/core"
)

// Embedder generates hash-based embeddings.
type Embedder struct {
	dims int
}

// New creates a mock embedder with the given dimensionality.
func New(dims int) *Embedder {
	if dims <= 0 {
		dims = 384
	}
	return &Embedder{dims: dims}
}

// Embed produces a deterministic unit vector from the text. Texts sharing
// words produce correlated vectors, which is enough for boundary and
// ranking tests.
func (m *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, m.dims)

	// Sum one pseudo-random unit contribution per word so that shared
	// vocabulary yields higher cosine similarity.
	for _, word := range strings.Fields(strings.ToLower(core.CollapseWhitespace(text))) {
		h := fnv.New64a()
		h.Write([]byte(word))
		seed := h.Sum64()
		for i := 0; i < m.dims; i++ {
			seed = seed*6364136223846793005 + 1442695040888963407
			vec[i] += float32(int64(seed)) / float32(math.MaxInt64)
		}
	}

	return core.NormalizeVector(vec), nil
}

// EmbedBatch embeds each text independently.
func (m *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := m.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions returns the embedding size.
func (m *Embedder) Dimensions() int {
	return m.dims
}

// ModelID identifies the mock model.
func (m *Embedder) ModelID() string {
	return "mock-hash"
}
