// Package embedder turns text into fixed-dimension vectors.
//
// Engines own model lifecycle: lazy load on first use, fallback to a
// secondary model when the primary fails, and a calibration encode that
// reconciles the configured dimensionality with what the model actually
// produces. A Registry guarantees one resident instance per model
// regardless of how many call sites ask for it.
package embedder

import (
	"context"
	"fmt"
	"sync"

	"github.com/lucidmem/recall/core"
)

// Engine converts text to embedding vectors.
type Engine interface {
	// Embed converts one text to a vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts texts to vectors, batching internally so that no
	// single inference call exceeds the engine's batch size.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the vector size actually produced by the loaded
	// model (post-calibration).
	Dimensions() int

	// ModelID identifies the loaded model.
	ModelID() string
}

// Registry holds one Engine instance per model identifier. It is
// constructed once at process start and passed by handle to every
// component that embeds text; there is no package-level registry.
type Registry struct {
	mu      sync.Mutex
	engines map[string]Engine
	builder func(modelID string) (Engine, error)
}

// NewRegistry creates a registry that builds missing engines with the
// given constructor.
func NewRegistry(builder func(modelID string) (Engine, error)) *Registry {
	return &Registry{
		engines: make(map[string]Engine),
		builder: builder,
	}
}

// Engine returns the shared instance for modelID, constructing it on first
// request. Concurrent callers for the same model receive the same instance.
func (r *Registry) Engine(modelID string) (Engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.engines[modelID]; ok {
		return e, nil
	}
	e, err := r.builder(modelID)
	if err != nil {
		return nil, fmt.Errorf("build engine for %q: %w", modelID, err)
	}
	r.engines[modelID] = e
	return e, nil
}

// Register installs a prebuilt engine, replacing any existing instance for
// the same model. Used for test doubles.
func (r *Registry) Register(modelID string, e Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[modelID] = e
}

// NormalizeTexts trims and whitespace-collapses inputs before encoding.
// Engines call it on every batch so equal texts embed identically
// regardless of the caller's whitespace.
func NormalizeTexts(texts []string) []string {
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = core.CollapseWhitespace(t)
	}
	return out
}
