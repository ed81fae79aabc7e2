// Package profile selects a hardware capability profile at startup.
//
// The selected Profile controls which optional capabilities are active
// (vector search, embedding model, batch sizes). It is chosen once from a
// static list and is immutable for the process lifetime; re-selection
// requires a restart.
package profile

import (
	"fmt"

	"github.com/lucidmem/recall/core"
)

// Profile is an immutable, hardware-derived configuration snapshot.
type Profile struct {
	Name string

	// MinMemoryGB is the smallest amount of host RAM this profile needs.
	MinMemoryGB float64

	// MinCPUs is the smallest logical CPU count this profile needs.
	MinCPUs int

	// RequiresAccelerator gates the profile on a detected GPU.
	RequiresAccelerator bool

	// EmbeddingModel identifies the primary bi-encoder model.
	EmbeddingModel string

	// FallbackModel is loaded when the primary model fails.
	FallbackModel string

	// Dimensions is the embedding vector size. The embedding engine
	// corrects this in memory if a calibration encode disagrees.
	Dimensions int

	// BatchSize bounds how many texts are encoded per inference call.
	BatchSize int

	// VectorSearch enables the vector index and semantic strategies.
	VectorSearch bool
}

// Profiles is the static selection list, best first. Detect returns the
// first entry whose requirements the host satisfies.
var Profiles = []Profile{
	{
		Name:                "performance",
		MinMemoryGB:         16,
		MinCPUs:             8,
		RequiresAccelerator: true,
		EmbeddingModel:      "all-mpnet-base-v2",
		FallbackModel:       "all-MiniLM-L6-v2",
		Dimensions:          768,
		BatchSize:           64,
		VectorSearch:        true,
	},
	{
		Name:           "balanced",
		MinMemoryGB:    8,
		MinCPUs:        4,
		EmbeddingModel: "all-MiniLM-L6-v2",
		FallbackModel:  "paraphrase-MiniLM-L3-v2",
		Dimensions:     384,
		BatchSize:      32,
		VectorSearch:   true,
	},
	{
		Name:           "conservative",
		MinMemoryGB:    4,
		MinCPUs:        2,
		EmbeddingModel: "paraphrase-MiniLM-L3-v2",
		FallbackModel:  "paraphrase-MiniLM-L3-v2",
		Dimensions:     384,
		BatchSize:      16,
		VectorSearch:   true,
	},
	{
		Name:           "minimal",
		EmbeddingModel: "",
		Dimensions:     0,
		BatchSize:      8,
		VectorSearch:   false,
	},
}

// ByName returns the named profile from the static list.
func ByName(name string) (Profile, error) {
	for _, p := range Profiles {
		if p.Name == name {
			return p, nil
		}
	}
	return Profile{}, fmt.Errorf("unknown profile %q: %w", name, core.ErrConfiguration)
}
