package embedder

import (
	"context"
	"fmt"
	"testing"

	"github.com/lucidmem/recall/core"
	"github.com/lucidmem/recall/embedder/mock"
)

func TestRegistrySingleInstance(t *testing.T) {
	built := 0
	reg := NewRegistry(func(modelID string) (Engine, error) {
		built++
		return mock.New(8), nil
	})

	a, err := reg.Engine("model-a")
	if err != nil {
		t.Fatalf("Engine failed: %v", err)
	}
	b, err := reg.Engine("model-a")
	if err != nil {
		t.Fatalf("Engine failed: %v", err)
	}
	if a != b {
		t.Error("same model ID returned different instances")
	}
	if built != 1 {
		t.Errorf("builder ran %d times, want 1", built)
	}

	if _, err := reg.Engine("model-b"); err != nil {
		t.Fatalf("Engine failed: %v", err)
	}
	if built != 2 {
		t.Errorf("builder ran %d times after second model, want 2", built)
	}
}

func TestRegistryBuilderError(t *testing.T) {
	reg := NewRegistry(func(modelID string) (Engine, error) {
		return nil, fmt.Errorf("no such model: %w", core.ErrModelLoad)
	})
	if _, err := reg.Engine("missing"); err == nil {
		t.Error("expected builder error to surface")
	}
}

func TestMockDeterminism(t *testing.T) {
	ctx := context.Background()
	m := mock.New(64)

	a, _ := m.Embed(ctx, "deploy   the release")
	b, _ := m.Embed(ctx, "deploy the release")
	if core.CosineSimilarity(a, b) < 0.9999 {
		t.Error("whitespace-normalized equal texts should embed identically")
	}

	c, _ := m.Embed(ctx, "completely unrelated lunch discussion")
	if core.CosineSimilarity(a, c) > 0.9 {
		t.Error("unrelated texts should not be near-identical")
	}
}

func TestNormalizeTexts(t *testing.T) {
	got := NormalizeTexts([]string{" a  b ", "c"})
	if got[0] != "a b" || got[1] != "c" {
		t.Errorf("NormalizeTexts = %v", got)
	}
}
