package engine

import (
	"context"
	"testing"
	"time"

	"github.com/lucidmem/recall/config"
	"github.com/lucidmem/recall/core"
	"github.com/lucidmem/recall/embedder/mock"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()

	cfg := config.Default()
	cfg.Profile = "balanced"
	cfg.DataDir = t.TempDir()

	e, err := New(cfg, WithEmbedder(mock.New(32)))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func ingestMessages(t *testing.T, e *Engine, channelID string, contents []string, base time.Time) {
	t.Helper()
	for i, c := range contents {
		msg := &core.Message{
			ChannelID: channelID,
			AuthorID:  "alice",
			Content:   c,
			Kind:      core.KindUser,
			Timestamp: base.Add(time.Duration(i) * 10 * time.Second),
		}
		if err := e.StoreMessage(context.Background(), msg); err != nil {
			t.Fatalf("store message %d: %v", i, err)
		}
	}
}

func TestStoreAndSearchRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ingestMessages(t, e, "chan1", []string{
		"the deploy is scheduled for friday",
		"remember to update the changelog",
		"lunch plans anyone",
	}, base)

	res, err := e.SearchMemory(context.Background(), core.SearchQuery{
		Text: "deploy schedule", ChannelID: "chan1", Type: core.SearchKeyword,
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res.Items) == 0 {
		t.Fatal("keyword search found nothing")
	}
	if res.CacheHit {
		t.Error("first search should not be a cache hit")
	}
}

func TestSearchCacheIdempotence(t *testing.T) {
	e := newTestEngine(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ingestMessages(t, e, "chan1", []string{"the deploy is scheduled for friday"}, base)

	q := core.SearchQuery{Text: "deploy", ChannelID: "chan1", Type: core.SearchKeyword}
	first, err := e.SearchMemory(context.Background(), q)
	if err != nil {
		t.Fatalf("first search: %v", err)
	}
	second, err := e.SearchMemory(context.Background(), q)
	if err != nil {
		t.Fatalf("second search: %v", err)
	}

	if !second.CacheHit {
		t.Error("repeated query should hit the cache")
	}
	if len(first.Items) != len(second.Items) {
		t.Fatalf("cached result size %d != original %d", len(second.Items), len(first.Items))
	}
	for i := range first.Items {
		if first.Items[i].Identity() != second.Items[i].Identity() {
			t.Errorf("cached item %d differs: %s vs %s",
				i, second.Items[i].Identity(), first.Items[i].Identity())
		}
	}
}

func TestFinalizeAndStats(t *testing.T) {
	e := newTestEngine(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ingestMessages(t, e, "chan1", []string{
		"planning the migration", "database first", "then the services",
	}, base)

	seg, err := e.FinalizeChannel(context.Background(), "chan1")
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if seg == nil || seg.MessageCount != 3 {
		t.Fatalf("finalized segment = %+v", seg)
	}

	if _, err := e.SearchMemory(context.Background(), core.SearchQuery{
		Text: "migration", ChannelID: "chan1", Type: core.SearchKeyword,
	}); err != nil {
		t.Fatalf("search: %v", err)
	}

	stats, err := e.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalSegments != 1 {
		t.Errorf("total segments = %d, want 1", stats.TotalSegments)
	}
	if stats.AvgQueryTimeMs <= 0 {
		t.Errorf("average query time = %v, want > 0", stats.AvgQueryTimeMs)
	}
	if stats.Profile != "balanced" {
		t.Errorf("profile = %q", stats.Profile)
	}
}

func TestReloadSwapsSearchTunables(t *testing.T) {
	e := newTestEngine(t)

	cfg := config.Default()
	cfg.Profile = "balanced"
	cfg.DataDir = t.TempDir()
	cfg.Search.SemanticWeight = 0.9
	cfg.Search.KeywordWeight = 0.1
	if err := e.Reload(cfg); err != nil {
		t.Fatalf("reload: %v", err)
	}

	bad := config.Default()
	bad.Search.SemanticWeight = -1
	if err := e.Reload(bad); err == nil {
		t.Error("invalid snapshot should be rejected")
	}
}

func TestEmbedderSharedThroughRegistry(t *testing.T) {
	cfg := config.Default()
	cfg.Profile = "balanced"
	cfg.DataDir = t.TempDir()

	m := mock.New(32)
	e, err := New(cfg, WithEmbedder(m))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(func() { e.Close() })

	if e.registry == nil {
		t.Fatal("vector-search profile should carry an embedder registry")
	}
	if e.embed != m {
		t.Error("engine did not resolve the registered embedder")
	}

	// Any later caller asking the registry for the profile's model must
	// receive the same instance.
	again, err := e.registry.Engine(e.prof.EmbeddingModel)
	if err != nil {
		t.Fatalf("registry lookup: %v", err)
	}
	if again != e.embed {
		t.Error("registry returned a second instance for the same model")
	}
}

func TestStoreMessageRequiresChannel(t *testing.T) {
	e := newTestEngine(t)
	err := e.StoreMessage(context.Background(), &core.Message{Content: "orphan"})
	if err == nil {
		t.Error("message without a channel should be rejected")
	}
}
