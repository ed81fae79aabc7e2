package search

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/lucidmem/recall/core"
	"github.com/lucidmem/recall/index"
	"github.com/lucidmem/recall/store"
)

// fixedEmbedder returns the same vector for every input, letting tests
// pin the query vector while segment vectors are inserted directly.
type fixedEmbedder struct {
	vec []float32
}

func (f fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.vec, nil
}

func (f fixedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

func (f fixedEmbedder) Dimensions() int { return len(f.vec) }
func (f fixedEmbedder) ModelID() string { return "fixed" }

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "recall.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func storeMsg(t *testing.T, st *store.Store, channelID, content string, ts time.Time) *core.Message {
	t.Helper()
	msg := &core.Message{
		ChannelID: channelID,
		AuthorID:  "alice",
		Content:   content,
		Kind:      core.KindUser,
		Timestamp: ts,
	}
	if _, err := st.StoreMessage(context.Background(), msg); err != nil {
		t.Fatalf("store message: %v", err)
	}
	return msg
}

func makeSegment(t *testing.T, st *store.Store, ix *index.Index, channelID string, vec []float32, msgs ...*core.Message) string {
	t.Helper()
	ctx := context.Background()
	seg := &core.ConversationSegment{
		ChannelID:      channelID,
		StartTime:      msgs[0].Timestamp,
		EndTime:        msgs[len(msgs)-1].Timestamp,
		MessageCount:   len(msgs),
		Representative: vec,
		Coherence:      1,
	}
	links := make([]core.SegmentLink, len(msgs))
	for i, m := range msgs {
		links[i] = core.SegmentLink{MessageID: m.ID, Position: i}
	}
	id, err := st.CreateSegment(ctx, seg, links)
	if err != nil {
		t.Fatalf("create segment: %v", err)
	}
	if err := ix.Insert(ctx, channelID, id, vec, seg.EndTime); err != nil {
		t.Fatalf("insert vector: %v", err)
	}
	return id
}

func TestExtractTerms(t *testing.T) {
	got := ExtractTerms("What did we decide about the deploy, the DEPLOY schedule?")
	want := []string{"decide", "about", "deploy", "schedule"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExtractTerms = %v, want %v", got, want)
	}

	if terms := ExtractTerms("the a an to"); len(terms) != 0 {
		t.Errorf("all-stopword query produced terms %v", terms)
	}
}

func TestKeywordScoreCoverage(t *testing.T) {
	terms := []string{"deploy", "schedule"}

	full := keywordScore("the deploy schedule moved", terms)
	half := keywordScore("the deploy is done", terms)
	none := keywordScore("lunch plans anyone", terms)

	if none != 0 {
		t.Errorf("no-match score = %v, want 0", none)
	}
	if full <= half {
		t.Errorf("full coverage %v should beat half coverage %v", full, half)
	}
	repeated := keywordScore("deploy deploy deploy schedule", terms)
	if repeated <= full {
		t.Errorf("repeated terms %v should beat single occurrences %v", repeated, full)
	}
	for _, s := range []float64{full, half, repeated} {
		if s < 0 || s > 1 {
			t.Errorf("score %v outside [0, 1]", s)
		}
	}
}

func TestKeywordSearch(t *testing.T) {
	st := openTestStore(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	storeMsg(t, st, "chan1", "the deploy schedule moved to friday", base)
	storeMsg(t, st, "chan1", "deploy is blocked on review", base.Add(time.Minute))
	storeMsg(t, st, "chan1", "lunch plans anyone", base.Add(2*time.Minute))

	e, err := New(Config{}, st, nil, nil)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	res, err := e.Search(context.Background(), core.SearchQuery{
		Text: "deploy schedule", ChannelID: "chan1", Type: core.SearchKeyword,
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res.Items) != 2 {
		t.Fatalf("got %d items, want 2", len(res.Items))
	}
	if res.Items[0].Message.Content != "the deploy schedule moved to friday" {
		t.Errorf("both-term message should rank first, got %q", res.Items[0].Message.Content)
	}
	if res.Strategy != core.SearchKeyword {
		t.Errorf("strategy = %q", res.Strategy)
	}
}

func TestTemporalSearch(t *testing.T) {
	st := openTestStore(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		storeMsg(t, st, "chan1", "message", base.Add(time.Duration(i)*time.Minute))
	}

	e, err := New(Config{}, st, nil, nil)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	res, err := e.Search(context.Background(), core.SearchQuery{
		ChannelID: "chan1",
		Type:      core.SearchTemporal,
		After:     base.Add(time.Minute),
		Before:    base.Add(3 * time.Minute),
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res.Items) != 3 {
		t.Fatalf("got %d items, want 3 in range", len(res.Items))
	}
	for i := 1; i < len(res.Items); i++ {
		if res.Items[i].Message.Timestamp.After(res.Items[i-1].Message.Timestamp) {
			t.Errorf("temporal results not newest-first at %d", i)
		}
	}
}

func TestHybridWeightedOrdering(t *testing.T) {
	st := openTestStore(t)
	ix, err := index.New(index.Config{Dimensions: 4})
	if err != nil {
		t.Fatalf("new index: %v", err)
	}

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	// Both messages keyword-match "deploy release". Segment vectors are
	// built to sit at cosine 0.9 and 0.4 from the query vector.
	msgA := storeMsg(t, st, "chan1", "deploy release for the api", base)
	msgB := storeMsg(t, st, "chan1", "deploy release notes draft", base.Add(time.Minute))

	vecA := []float32{0.9, float32(math.Sqrt(1 - 0.81)), 0, 0}
	vecB := []float32{0.4, float32(math.Sqrt(1 - 0.16)), 0, 0}
	makeSegment(t, st, ix, "chan1", vecA, msgA)
	makeSegment(t, st, ix, "chan1", vecB, msgB)

	e, err := New(Config{SemanticWeight: 0.6, KeywordWeight: 0.4}, st, ix,
		fixedEmbedder{vec: []float32{1, 0, 0, 0}})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	res, err := e.Search(context.Background(), core.SearchQuery{
		Text: "deploy release", ChannelID: "chan1", Type: core.SearchHybrid,
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res.Items) != 2 {
		t.Fatalf("got %d items, want 2", len(res.Items))
	}
	if res.Items[0].Message.ID != msgA.ID {
		t.Errorf("high-similarity candidate should rank first, got %q", res.Items[0].Message.Content)
	}

	// Candidates on both legs must appear once with summed weighted scores.
	seen := make(map[string]int)
	for _, it := range res.Items {
		seen[it.Identity()]++
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("identity %s appears %d times", id, n)
		}
	}
	kwA := keywordScore(msgA.CleanContent, ExtractTerms("deploy release"))
	wantTop := 0.6*0.9 + 0.4*kwA
	if math.Abs(res.Items[0].Score-wantTop) > 0.01 {
		t.Errorf("top score = %v, want about %v", res.Items[0].Score, wantTop)
	}
}

func TestHybridKeywordFallbackOnCorruptIndex(t *testing.T) {
	st := openTestStore(t)

	// A regular file where the index root directory belongs makes every
	// channel's vector state unreadable.
	dir := filepath.Join(t.TempDir(), "idx")
	if err := os.WriteFile(dir, []byte("junk"), 0o644); err != nil {
		t.Fatalf("corrupt index state: %v", err)
	}
	ix, err := index.New(index.Config{Dir: dir, Dimensions: 4})
	if err != nil {
		t.Fatalf("new index: %v", err)
	}

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	storeMsg(t, st, "chan1", "deploy release for the api", base)

	e, err := New(Config{}, st, ix, fixedEmbedder{vec: []float32{1, 0, 0, 0}})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	res, err := e.Search(context.Background(), core.SearchQuery{
		Text: "deploy release", ChannelID: "chan1", Type: core.SearchHybrid,
	})
	if err != nil {
		t.Fatalf("corrupted index should not fail the search: %v", err)
	}
	if len(res.Items) != 1 {
		t.Fatalf("got %d keyword items, want 1", len(res.Items))
	}
}

func TestHybridWithoutEmbedder(t *testing.T) {
	st := openTestStore(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	storeMsg(t, st, "chan1", "deploy release for the api", base)

	e, err := New(Config{}, st, nil, nil)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	res, err := e.Search(context.Background(), core.SearchQuery{
		Text: "deploy", ChannelID: "chan1", Type: core.SearchHybrid,
	})
	if err != nil {
		t.Fatalf("search without embedder: %v", err)
	}
	if len(res.Items) != 1 {
		t.Errorf("got %d items, want 1 from keyword leg", len(res.Items))
	}
}

func TestSortItemsTieBreak(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	items := []core.ScoredItem{
		{Message: &core.Message{ID: "old", Timestamp: base}, Score: 0.5},
		{Message: &core.Message{ID: "new", Timestamp: base.Add(time.Hour)}, Score: 0.5},
		{Message: &core.Message{ID: "top", Timestamp: base}, Score: 0.9},
	}
	sortItems(items)
	if items[0].Message.ID != "top" {
		t.Errorf("highest score should rank first, got %s", items[0].Message.ID)
	}
	if items[1].Message.ID != "new" {
		t.Errorf("equal scores should rank the newer item first, got %s", items[1].Message.ID)
	}
}

func TestQueryVectorCached(t *testing.T) {
	st := openTestStore(t)
	ix, err := index.New(index.Config{Dimensions: 4})
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	e, err := New(Config{}, st, ix, fixedEmbedder{vec: []float32{1, 0, 0, 0}})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	ctx := context.Background()
	if _, err := e.queryVector(ctx, "deploy  release"); err != nil {
		t.Fatalf("first embed: %v", err)
	}
	// Whitespace-variant repeats share one cache entry.
	if _, ok := e.queryVecs.Get("deploy release"); !ok {
		t.Error("query vector not cached under collapsed text")
	}
}
