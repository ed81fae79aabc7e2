// Package search dispatches semantic, keyword, temporal, and hybrid
// retrieval against the persistence store and the vector index.
package search

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/lucidmem/recall/core"
	"github.com/lucidmem/recall/embedder"
	"github.com/lucidmem/recall/index"
	"github.com/lucidmem/recall/store"
)

// Config tunes dispatch and hybrid merging.
type Config struct {
	// SemanticWeight and KeywordWeight scale the two hybrid legs before
	// merging. Defaults: 0.6 and 0.4.
	SemanticWeight float64
	KeywordWeight  float64

	// DefaultLimit applies when a query carries no limit. Default: 10.
	DefaultLimit int

	// SemanticTimeout bounds the semantic leg of a hybrid search. A slow
	// model never delays the keyword results past this. Default: 2s.
	SemanticTimeout time.Duration

	// QueryCacheSize is the capacity of the query embedding cache.
	// Default: 256.
	QueryCacheSize int
}

// Engine executes search queries. The embedder may be nil when the
// selected profile disables vector search; semantic and hybrid queries
// then degrade to keyword results.
type Engine struct {
	cfg   Config
	store *store.Store
	index *index.Index
	embed embedder.Engine

	queryVecs *lru.Cache[string, []float32]
}

// New creates a search engine.
func New(cfg Config, st *store.Store, ix *index.Index, emb embedder.Engine) (*Engine, error) {
	if cfg.SemanticWeight <= 0 {
		cfg.SemanticWeight = 0.6
	}
	if cfg.KeywordWeight <= 0 {
		cfg.KeywordWeight = 0.4
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 10
	}
	if cfg.SemanticTimeout <= 0 {
		cfg.SemanticTimeout = 2 * time.Second
	}
	if cfg.QueryCacheSize <= 0 {
		cfg.QueryCacheSize = 256
	}

	vecs, err := lru.New[string, []float32](cfg.QueryCacheSize)
	if err != nil {
		return nil, fmt.Errorf("query embedding cache: %w", err)
	}
	return &Engine{cfg: cfg, store: st, index: ix, embed: emb, queryVecs: vecs}, nil
}

// Search runs one query and returns its ranked result. Hybrid is the
// default strategy when the query names none.
func (e *Engine) Search(ctx context.Context, q core.SearchQuery) (*core.SearchResult, error) {
	if q.Type == "" {
		q.Type = core.SearchHybrid
	}
	if q.Limit <= 0 {
		q.Limit = e.cfg.DefaultLimit
	}

	start := time.Now()
	var (
		items []core.ScoredItem
		err   error
	)
	switch q.Type {
	case core.SearchSemantic:
		items, err = e.semantic(ctx, q)
	case core.SearchKeyword:
		items, err = e.keyword(ctx, q)
	case core.SearchTemporal:
		items, err = e.temporal(ctx, q)
	case core.SearchHybrid:
		items, err = e.hybrid(ctx, q)
	default:
		return nil, fmt.Errorf("unknown search type %q: %w", q.Type, core.ErrConfiguration)
	}
	if err != nil {
		return nil, err
	}

	total := len(items)
	if len(items) > q.Limit {
		items = items[:q.Limit]
	}
	return &core.SearchResult{
		Items:      items,
		TotalFound: total,
		Elapsed:    time.Since(start),
		Strategy:   q.Type,
	}, nil
}

// semantic embeds the query, searches the channel's vector index, and
// hydrates the member messages of every hit segment. Members carry their
// segment's similarity as the base score.
func (e *Engine) semantic(ctx context.Context, q core.SearchQuery) ([]core.ScoredItem, error) {
	if e.embed == nil {
		return nil, fmt.Errorf("vector search disabled by profile: %w", core.ErrConfiguration)
	}

	vec, err := e.queryVector(ctx, q.Text)
	if err != nil {
		return nil, err
	}

	hits, err := e.index.Search(ctx, q.ChannelID, vec, q.Limit)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("semantic search: %w", core.ErrSearchTimeout)
		}
		return nil, err
	}

	var items []core.ScoredItem
	seen := make(map[string]bool)
	for _, hit := range hits {
		if hit.Similarity < q.Threshold {
			continue
		}
		members, err := e.store.SegmentMessages(ctx, hit.SegmentID)
		if err != nil {
			return nil, fmt.Errorf("hydrate segment %s: %w", hit.SegmentID, err)
		}
		for _, m := range members {
			if !inRange(m.Timestamp, q.After, q.Before) || seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			items = append(items, core.ScoredItem{Message: m, Score: hit.Similarity})
		}
	}
	return items, nil
}

// keyword extracts terms from the query text, scans stored content, and
// scores candidates by term coverage and occurrence frequency.
func (e *Engine) keyword(ctx context.Context, q core.SearchQuery) ([]core.ScoredItem, error) {
	terms := ExtractTerms(q.Text)
	if len(terms) == 0 {
		return nil, nil
	}

	// Pull more candidates than the limit so scoring, not store order,
	// decides the top of the list.
	candidates, err := e.store.ScanForTerms(ctx, q.ChannelID, terms, q.Limit*10)
	if err != nil {
		return nil, err
	}

	var items []core.ScoredItem
	for _, m := range candidates {
		if !inRange(m.Timestamp, q.After, q.Before) {
			continue
		}
		score := keywordScore(m.CleanContent, terms)
		if score < q.Threshold || score == 0 {
			continue
		}
		items = append(items, core.ScoredItem{Message: m, Score: score})
	}
	sortItems(items)
	return items, nil
}

// temporal filters by the query's time range only, newest first. Scores
// encode recency rank so downstream boosts keep the ordering meaningful.
func (e *Engine) temporal(ctx context.Context, q core.SearchQuery) ([]core.ScoredItem, error) {
	messages, err := e.store.RecentMessages(ctx, q.ChannelID, q.After, q.Before, q.Limit)
	if err != nil {
		return nil, err
	}
	items := make([]core.ScoredItem, 0, len(messages))
	for i, m := range messages {
		items = append(items, core.ScoredItem{
			Message: m,
			Score:   float64(len(messages)-i) / float64(len(messages)),
		})
	}
	return items, nil
}

// hybrid runs the semantic and keyword legs concurrently and merges them.
// Candidates on both lists sum their weighted scores; singletons keep
// their own weighted score. A failed or timed-out semantic leg downgrades
// the result to keyword-only instead of failing the query.
func (e *Engine) hybrid(ctx context.Context, q core.SearchQuery) ([]core.ScoredItem, error) {
	type legResult struct {
		items []core.ScoredItem
		err   error
	}

	semCh := make(chan legResult, 1)
	kwCh := make(chan legResult, 1)

	semCtx, cancel := context.WithTimeout(ctx, e.cfg.SemanticTimeout)
	defer cancel()
	go func() {
		if e.embed == nil || e.index == nil {
			semCh <- legResult{}
			return
		}
		items, err := e.semantic(semCtx, q)
		semCh <- legResult{items, err}
	}()
	go func() {
		items, err := e.keyword(ctx, q)
		kwCh <- legResult{items, err}
	}()

	sem, kw := <-semCh, <-kwCh
	if sem.err != nil {
		if kw.err != nil {
			return nil, fmt.Errorf("both hybrid legs failed: %v: %w", kw.err, sem.err)
		}
		log.Printf("[SEARCH] Semantic leg failed for channel %s, returning keyword results: %v", q.ChannelID, sem.err)
		sem.items = nil
	}
	if kw.err != nil {
		log.Printf("[SEARCH] Keyword leg failed for channel %s, returning semantic results: %v", q.ChannelID, kw.err)
		kw.items = nil
	}

	merged := make(map[string]core.ScoredItem)
	for _, it := range sem.items {
		it.Score *= e.cfg.SemanticWeight
		merged[it.Identity()] = it
	}
	for _, it := range kw.items {
		id := it.Identity()
		if prev, ok := merged[id]; ok {
			prev.Score += it.Score * e.cfg.KeywordWeight
			merged[id] = prev
			continue
		}
		it.Score *= e.cfg.KeywordWeight
		merged[id] = it
	}

	items := make([]core.ScoredItem, 0, len(merged))
	for _, it := range merged {
		if it.Score >= q.Threshold {
			items = append(items, it)
		}
	}
	sortItems(items)
	return items, nil
}

// queryVector embeds the query text, serving repeats from a small LRU so
// bursts of identical queries hit the model once.
func (e *Engine) queryVector(ctx context.Context, text string) ([]float32, error) {
	key := core.CollapseWhitespace(text)
	if vec, ok := e.queryVecs.Get(key); ok {
		return vec, nil
	}
	vec, err := e.embed.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	e.queryVecs.Add(key, vec)
	return vec, nil
}

// sortItems orders by score descending. Exact ties rank the most recent
// item first, then fall back to identity so the order is total.
func sortItems(items []core.ScoredItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		ti, tj := items[i].Timestamp(), items[j].Timestamp()
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return items[i].Identity() < items[j].Identity()
	})
}

func inRange(ts, after, before time.Time) bool {
	if !after.IsZero() && ts.Before(after) {
		return false
	}
	if !before.IsZero() && ts.After(before) {
		return false
	}
	return true
}
