// Package engine wires the memory subsystem together: ingestion through
// segmentation on the write path, cache, search, rerank, and relevance
// boosts on the read path.
package engine

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/robfig/cron/v3"

	"github.com/lucidmem/recall/cache"
	"github.com/lucidmem/recall/config"
	"github.com/lucidmem/recall/core"
	"github.com/lucidmem/recall/embedder"
	"github.com/lucidmem/recall/embedder/onnx"
	"github.com/lucidmem/recall/enhance"
	"github.com/lucidmem/recall/index"
	"github.com/lucidmem/recall/profile"
	"github.com/lucidmem/recall/rerank"
	"github.com/lucidmem/recall/search"
	"github.com/lucidmem/recall/segment"
	"github.com/lucidmem/recall/store"
	"github.com/lucidmem/recall/summary"
)

// participantWindow bounds how long an author counts as active.
const participantWindow = time.Hour

// Engine is the subsystem facade. One instance serves all channels.
type Engine struct {
	prof profile.Profile

	store     *store.Store
	index     *index.Index       // nil when the profile disables vector search
	registry  *embedder.Registry // nil when the profile disables vector search
	embed     embedder.Engine    // nil when the profile disables vector search
	segmenter *segment.Segmenter
	reranker  *rerank.Reranker // nil unless configured
	cache     *cache.ResultCache
	cron      *cron.Cron

	// reloadMu guards the parts Reload swaps.
	reloadMu sync.RWMutex
	cfg      *config.Config
	searcher *search.Engine
	enhancer *enhance.Enhancer

	queryCount atomic.Int64
	queryNanos atomic.Int64

	participantsMu sync.Mutex
	participants   map[string]map[string]time.Time // channel -> author -> last seen
}

// Option configures the engine.
type Option func(*options)

type options struct {
	embed      embedder.Engine
	summarizer segment.Summarizer
	reranker   *rerank.Reranker
}

// WithEmbedder overrides the profile-selected embedding engine. Tests use
// this to avoid loading ONNX models.
func WithEmbedder(e embedder.Engine) Option {
	return func(o *options) { o.embed = e }
}

// WithSummarizer sets the segment summarizer, overriding the
// configuration-built one.
func WithSummarizer(s segment.Summarizer) Option {
	return func(o *options) { o.summarizer = s }
}

// WithReranker sets the cross-encoder reranker, overriding the
// configuration-built one.
func WithReranker(r *rerank.Reranker) Option {
	return func(o *options) { o.reranker = r }
}

// New builds the subsystem from one configuration snapshot.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	prof, err := selectProfile(cfg.Profile)
	if err != nil {
		return nil, err
	}
	log.Printf("[ENGINE] Using profile %q (vector search: %v)", prof.Name, prof.VectorSearch)

	st, err := store.Open(store.Config{Path: filepath.Join(cfg.DataDir, "recall.db")})
	if err != nil {
		return nil, err
	}

	e := &Engine{
		prof:         prof,
		store:        st,
		cfg:          cfg,
		participants: make(map[string]map[string]time.Time),
	}

	if prof.VectorSearch {
		e.registry = embedderRegistry(cfg, prof)
		if o.embed != nil {
			e.registry.Register(prof.EmbeddingModel, o.embed)
		}
		if emb, err := e.registry.Engine(prof.EmbeddingModel); err != nil {
			// Reached only with an empty primary model, which VectorSearch
			// profiles never carry.
			log.Printf("[ENGINE] Embedding engine unavailable: %v", err)
		} else {
			e.embed = emb
		}
		if e.embed != nil {
			e.index, err = index.New(index.Config{
				Dir:        filepath.Join(cfg.DataDir, "index"),
				Dimensions: e.embed.Dimensions(),
			})
			if err != nil {
				st.Close()
				return nil, err
			}
		}
	}

	summarizer := o.summarizer
	if summarizer == nil && cfg.Summary.Enabled {
		client := anthropic.NewClient()
		summarizer = summary.New(&client, summary.Config{
			Model:     cfg.Summary.Model,
			MaxTokens: cfg.Summary.MaxTokens,
		})
	}

	e.segmenter, err = segment.New(segmentConfig(cfg), st, e.index, e.embed, summarizer)
	if err != nil {
		st.Close()
		return nil, err
	}

	e.searcher, err = search.New(searchConfig(cfg), st, e.index, e.embed)
	if err != nil {
		st.Close()
		return nil, err
	}

	e.reranker = o.reranker
	if e.reranker == nil && cfg.Rerank.Enabled {
		e.reranker, err = rerank.New(rerank.Config{
			ModelID:           cfg.Rerank.ModelID,
			ModelPath:         cfg.Rerank.ModelPath,
			TokenizerPath:     cfg.Rerank.TokenizerPath,
			SharedLibraryPath: cfg.Embedding.SharedLibraryPath,
		})
		if err != nil {
			st.Close()
			return nil, err
		}
	}

	e.cache, err = cache.New(cache.Config{
		MaxEntries: cfg.Cache.MaxEntries,
		DefaultTTL: cfg.Cache.TTL.Std(),
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	e.enhancer = enhance.New(enhance.Config{})

	if cfg.Retention.Days > 0 {
		e.cron = cron.New()
		if _, err := e.cron.AddFunc(cfg.Retention.Schedule, e.retentionSweep); err != nil {
			e.cache.Close()
			st.Close()
			return nil, fmt.Errorf("invalid retention schedule %q: %w", cfg.Retention.Schedule, core.ErrConfiguration)
		}
		e.cron.Start()
	}

	return e, nil
}

func selectProfile(name string) (profile.Profile, error) {
	if name == "" || name == "auto" {
		return profile.Detect(), nil
	}
	return profile.ByName(name)
}

// embedderRegistry builds the process-wide registry mapping model IDs to
// ONNX engines. Every component resolves its engine through the registry
// handle, so one model is resident at most once. Model directories follow
// the <model_dir>/<model_id>/{model.onnx,tokenizer.json} layout.
func embedderRegistry(cfg *config.Config, prof profile.Profile) *embedder.Registry {
	model := func(id string) onnx.ModelConfig {
		if id == "" {
			return onnx.ModelConfig{}
		}
		dir := filepath.Join(cfg.Embedding.ModelDir, id)
		return onnx.ModelConfig{
			ID:            id,
			ModelPath:     filepath.Join(dir, "model.onnx"),
			TokenizerPath: filepath.Join(dir, "tokenizer.json"),
		}
	}

	return embedder.NewRegistry(func(modelID string) (embedder.Engine, error) {
		eng, err := onnx.New(onnx.Config{
			Primary:           model(modelID),
			Fallback:          model(prof.FallbackModel),
			Dimensions:        prof.Dimensions,
			BatchSize:         prof.BatchSize,
			SharedLibraryPath: cfg.Embedding.SharedLibraryPath,
		})
		if err != nil {
			return nil, err
		}
		return eng, nil
	})
}

func segmentConfig(cfg *config.Config) segment.Config {
	return segment.Config{
		Policy:         segment.Policy(cfg.Segmentation.Policy),
		BaseGap:        cfg.Segmentation.BaseGap.Std(),
		MinGap:         cfg.Segmentation.MinGap.Std(),
		MaxGap:         cfg.Segmentation.MaxGap.Std(),
		SemanticCutoff: cfg.Segmentation.SemanticCutoff,
		MaxMessages:    cfg.Segmentation.MaxMessages,
	}
}

func searchConfig(cfg *config.Config) search.Config {
	return search.Config{
		SemanticWeight:  cfg.Search.SemanticWeight,
		KeywordWeight:   cfg.Search.KeywordWeight,
		DefaultLimit:    cfg.Search.DefaultLimit,
		SemanticTimeout: cfg.Search.SemanticTimeout.Std(),
	}
}

// StoreMessage ingests one message: persist, then hand it to the
// segmenter. Ingestion never waits on in-flight searches.
func (e *Engine) StoreMessage(ctx context.Context, msg *core.Message) error {
	if msg.ChannelID == "" {
		return fmt.Errorf("message has no channel: %w", core.ErrConfiguration)
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	if _, err := e.store.StoreMessage(ctx, msg); err != nil {
		return err
	}
	e.observeParticipant(msg)

	closed, err := e.segmenter.ProcessMessage(ctx, msg)
	if err != nil {
		return err
	}
	if closed != nil {
		log.Printf("[ENGINE] Closed segment %s on channel %s (%d messages, coherence %.2f)",
			closed.ID, closed.ChannelID, closed.MessageCount, closed.Coherence)
	}
	return nil
}

// SearchMemory answers one query through the full read path: cache,
// search, optional rerank, relevance boosts, cache store.
func (e *Engine) SearchMemory(ctx context.Context, q core.SearchQuery) (*core.SearchResult, error) {
	e.reloadMu.RLock()
	cfg, searcher, enhancer := e.cfg, e.searcher, e.enhancer
	e.reloadMu.RUnlock()

	key := q.Fingerprint()
	if res, ok := e.cache.Get(key); ok {
		return res, nil
	}

	start := time.Now()
	res, err := searcher.Search(ctx, q)
	if err != nil {
		return nil, err
	}

	if e.reranker != nil && len(res.Items) > 1 && q.Type != core.SearchTemporal {
		ranked, err := e.reranker.Rerank(ctx, q.Text, res.Items, len(res.Items))
		if err != nil {
			// Reranking is an optional refinement; the base ordering
			// still stands.
			log.Printf("[ENGINE] Rerank failed, keeping search order: %v", err)
		} else {
			res.Items = ranked
		}
	}

	res.Items = enhancer.Enhance(res.Items, e.activeParticipants(q.ChannelID))
	res.Elapsed = time.Since(start)

	e.queryCount.Add(1)
	e.queryNanos.Add(res.Elapsed.Nanoseconds())
	e.cache.Set(key, res, cfg.Cache.TTL.Std())
	return res, nil
}

// FinalizeChannel closes the channel's active segment without waiting for
// a boundary. Platform adapters call this when a conversation visibly
// ends.
func (e *Engine) FinalizeChannel(ctx context.Context, channelID string) (*core.ConversationSegment, error) {
	return e.segmenter.Flush(ctx, channelID)
}

// Stats is a point-in-time operational snapshot.
type Stats struct {
	Profile        string
	TotalSegments  int64
	AvgQueryTimeMs float64
	CacheHitRate   float64
}

// Stats reports segment totals and read-path health.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	total, err := e.store.CountSegments(ctx)
	if err != nil {
		return Stats{}, err
	}

	s := Stats{
		Profile:       e.prof.Name,
		TotalSegments: total,
		CacheHitRate:  e.cache.HitRate(),
	}
	if n := e.queryCount.Load(); n > 0 {
		s.AvgQueryTimeMs = float64(e.queryNanos.Load()) / float64(n) / 1e6
	}
	return s, nil
}

// Reload swaps the tunable read-path components for a new configuration
// snapshot. Storage, the vector index, and the embedding engine keep
// running; changing those requires a restart.
func (e *Engine) Reload(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	searcher, err := search.New(searchConfig(cfg), e.store, e.index, e.embed)
	if err != nil {
		return err
	}

	e.reloadMu.Lock()
	e.cfg = cfg
	e.searcher = searcher
	e.enhancer = enhance.New(enhance.Config{})
	e.reloadMu.Unlock()

	log.Printf("[ENGINE] Configuration reloaded")
	return nil
}

// Close flushes active segments and releases every component.
func (e *Engine) Close() error {
	if e.cron != nil {
		e.cron.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.segmenter.FlushAll(ctx); err != nil {
		log.Printf("[ENGINE] Flush on close failed: %v", err)
	}

	e.cache.Close()
	if e.reranker != nil {
		if err := e.reranker.Close(); err != nil {
			log.Printf("[ENGINE] Reranker close failed: %v", err)
		}
	}
	if closer, ok := e.embed.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			log.Printf("[ENGINE] Embedder close failed: %v", err)
		}
	}
	return e.store.Close()
}

// retentionSweep purges segments past the retention horizon and logs
// cache health. Messages are kept; only derived segment state ages out.
func (e *Engine) retentionSweep() {
	e.reloadMu.RLock()
	days := e.cfg.Retention.Days
	e.reloadMu.RUnlock()
	if days <= 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	purged, err := e.store.PurgeBefore(ctx, cutoff)
	if err != nil {
		log.Printf("[ENGINE] Retention sweep failed: %v", err)
		return
	}
	log.Printf("[ENGINE] Retention sweep purged %d segments older than %s; cache hit rate %.2f",
		purged, cutoff.Format(time.RFC3339), e.cache.HitRate())
}

func (e *Engine) observeParticipant(msg *core.Message) {
	e.participantsMu.Lock()
	defer e.participantsMu.Unlock()

	authors := e.participants[msg.ChannelID]
	if authors == nil {
		authors = make(map[string]time.Time)
		e.participants[msg.ChannelID] = authors
	}
	authors[msg.AuthorID] = msg.Timestamp
}

// activeParticipants lists authors seen on the channel within the
// participant window.
func (e *Engine) activeParticipants(channelID string) []string {
	e.participantsMu.Lock()
	defer e.participantsMu.Unlock()

	authors := e.participants[channelID]
	if len(authors) == 0 {
		return nil
	}

	cutoff := time.Now().Add(-participantWindow)
	active := make([]string, 0, len(authors))
	for author, last := range authors {
		if last.Before(cutoff) {
			delete(authors, author)
			continue
		}
		active = append(active, author)
	}
	return active
}
