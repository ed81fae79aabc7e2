// Package rerank re-orders a small candidate set with an ONNX
// cross-encoder. The cross-encoder attends jointly over query and
// candidate text, which is strictly slower than bi-encoder search, so it
// only ever re-ranks results and never builds the index.
package rerank

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/lucidmem/recall/core"
	"github.com/lucidmem/recall/embedder/onnx"
)

// pairSeqLen is the token window for one (query, candidate) pair.
const pairSeqLen = 256

// Config configures the reranker.
type Config struct {
	// ModelID names the cross-encoder (e.g. "ms-marco-MiniLM-L-6-v2").
	ModelID string

	// ModelPath is the path to the .onnx file.
	ModelPath string

	// TokenizerPath is the path to the tokenizer.json file.
	TokenizerPath string

	// BatchSize bounds pairs per inference call. Default: 16.
	BatchSize int

	// SharedLibraryPath points at libonnxruntime. Empty uses the
	// onnxruntime default lookup.
	SharedLibraryPath string
}

// Reranker scores (query, candidate) pairs with a cross-encoder session.
// The model loads lazily and exclusively on first use.
type Reranker struct {
	cfg Config

	loadMu  sync.Mutex
	loaded  bool
	loadErr error

	session   *ort.DynamicAdvancedSession
	tokenizer *onnx.Tokenizer
}

// New creates a reranker. No model is touched until the first call.
func New(cfg Config) (*Reranker, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("reranker model path is required: %w", core.ErrConfiguration)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	return &Reranker{cfg: cfg}, nil
}

// Rerank re-orders candidates by cross-encoder relevance and returns the
// top K. The output is always a permutation of a prefix: no candidate is
// invented or duplicated, and len(output) = min(topK, len(candidates)).
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []core.ScoredItem, topK int) ([]core.ScoredItem, error) {
	if len(candidates) == 0 || topK <= 0 {
		return nil, nil
	}
	if err := r.ensureLoaded(); err != nil {
		return nil, err
	}

	ranked := make([]core.ScoredItem, len(candidates))
	copy(ranked, candidates)

	for start := 0; start < len(ranked); start += r.cfg.BatchSize {
		end := start + r.cfg.BatchSize
		if end > len(ranked) {
			end = len(ranked)
		}
		scores, err := r.run(ctx, query, ranked[start:end])
		if err != nil {
			return nil, err
		}
		for i, s := range scores {
			ranked[start+i].Score = s
		}
	}

	return top(ranked, topK), nil
}

// top sorts by score descending (ties rank the newer item first) and
// truncates to at most k items.
func top(ranked []core.ScoredItem, k int) []core.ScoredItem {
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Timestamp().After(ranked[j].Timestamp())
	})
	if k > len(ranked) {
		k = len(ranked)
	}
	return ranked[:k]
}

func (r *Reranker) ensureLoaded() error {
	r.loadMu.Lock()
	defer r.loadMu.Unlock()

	if r.loaded {
		return r.loadErr
	}
	r.loaded = true

	if r.cfg.SharedLibraryPath != "" {
		ort.SetSharedLibraryPath(r.cfg.SharedLibraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			r.loadErr = fmt.Errorf("initialize onnx runtime: %v: %w", err, core.ErrModelLoad)
			return r.loadErr
		}
	}

	tokenizer, err := onnx.LoadTokenizer(r.cfg.TokenizerPath)
	if err != nil {
		r.loadErr = fmt.Errorf("load reranker tokenizer: %v: %w", err, core.ErrModelLoad)
		return r.loadErr
	}

	session, err := ort.NewDynamicAdvancedSession(r.cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"logits"},
		nil,
	)
	if err != nil {
		r.loadErr = fmt.Errorf("load reranker %q: %v: %w", r.cfg.ModelID, err, core.ErrModelLoad)
		return r.loadErr
	}

	r.tokenizer = tokenizer
	r.session = session
	return nil
}

// run scores one batch of (query, candidate) pairs.
func (r *Reranker) run(ctx context.Context, query string, candidates []core.ScoredItem) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	batch := len(candidates)
	inputIDs := make([]int64, batch*pairSeqLen)
	attentionMask := make([]int64, batch*pairSeqLen)
	tokenTypeIDs := make([]int64, batch*pairSeqLen)

	queryTokens := r.tokenizer.Tokenize(query)
	for i, cand := range candidates {
		encodePair(r.tokenizer, queryTokens, candidateText(cand),
			inputIDs[i*pairSeqLen:(i+1)*pairSeqLen],
			attentionMask[i*pairSeqLen:(i+1)*pairSeqLen],
			tokenTypeIDs[i*pairSeqLen:(i+1)*pairSeqLen])
	}

	shape := ort.NewShape(int64(batch), int64(pairSeqLen))
	inputTensor, err := ort.NewTensor(shape, inputIDs)
	if err != nil {
		return nil, fmt.Errorf("create input_ids tensor: %w", err)
	}
	defer inputTensor.Destroy()

	maskTensor, err := ort.NewTensor(shape, attentionMask)
	if err != nil {
		return nil, fmt.Errorf("create attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()

	typeTensor, err := ort.NewTensor(shape, tokenTypeIDs)
	if err != nil {
		return nil, fmt.Errorf("create token_type_ids tensor: %w", err)
	}
	defer typeTensor.Destroy()

	outputs := []ort.Value{nil}
	if err := r.session.Run([]ort.Value{inputTensor, maskTensor, typeTensor}, outputs); err != nil {
		return nil, fmt.Errorf("reranker inference: %w", err)
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	logits, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected logits tensor type")
	}
	return scoresFromLogits(logits.GetData(), logits.GetShape())
}

// encodePair lays out one [CLS] query [SEP] candidate [SEP] input.
// Query tokens carry segment type 0, candidate tokens type 1. Overlong
// candidates are truncated; the query is preserved whole up to half the
// window.
func encodePair(tok *onnx.Tokenizer, queryTokens []int64, candidate string, inputIDs, attentionMask, tokenTypeIDs []int64) {
	if len(queryTokens) > pairSeqLen/2-2 {
		queryTokens = queryTokens[:pairSeqLen/2-2]
	}
	candTokens := tok.Tokenize(candidate)
	maxCand := pairSeqLen - len(queryTokens) - 3
	if len(candTokens) > maxCand {
		candTokens = candTokens[:maxCand]
	}

	pos := 0
	put := func(id, typ int64) {
		inputIDs[pos] = id
		attentionMask[pos] = 1
		tokenTypeIDs[pos] = typ
		pos++
	}
	put(tok.CLS(), 0)
	for _, t := range queryTokens {
		put(t, 0)
	}
	put(tok.SEP(), 0)
	for _, t := range candTokens {
		put(t, 1)
	}
	put(tok.SEP(), 1)
}

// scoresFromLogits derives a relevance probability per pair. Two-class
// heads use the softmax probability of the relevant class, computed in
// log space for stability; single-logit heads use a sigmoid.
func scoresFromLogits(data []float32, shape []int64) ([]float64, error) {
	if len(shape) != 2 {
		return nil, fmt.Errorf("unexpected logits shape: %v", shape)
	}
	batch, classes := int(shape[0]), int(shape[1])

	scores := make([]float64, batch)
	switch classes {
	case 1:
		for i := 0; i < batch; i++ {
			scores[i] = sigmoid(float64(data[i]))
		}
	case 2:
		for i := 0; i < batch; i++ {
			notRelevant := float64(data[i*2])
			relevant := float64(data[i*2+1])
			// log softmax: p(relevant) = sigmoid(l1 - l0)
			scores[i] = sigmoid(relevant - notRelevant)
		}
	default:
		return nil, fmt.Errorf("reranker produced %d classes, want 1 or 2", classes)
	}
	return scores, nil
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// candidateText picks the text fed to the cross-encoder for one item.
func candidateText(item core.ScoredItem) string {
	switch {
	case item.Message != nil:
		if item.Message.CleanContent != "" {
			return item.Message.CleanContent
		}
		return item.Message.Content
	case item.Segment != nil:
		return item.Segment.Summary
	default:
		return ""
	}
}

// Close releases the ONNX session.
func (r *Reranker) Close() error {
	if r.session != nil {
		return r.session.Destroy()
	}
	return nil
}
