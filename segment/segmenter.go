// Package segment groups the live message stream into conversation
// segments.
//
// The segmenter keeps one active segment per channel. Each incoming
// message either extends the active segment or closes it and starts a new
// one, according to the configured boundary policy. Closing a segment
// computes its representative vector and coherence score, persists the
// segment with its message links in one transaction, and hands the
// representative vector to the vector index.
package segment

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lucidmem/recall/core"
	"github.com/lucidmem/recall/embedder"
	"github.com/lucidmem/recall/index"
	"github.com/lucidmem/recall/store"
)

// Policy selects the boundary decision strategy.
type Policy string

const (
	// PolicyTime closes segments on time gaps only.
	PolicyTime Policy = "time"
	// PolicySemantic closes segments on topic shifts only.
	PolicySemantic Policy = "semantic"
	// PolicyHybrid evaluates time gap, then topic shift, then size cap.
	PolicyHybrid Policy = "hybrid"
	// PolicyAdaptive is hybrid with thresholds scaled by channel activity.
	PolicyAdaptive Policy = "adaptive"
)

// Config configures the segmenter.
type Config struct {
	Policy Policy

	// BaseGap is the starting time threshold between messages. The
	// effective threshold adapts to channel frequency within
	// [MinGap, MaxGap].
	BaseGap time.Duration
	MinGap  time.Duration
	MaxGap  time.Duration

	// SemanticCutoff closes the segment when the new message's similarity
	// to the segment representative falls below it.
	SemanticCutoff float64

	// MaxMessages caps segment size.
	MaxMessages int
}

// DefaultConfig returns the hybrid policy with conversational thresholds.
func DefaultConfig() Config {
	return Config{
		Policy:         PolicyHybrid,
		BaseGap:        5 * time.Minute,
		MinGap:         time.Minute,
		MaxGap:         30 * time.Minute,
		SemanticCutoff: 0.35,
		MaxMessages:    50,
	}
}

// Summarizer generates an optional summary for a finalized segment.
type Summarizer interface {
	Summarize(ctx context.Context, messages []*core.Message) (string, error)
}

// Segmenter consumes the message stream and finalizes segments.
type Segmenter struct {
	cfg   Config
	store *store.Store
	index *index.Index
	embed embedder.Engine // nil when vector features are disabled
	sum   Summarizer      // nil when summaries are disabled

	mu       sync.Mutex
	active   map[string]*activeSegment
	activity map[string]*activityWindow
}

type activeSegment struct {
	messages   []*core.Message
	embeddings [][]float32 // nil entries for messages that failed to embed
	start      time.Time
	last       time.Time
}

// New creates a segmenter. The index and embedder may be nil when the
// selected profile disables vector search.
func New(cfg Config, st *store.Store, ix *index.Index, emb embedder.Engine, sum Summarizer) (*Segmenter, error) {
	if cfg.Policy == "" {
		cfg.Policy = PolicyHybrid
	}
	switch cfg.Policy {
	case PolicyTime, PolicySemantic, PolicyHybrid, PolicyAdaptive:
	default:
		return nil, fmt.Errorf("unknown segmentation policy %q: %w", cfg.Policy, core.ErrConfiguration)
	}
	if cfg.BaseGap <= 0 {
		cfg.BaseGap = 5 * time.Minute
	}
	if cfg.MinGap <= 0 {
		cfg.MinGap = time.Minute
	}
	if cfg.MaxGap < cfg.MinGap {
		cfg.MaxGap = cfg.MinGap
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = 50
	}
	return &Segmenter{
		cfg:      cfg,
		store:    st,
		index:    ix,
		embed:    emb,
		sum:      sum,
		active:   make(map[string]*activeSegment),
		activity: make(map[string]*activityWindow),
	}, nil
}

// ProcessMessage ingests one already-stored message. The return value is
// non-nil only when this message closed the previous segment; the new
// message then opens the next one.
func (s *Segmenter) ProcessMessage(ctx context.Context, msg *core.Message) (*core.ConversationSegment, error) {
	vec := s.embedMessage(ctx, msg)

	s.mu.Lock()
	defer s.mu.Unlock()

	aw := s.activity[msg.ChannelID]
	if aw == nil {
		aw = newActivityWindow(time.Hour)
		s.activity[msg.ChannelID] = aw
	}

	active := s.active[msg.ChannelID]
	if active == nil {
		s.open(msg, vec)
		aw.Observe(msg)
		return nil, nil
	}

	boundary := s.isBoundary(active, msg, vec, aw)
	aw.Observe(msg)
	if !boundary {
		active.messages = append(active.messages, msg)
		active.embeddings = append(active.embeddings, vec)
		active.last = msg.Timestamp
		return nil, nil
	}

	closed, err := s.close(ctx, msg.ChannelID, active)
	if err != nil {
		return nil, err
	}
	s.open(msg, vec)
	return closed, nil
}

// Flush closes a channel's active segment, if any. Used on shutdown and
// by administrative finalize commands.
func (s *Segmenter) Flush(ctx context.Context, channelID string) (*core.ConversationSegment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := s.active[channelID]
	if active == nil {
		return nil, nil
	}
	closed, err := s.close(ctx, channelID, active)
	if err != nil {
		return nil, err
	}
	delete(s.active, channelID)
	return closed, nil
}

// FlushAll closes every channel's active segment. Used on shutdown.
func (s *Segmenter) FlushAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for channelID, active := range s.active {
		if _, err := s.close(ctx, channelID, active); err != nil {
			return fmt.Errorf("flush channel %s: %w", channelID, err)
		}
		delete(s.active, channelID)
	}
	return nil
}

func (s *Segmenter) open(msg *core.Message, vec []float32) {
	s.active[msg.ChannelID] = &activeSegment{
		messages:   []*core.Message{msg},
		embeddings: [][]float32{vec},
		start:      msg.Timestamp,
		last:       msg.Timestamp,
	}
}

// isBoundary evaluates the configured policy. Under hybrid, the checks
// run in priority order: time gap, then topic shift, then size cap.
func (s *Segmenter) isBoundary(active *activeSegment, msg *core.Message, vec []float32, aw *activityWindow) bool {
	timeScale, semanticScale := 1.0, 1.0
	if s.cfg.Policy == PolicyAdaptive {
		timeScale, semanticScale = aw.Scales()
	}

	checkTime := s.cfg.Policy == PolicyTime || s.cfg.Policy == PolicyHybrid || s.cfg.Policy == PolicyAdaptive
	checkSemantic := s.cfg.Policy == PolicySemantic || s.cfg.Policy == PolicyHybrid || s.cfg.Policy == PolicyAdaptive
	checkSize := s.cfg.Policy != PolicyTime && s.cfg.Policy != PolicySemantic

	if checkTime {
		gap := msg.Timestamp.Sub(active.last)
		if gap > s.dynamicGap(aw, timeScale) {
			return true
		}
	}

	if checkSemantic && vec != nil {
		rep := core.MeanVector(nonNil(active.embeddings))
		if rep != nil {
			cutoff := s.cfg.SemanticCutoff * semanticScale
			if core.CosineSimilarity(vec, rep) < cutoff {
				return true
			}
		}
	}

	if checkSize && len(active.messages) >= s.cfg.MaxMessages {
		return true
	}

	return false
}

// dynamicGap derives the effective time threshold from recent channel
// cadence: busy channels get a shorter threshold, idle ones a longer one,
// clamped to [MinGap, MaxGap].
func (s *Segmenter) dynamicGap(aw *activityWindow, scale float64) time.Duration {
	gap := s.cfg.BaseGap
	if avg := aw.AverageGap(); avg > 0 {
		gap = 3 * avg
	}
	gap = time.Duration(float64(gap) * scale)
	if gap < s.cfg.MinGap {
		gap = s.cfg.MinGap
	}
	if gap > s.cfg.MaxGap {
		gap = s.cfg.MaxGap
	}
	return gap
}

// close finalizes the active segment: representative vector, coherence,
// one transactional persist, then the index insert.
func (s *Segmenter) close(ctx context.Context, channelID string, active *activeSegment) (*core.ConversationSegment, error) {
	embeddings := nonNil(active.embeddings)
	rep := core.MeanVector(embeddings)

	seg := &core.ConversationSegment{
		ChannelID:      channelID,
		StartTime:      active.start,
		EndTime:        active.last,
		MessageCount:   len(active.messages),
		Representative: rep,
		Coherence:      coherence(embeddings, rep),
	}

	links := make([]core.SegmentLink, len(active.messages))
	for i, msg := range active.messages {
		links[i] = core.SegmentLink{MessageID: msg.ID, Position: i}
	}

	if _, err := s.store.CreateSegment(ctx, seg, links); err != nil {
		return nil, err
	}

	if s.index != nil && rep != nil {
		if err := s.index.Insert(ctx, channelID, seg.ID, rep, seg.EndTime); err != nil {
			// Index loss degrades that channel's semantic search; the
			// durable segment itself is already committed.
			log.Printf("[SEGMENT] Index insert for segment %s failed: %v", seg.ID, err)
		}
	}

	log.Printf("[SEGMENT] Closed segment %s: channel=%s messages=%d coherence=%.2f",
		seg.ID, channelID, seg.MessageCount, seg.Coherence)

	if s.sum != nil {
		go s.summarize(seg.ID, active.messages)
	}
	return seg, nil
}

// summarize runs off the ingestion path; a summary is an enrichment, never
// a dependency.
func (s *Segmenter) summarize(segmentID string, messages []*core.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	text, err := s.sum.Summarize(ctx, messages)
	if err != nil {
		log.Printf("[SEGMENT] Summary for %s failed: %v", segmentID, err)
		return
	}
	if text == "" {
		return
	}
	if err := s.store.AttachSummary(ctx, segmentID, text); err != nil {
		log.Printf("[SEGMENT] Attach summary for %s failed: %v", segmentID, err)
	}
}

func (s *Segmenter) embedMessage(ctx context.Context, msg *core.Message) []float32 {
	if s.embed == nil {
		return nil
	}
	text := msg.CleanContent
	if text == "" {
		text = core.CollapseWhitespace(msg.Content)
	}
	if text == "" {
		return nil
	}
	vec, err := s.embed.Embed(ctx, text)
	if err != nil {
		// Embedding loss must not stall ingestion; the message still
		// joins its segment and keyword search still covers it.
		log.Printf("[SEGMENT] Embed failed for message %s: %v", msg.ID, err)
		return nil
	}
	return vec
}

// coherence is the mean similarity of each member embedding to the
// representative vector. A single-member segment is perfectly coherent.
func coherence(embeddings [][]float32, rep []float32) float64 {
	if len(embeddings) == 0 || rep == nil {
		return 0
	}
	if len(embeddings) == 1 {
		return 1.0
	}
	var sum float64
	for _, e := range embeddings {
		sum += core.CosineSimilarity(e, rep)
	}
	c := sum / float64(len(embeddings))
	if c < 0 {
		c = 0
	}
	if c > 1 {
		c = 1
	}
	return c
}

func nonNil(vecs [][]float32) [][]float32 {
	out := make([][]float32, 0, len(vecs))
	for _, v := range vecs {
		if v != nil {
			out = append(out, v)
		}
	}
	return out
}
