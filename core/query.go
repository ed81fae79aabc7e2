package core

import (
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
)

// SearchType selects the retrieval strategy for a query.
type SearchType string

const (
	SearchSemantic SearchType = "semantic"
	SearchKeyword  SearchType = "keyword"
	SearchTemporal SearchType = "temporal"
	SearchHybrid   SearchType = "hybrid"
)

// SearchQuery describes one retrieval request against a channel's memory.
type SearchQuery struct {
	Text      string
	ChannelID string
	Type      SearchType
	// After/Before bound the temporal filter; zero values mean unbounded.
	After  time.Time
	Before time.Time
	Limit  int
	// Threshold drops candidates whose relevance falls below it.
	Threshold float64
}

// Fingerprint returns a deterministic cache key derived from every query
// field. Two queries with identical fields always produce the same key.
func (q SearchQuery) Fingerprint() string {
	h := xxhash.New()
	h.WriteString(q.Text)
	h.WriteString("\x00")
	h.WriteString(q.ChannelID)
	h.WriteString("\x00")
	h.WriteString(string(q.Type))
	h.WriteString("\x00")
	h.WriteString(strconv.FormatInt(q.After.UnixNano(), 10))
	h.WriteString("\x00")
	h.WriteString(strconv.FormatInt(q.Before.UnixNano(), 10))
	h.WriteString("\x00")
	h.WriteString(strconv.Itoa(q.Limit))
	h.WriteString("\x00")
	h.WriteString(strconv.FormatFloat(q.Threshold, 'g', -1, 64))
	return fmt.Sprintf("q:%016x", h.Sum64())
}

// ScoredItem is one ranked search hit. Exactly one of Message or Segment
// is set, depending on which granularity the strategy produced.
type ScoredItem struct {
	Message *Message
	Segment *ConversationSegment
	Score   float64
}

// Identity returns a stable identifier for deduplication across the
// semantic and keyword legs of a hybrid search.
func (s ScoredItem) Identity() string {
	if s.Message != nil {
		return "m:" + s.Message.ID
	}
	if s.Segment != nil {
		return "s:" + s.Segment.ID
	}
	return ""
}

// Timestamp returns the item's reference time, used as the deterministic
// tie-break when merged scores are exactly equal.
func (s ScoredItem) Timestamp() time.Time {
	if s.Message != nil {
		return s.Message.Timestamp
	}
	if s.Segment != nil {
		return s.Segment.EndTime
	}
	return time.Time{}
}

// SearchResult is the ordered outcome of one query.
type SearchResult struct {
	Items      []ScoredItem
	TotalFound int
	Elapsed    time.Duration
	Strategy   SearchType
	CacheHit   bool
}
