// Package index provides a per-channel nearest-neighbor index over segment
// vectors, backed by chromem-go.
//
// Every channel owns its own persistent collection, so one channel's
// volume never degrades another's query latency. A channel whose on-disk
// state is missing or corrupt is marked degraded: its searches fail with
// core.ErrVectorIndex and the search engine falls back to keyword-only,
// while the rest of the process keeps running.
package index

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	chromem "github.com/philippgille/chromem-go"

	"github.com/lucidmem/recall/core"
)

// Hit is one similarity match.
type Hit struct {
	SegmentID  string
	Similarity float64
	// Distance is 1 - Similarity, so results ascend by distance.
	Distance float64
	EndTime  time.Time
}

// Config configures the index.
type Config struct {
	// Dir is the root directory for per-channel persistence. Empty keeps
	// everything in memory (tests).
	Dir string

	// Dimensions is the required vector size. Inserting a vector of any
	// other size is a hard error, never a silent truncation.
	Dimensions int
}

// Index is the vector index. Safe for concurrent use; inserts are
// serialized per channel while searches read the last committed state.
type Index struct {
	cfg Config

	mu       sync.RWMutex
	channels map[string]*channelIndex
}

type channelIndex struct {
	col      *chromem.Collection
	insertMu sync.Mutex
	degraded bool
}

// New creates the index. Channel state is opened lazily on first use.
func New(cfg Config) (*Index, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("index dimensions must be positive: %w", core.ErrConfiguration)
	}
	return &Index{
		cfg:      cfg,
		channels: make(map[string]*channelIndex),
	}, nil
}

// channel returns the channel's collection, opening (or reloading) its
// persistent state on first access. Open failures mark the channel
// degraded rather than aborting.
func (ix *Index) channel(channelID string) *channelIndex {
	ix.mu.RLock()
	ci, ok := ix.channels[channelID]
	ix.mu.RUnlock()
	if ok {
		return ci
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ci, ok := ix.channels[channelID]; ok {
		return ci
	}

	ci = &channelIndex{}
	col, err := ix.openCollection(channelID)
	if err != nil {
		log.Printf("[INDEX] Channel %s index unavailable, degrading to keyword-only: %v", channelID, err)
		ci.degraded = true
	} else {
		ci.col = col
	}
	ix.channels[channelID] = ci
	return ci
}

func (ix *Index) openCollection(channelID string) (*chromem.Collection, error) {
	var db *chromem.DB
	if ix.cfg.Dir == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(channelPath(ix.cfg.Dir, channelID), false)
		if err != nil {
			return nil, fmt.Errorf("open channel store: %w", err)
		}
	}

	col, err := db.GetOrCreateCollection("segments", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("open segments collection: %w", err)
	}
	return col, nil
}

// Insert adds a segment vector to the channel's partition. Inserts on the
// same channel are serialized so a search never observes a partial vector.
func (ix *Index) Insert(ctx context.Context, channelID, segmentID string, vec []float32, endTime time.Time) error {
	if len(vec) != ix.cfg.Dimensions {
		return fmt.Errorf("vector for segment %s has %d dimensions, index requires %d: %w",
			segmentID, len(vec), ix.cfg.Dimensions, core.ErrVectorIndex)
	}

	ci := ix.channel(channelID)
	if ci.degraded {
		return fmt.Errorf("channel %s index degraded: %w", channelID, core.ErrVectorIndex)
	}

	ci.insertMu.Lock()
	defer ci.insertMu.Unlock()

	doc := chromem.Document{
		ID:        segmentID,
		Content:   segmentID,
		Embedding: vec,
		Metadata: map[string]string{
			"end_ts": strconv.FormatInt(endTime.UnixNano(), 10),
		},
	}
	if err := ci.col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("insert segment %s: %v: %w", segmentID, err, core.ErrVectorIndex)
	}
	return nil
}

// Search returns the channel's top-k nearest segments in ascending
// distance order. Exact similarity ties rank the most recently finalized
// segment first.
func (ix *Index) Search(ctx context.Context, channelID string, queryVec []float32, k int) ([]Hit, error) {
	if len(queryVec) != ix.cfg.Dimensions {
		return nil, fmt.Errorf("query vector has %d dimensions, index requires %d: %w",
			len(queryVec), ix.cfg.Dimensions, core.ErrVectorIndex)
	}

	ci := ix.channel(channelID)
	if ci.degraded {
		return nil, fmt.Errorf("channel %s index degraded: %w", channelID, core.ErrVectorIndex)
	}

	// chromem rejects nResults larger than the collection.
	count := ci.col.Count()
	if count == 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}
	if k <= 0 {
		return nil, nil
	}

	results, err := ci.col.QueryEmbedding(ctx, queryVec, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query channel %s: %v: %w", channelID, err, core.ErrVectorIndex)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hit := Hit{
			SegmentID:  r.ID,
			Similarity: float64(r.Similarity),
			Distance:   1 - float64(r.Similarity),
		}
		if ts, err := strconv.ParseInt(r.Metadata["end_ts"], 10, 64); err == nil {
			hit.EndTime = time.Unix(0, ts).UTC()
		}
		hits = append(hits, hit)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].EndTime.After(hits[j].EndTime)
	})
	return hits, nil
}

// Degraded reports whether a channel's index has been marked unusable.
func (ix *Index) Degraded(channelID string) bool {
	return ix.channel(channelID).degraded
}

// channelPath maps a channel ID to its on-disk directory. IDs pass through
// a conservative character filter so arbitrary platform IDs stay safe as
// path components; a hash of the raw ID keeps IDs that sanitize to the
// same string in distinct directories.
func channelPath(dir, channelID string) string {
	safe := make([]rune, 0, len(channelID))
	for _, r := range channelID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			safe = append(safe, r)
		default:
			safe = append(safe, '_')
		}
	}
	return fmt.Sprintf("%s/%s-%08x", dir, string(safe), xxhash.Sum64String(channelID)&0xffffffff)
}
