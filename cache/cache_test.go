package cache

import (
	"testing"
	"time"

	"github.com/lucidmem/recall/core"
)

func newTestCache(t *testing.T) *ResultCache {
	t.Helper()
	rc, err := New(Config{})
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	t.Cleanup(rc.Close)
	return rc
}

func TestCacheRoundTripSetsHitFlag(t *testing.T) {
	rc := newTestCache(t)

	q := core.SearchQuery{Text: "deploy schedule", ChannelID: "chan1", Type: core.SearchHybrid, Limit: 5}
	key := q.Fingerprint()

	res := &core.SearchResult{
		Items:      []core.ScoredItem{{Message: &core.Message{ID: "m1"}, Score: 0.7}},
		TotalFound: 1,
		Strategy:   core.SearchHybrid,
	}
	rc.Set(key, res, time.Minute)

	got, ok := rc.Get(key)
	if !ok {
		t.Fatal("stored result not found")
	}
	if !got.CacheHit {
		t.Error("cached result should be flagged as a hit")
	}
	if len(got.Items) != 1 || got.Items[0].Message.ID != "m1" {
		t.Errorf("cached items = %+v", got.Items)
	}

	// The second read is identical to the first.
	again, ok := rc.Get(key)
	if !ok || !again.CacheHit || len(again.Items) != 1 {
		t.Error("repeated read should return the same flagged result")
	}
}

func TestCacheMiss(t *testing.T) {
	rc := newTestCache(t)
	if _, ok := rc.Get("q:0000000000000000"); ok {
		t.Error("empty cache returned a result")
	}
}

func TestCacheExpiry(t *testing.T) {
	rc := newTestCache(t)

	key := core.SearchQuery{Text: "short lived"}.Fingerprint()
	rc.Set(key, &core.SearchResult{TotalFound: 1}, 50*time.Millisecond)

	if _, ok := rc.Get(key); !ok {
		t.Fatal("entry missing before TTL")
	}
	time.Sleep(100 * time.Millisecond)
	if _, ok := rc.Get(key); ok {
		t.Error("entry returned after its TTL")
	}
}

func TestHitRate(t *testing.T) {
	rc := newTestCache(t)

	key := core.SearchQuery{Text: "tracked"}.Fingerprint()
	rc.Set(key, &core.SearchResult{}, time.Minute)

	rc.Get(key)
	rc.Get(key)
	rc.Get("q:ffffffffffffffff")

	if got := rc.HitRate(); got < 0.66 || got > 0.67 {
		t.Errorf("hit rate = %v, want 2/3", got)
	}
}

func TestFingerprintDistinguishesFields(t *testing.T) {
	base := core.SearchQuery{Text: "deploy", ChannelID: "chan1", Type: core.SearchHybrid, Limit: 10}

	variants := []core.SearchQuery{
		{Text: "deploy!", ChannelID: "chan1", Type: core.SearchHybrid, Limit: 10},
		{Text: "deploy", ChannelID: "chan2", Type: core.SearchHybrid, Limit: 10},
		{Text: "deploy", ChannelID: "chan1", Type: core.SearchKeyword, Limit: 10},
		{Text: "deploy", ChannelID: "chan1", Type: core.SearchHybrid, Limit: 20},
		{Text: "deploy", ChannelID: "chan1", Type: core.SearchHybrid, Limit: 10, Threshold: 0.5},
	}
	for i, v := range variants {
		if v.Fingerprint() == base.Fingerprint() {
			t.Errorf("variant %d collides with base fingerprint", i)
		}
	}
	if base.Fingerprint() != base.Fingerprint() {
		t.Error("fingerprint not deterministic")
	}
}
