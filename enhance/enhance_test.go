package enhance

import (
	"math"
	"testing"
	"time"

	"github.com/lucidmem/recall/core"
)

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestParticipantBoostReorders(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	old := now.Add(-30 * 24 * time.Hour) // outside the recency horizon

	e := New(Config{})
	e.now = fixedNow(now)

	items := []core.ScoredItem{
		{Message: &core.Message{ID: "a", AuthorID: "idle", Timestamp: old}, Score: 0.55},
		{Message: &core.Message{ID: "b", AuthorID: "active", Timestamp: old}, Score: 0.5},
	}
	out := e.Enhance(items, []string{"active"})
	if out[0].Message.ID != "b" {
		t.Errorf("active participant should rank first, got %s", out[0].Message.ID)
	}
	// Input order is untouched.
	if items[0].Message.ID != "a" || items[0].Score != 0.55 {
		t.Error("input slice was modified")
	}
}

func TestRecencyDecay(t *testing.T) {
	e := New(Config{
		RecencyBoost:   0.2,
		RecentWindow:   time.Hour,
		RecencyHorizon: 11 * time.Hour,
	})

	if got := e.recency(30 * time.Minute); got != 0.2 {
		t.Errorf("inside window = %v, want full 0.2", got)
	}
	// Halfway between window and horizon: half the boost.
	if got := e.recency(6 * time.Hour); math.Abs(got-0.1) > 1e-9 {
		t.Errorf("halfway decay = %v, want 0.1", got)
	}
	if got := e.recency(12 * time.Hour); got != 0 {
		t.Errorf("past horizon = %v, want 0", got)
	}
	if got := e.recency(-time.Minute); got != 0 {
		t.Errorf("future timestamp = %v, want 0", got)
	}
}

func TestContentHeuristics(t *testing.T) {
	e := New(Config{ContentBoost: 0.05})

	// Length band, question marker, and task keyword all present.
	all := e.content("should we fix the deadline for the deploy rollout?")
	if math.Abs(all-0.15) > 1e-9 {
		t.Errorf("all heuristics = %v, want 0.15", all)
	}
	if got := e.content("ok"); got != 0 {
		t.Errorf("trivial content = %v, want 0", got)
	}
	if got := e.content(""); got != 0 {
		t.Errorf("empty content = %v, want 0", got)
	}
}

func TestSegmentsUseSummaries(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	e := New(Config{})
	e.now = fixedNow(now)

	seg := core.ScoredItem{
		Segment: &core.ConversationSegment{
			EndTime: now.Add(-30 * 24 * time.Hour),
			Summary: "the team agreed on a deadline for the migration plan",
		},
		Score: 0.5,
	}
	out := e.Enhance([]core.ScoredItem{seg}, nil)
	if out[0].Score <= 0.5 {
		t.Errorf("segment summary heuristics should add a boost, score = %v", out[0].Score)
	}
}
