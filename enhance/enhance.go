// Package enhance applies relevance boosts on top of base search scores:
// active participants, recency, and content signals.
package enhance

import (
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/lucidmem/recall/core"
)

// Config tunes the individual boosts.
type Config struct {
	// ParticipantBoost is added when the item's author is currently
	// active in the conversation. Default: 0.1.
	ParticipantBoost float64

	// RecencyBoost is added in full inside RecentWindow and decays
	// linearly to zero at RecencyHorizon. Defaults: 0.15, 1h, 168h.
	RecencyBoost   float64
	RecentWindow   time.Duration
	RecencyHorizon time.Duration

	// ContentBoost is the unit for content heuristics: comfortable
	// length, question markers, task keywords. Default: 0.05.
	ContentBoost float64
}

// taskKeywords mark content that tends to matter later.
var taskKeywords = []string{
	"todo", "task", "deadline", "decide", "decision", "schedule",
	"plan", "remember", "remind", "fix", "bug", "action item",
}

// Enhancer re-scores search results. Pure computation, safe for
// concurrent use.
type Enhancer struct {
	cfg Config
	now func() time.Time
}

// New creates an enhancer.
func New(cfg Config) *Enhancer {
	if cfg.ParticipantBoost <= 0 {
		cfg.ParticipantBoost = 0.1
	}
	if cfg.RecencyBoost <= 0 {
		cfg.RecencyBoost = 0.15
	}
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = time.Hour
	}
	if cfg.RecencyHorizon <= cfg.RecentWindow {
		cfg.RecencyHorizon = 7 * 24 * time.Hour
	}
	if cfg.ContentBoost <= 0 {
		cfg.ContentBoost = 0.05
	}
	return &Enhancer{cfg: cfg, now: time.Now}
}

// Enhance returns a re-sorted copy of items with final score = base
// relevance + boosts. The input slice is not modified.
func (e *Enhancer) Enhance(items []core.ScoredItem, activeParticipants []string) []core.ScoredItem {
	active := make(map[string]bool, len(activeParticipants))
	for _, p := range activeParticipants {
		active[p] = true
	}
	now := e.now()

	out := make([]core.ScoredItem, len(items))
	copy(out, items)
	for i := range out {
		out[i].Score += e.boost(out[i], active, now)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Timestamp().After(out[j].Timestamp())
	})
	return out
}

func (e *Enhancer) boost(item core.ScoredItem, active map[string]bool, now time.Time) float64 {
	var total float64

	if item.Message != nil && active[item.Message.AuthorID] {
		total += e.cfg.ParticipantBoost
	}
	total += e.recency(now.Sub(item.Timestamp()))
	total += e.content(itemText(item))

	return total
}

// recency grants the full boost inside the recent window, then decays
// linearly to zero at the horizon.
func (e *Enhancer) recency(age time.Duration) float64 {
	switch {
	case age < 0:
		return 0
	case age <= e.cfg.RecentWindow:
		return e.cfg.RecencyBoost
	case age >= e.cfg.RecencyHorizon:
		return 0
	default:
		span := e.cfg.RecencyHorizon - e.cfg.RecentWindow
		remaining := e.cfg.RecencyHorizon - age
		return e.cfg.RecencyBoost * float64(remaining) / float64(span)
	}
}

// content scores heuristics on the item's text: substantial but not
// rambling length, question markers, and task keywords.
func (e *Enhancer) content(text string) float64 {
	if text == "" {
		return 0
	}
	var total float64

	if n := utf8.RuneCountInString(text); n >= 20 && n <= 400 {
		total += e.cfg.ContentBoost
	}
	if strings.Contains(text, "?") {
		total += e.cfg.ContentBoost
	}
	lower := strings.ToLower(text)
	for _, kw := range taskKeywords {
		if strings.Contains(lower, kw) {
			total += e.cfg.ContentBoost
			break
		}
	}
	return total
}

func itemText(item core.ScoredItem) string {
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
