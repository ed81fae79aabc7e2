package segment

import (
	"time"

	"github.com/lucidmem/recall/core"
)

// activityWindow tracks a rolling view of channel cadence: recent message
// timestamps and the distinct participants who produced them. The adaptive
// policy scales its thresholds from this window.
type activityWindow struct {
	span         time.Duration
	timestamps   []time.Time
	participants map[string]time.Time
}

func newActivityWindow(span time.Duration) *activityWindow {
	return &activityWindow{
		span:         span,
		participants: make(map[string]time.Time),
	}
}

// Observe records one message and drops entries older than the window.
func (w *activityWindow) Observe(msg *core.Message) {
	w.timestamps = append(w.timestamps, msg.Timestamp)
	w.participants[msg.AuthorID] = msg.Timestamp

	cutoff := msg.Timestamp.Add(-w.span)
	i := 0
	for i < len(w.timestamps) && w.timestamps[i].Before(cutoff) {
		i++
	}
	w.timestamps = w.timestamps[i:]
	for author, last := range w.participants {
		if last.Before(cutoff) {
			delete(w.participants, author)
		}
	}
}

// AverageGap returns the mean spacing of windowed messages, or 0 when
// fewer than two messages are in view.
func (w *activityWindow) AverageGap() time.Duration {
	if len(w.timestamps) < 2 {
		return 0
	}
	span := w.timestamps[len(w.timestamps)-1].Sub(w.timestamps[0])
	return span / time.Duration(len(w.timestamps)-1)
}

// MessagesPerHour returns the windowed message rate.
func (w *activityWindow) MessagesPerHour() float64 {
	return float64(len(w.timestamps)) / w.span.Hours()
}

// Participants returns the distinct author count inside the window.
func (w *activityWindow) Participants() int {
	return len(w.participants)
}

// Scales derives the adaptive multipliers. Busy, many-participant
// channels tighten the time threshold and relax the semantic cutoff
// (interleaved conversations shift topic more without a real boundary);
// quiet channels do the opposite. Both multipliers stay within [0.5, 2].
func (w *activityWindow) Scales() (timeScale, semanticScale float64) {
	rate := w.MessagesPerHour()
	switch {
	case rate >= 120:
		timeScale = 0.5
	case rate >= 30:
		timeScale = 0.75
	case rate <= 5:
		timeScale = 2.0
	default:
		timeScale = 1.0
	}

	switch p := w.Participants(); {
	case p >= 5:
		semanticScale = 0.5
	case p >= 3:
		semanticScale = 0.75
	default:
		semanticScale = 1.0
	}
	return timeScale, semanticScale
}
