package core

import "time"

// ConversationSegment is a contiguous run of messages treated as one
// semantic unit for retrieval. Segments are created when the segmenter
// closes the active run for a channel, and are never mutated afterwards
// except to attach a generated summary.
type ConversationSegment struct {
	ID           string
	ChannelID    string
	StartTime    time.Time
	EndTime      time.Time
	MessageCount int
	// Representative is the mean of the member message embeddings.
	Representative []float32
	// Coherence measures how semantically unified the members are, in [0,1].
	Coherence float64
	Summary   string
}

// SegmentLink ties a message to its segment with an ordinal position.
// Every message belongs to at most one segment.
type SegmentLink struct {
	MessageID string
	SegmentID string
	Position  int
}

// VectorRecord describes a stored segment vector. Dimensions must equal
// the active profile's embedding dimension; a mismatch is a hard error.
type VectorRecord struct {
	SegmentID  string
	Vector     []float32
	ModelID    string
	Dimensions int
}
