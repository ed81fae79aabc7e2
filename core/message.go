package core

import (
	"strings"
	"time"
)

// MessageKind identifies who produced a message.
type MessageKind string

const (
	KindUser   MessageKind = "user"
	KindBot    MessageKind = "bot"
	KindSystem MessageKind = "system"
)

// Metadata is a typed key-value annotation map attached to messages.
//
// Expected keys (all optional):
//   - "reply_to": ID of the message this one replies to
//   - "attachments": number of attachments on the platform message
//   - "lang": detected language code
//   - "edited": "true" when the platform reported an edit
//
// Unknown keys are stored and round-tripped untouched.
type Metadata map[string]string

// Clone returns an independent copy of the metadata map.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Channel is one conversation partition. All segmentation, indexing and
// retrieval is scoped to a channel; one channel's volume never affects
// another's.
type Channel struct {
	ID            string
	GroupID       string
	CreatedAt     time.Time
	LastActiveAt  time.Time
	MessageCount  int64
	VectorEnabled bool
}

// Message is a single chat message. Immutable once stored, except for
// metadata annotations.
type Message struct {
	ID           string
	ChannelID    string
	AuthorID     string
	Content      string
	CleanContent string
	Kind         MessageKind
	Timestamp    time.Time
	Metadata     Metadata
}

// Normalize fills CleanContent with a whitespace-collapsed copy of Content.
// Embedding and keyword matching operate on CleanContent only.
func (m *Message) Normalize() {
	m.CleanContent = CollapseWhitespace(m.Content)
}

// CollapseWhitespace trims a string and collapses interior whitespace runs
// to single spaces.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
