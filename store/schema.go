package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lucidmem/recall/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS channels (
	id             TEXT PRIMARY KEY,
	group_id       TEXT NOT NULL DEFAULT '',
	created_at     INTEGER NOT NULL,
	last_active_at INTEGER NOT NULL,
	message_count  INTEGER NOT NULL DEFAULT 0,
	vector_enabled INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS messages (
	id            TEXT PRIMARY KEY,
	channel_id    TEXT NOT NULL REFERENCES channels(id),
	author_id     TEXT NOT NULL,
	content       TEXT NOT NULL,
	clean_content TEXT NOT NULL,
	kind          TEXT NOT NULL,
	ts            INTEGER NOT NULL,
	metadata      TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_messages_channel_ts ON messages(channel_id, ts);
CREATE INDEX IF NOT EXISTS idx_messages_author ON messages(author_id);

CREATE TABLE IF NOT EXISTS segments (
	id             TEXT PRIMARY KEY,
	channel_id     TEXT NOT NULL REFERENCES channels(id),
	start_ts       INTEGER NOT NULL,
	end_ts         INTEGER NOT NULL,
	message_count  INTEGER NOT NULL,
	representative TEXT NOT NULL DEFAULT '[]',
	coherence      REAL NOT NULL DEFAULT 0,
	summary        TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_segments_channel_end ON segments(channel_id, end_ts);

CREATE TABLE IF NOT EXISTS segment_links (
	message_id TEXT NOT NULL REFERENCES messages(id),
	segment_id TEXT NOT NULL REFERENCES segments(id),
	position   INTEGER NOT NULL,
	PRIMARY KEY (message_id)
);
CREATE INDEX IF NOT EXISTS idx_segment_links_segment ON segment_links(segment_id, position);
`

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanMessages(rows *sql.Rows) ([]*core.Message, error) {
	var msgs []*core.Message
	for rows.Next() {
		var m core.Message
		var kind, meta string
		var ts int64
		if err := rows.Scan(&m.ID, &m.ChannelID, &m.AuthorID, &m.Content, &m.CleanContent, &kind, &ts, &meta); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Kind = core.MessageKind(kind)
		m.Timestamp = time.Unix(0, ts).UTC()
		if meta != "" && meta != "{}" && meta != "null" {
			if err := json.Unmarshal([]byte(meta), &m.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

func scanSegment(row scanner) (*core.ConversationSegment, error) {
	var seg core.ConversationSegment
	var start, end int64
	var vec string
	err := row.Scan(&seg.ID, &seg.ChannelID, &start, &end, &seg.MessageCount, &vec, &seg.Coherence, &seg.Summary)
	if err != nil {
		return nil, err
	}
	seg.StartTime = time.Unix(0, start).UTC()
	seg.EndTime = time.Unix(0, end).UTC()
	if vec != "" && vec != "[]" && vec != "null" {
		if err := json.Unmarshal([]byte(vec), &seg.Representative); err != nil {
			return nil, fmt.Errorf("unmarshal representative: %w", err)
		}
	}
	return &seg, nil
}

// escapeLike escapes LIKE wildcards in a user-supplied term.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
