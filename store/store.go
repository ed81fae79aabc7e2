// Package store provides durable relational storage for channels, messages,
// conversation segments and segment links, backed by SQLite.
//
// Callers share one *Store; the underlying sql.DB hands each operation its
// own pooled connection, so no connection handle ever crosses goroutines.
// Multi-row writes (segment close) run inside a single transaction.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/lucidmem/recall/core"
)

// Store is the persistence layer. Safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Config configures the store.
type Config struct {
	// Path is the database file path. Empty means in-memory.
	Path string

	// MaxConns caps the connection pool. Default: 8.
	MaxConns int
}

// retryBackoff is the pause before the single retry of a failed write.
var retryBackoff = 100 * time.Millisecond

// Open opens (or creates) the database and applies the schema.
func Open(cfg Config) (*Store, error) {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}
	if cfg.MaxConns == 0 {
		cfg.MaxConns = 8
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		// Pooled connections would each see a private in-memory database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxConns)
	}

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma: %w", err)
		}
	}

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// StoreMessage persists a message, creating its channel on first sight and
// bumping the channel's activity counters. The write is retried once with
// backoff; persistent failure wraps core.ErrStorage.
func (s *Store) StoreMessage(ctx context.Context, msg *core.Message) (string, error) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	if msg.CleanContent == "" {
		msg.Normalize()
	}

	err := s.withRetry(ctx, "store message", func() error {
		return s.storeMessageOnce(ctx, msg)
	})
	if err != nil {
		return "", err
	}
	return msg.ID, nil
}

func (s *Store) storeMessageOnce(ctx context.Context, msg *core.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer rollback(tx)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO channels (id, group_id, created_at, last_active_at, message_count, vector_enabled)
		VALUES (?, '', ?, ?, 1, 1)
		ON CONFLICT(id) DO UPDATE SET
			last_active_at = excluded.last_active_at,
			message_count = message_count + 1
	`, msg.ChannelID, msg.Timestamp.UnixNano(), msg.Timestamp.UnixNano())
	if err != nil {
		return fmt.Errorf("upsert channel: %w", err)
	}

	meta, err := json.Marshal(msg.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, channel_id, author_id, content, clean_content, kind, ts, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.ChannelID, msg.AuthorID, msg.Content, msg.CleanContent, string(msg.Kind), msg.Timestamp.UnixNano(), string(meta))
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	return tx.Commit()
}

// MessageFilter narrows a Messages query. Zero values mean "no filter".
type MessageFilter struct {
	After    time.Time
	Before   time.Time
	AuthorID string
	Kind     core.MessageKind
	Limit    int
}

// Messages returns a channel's messages, oldest first.
func (s *Store) Messages(ctx context.Context, channelID string, f MessageFilter) ([]*core.Message, error) {
	query := `SELECT id, channel_id, author_id, content, clean_content, kind, ts, metadata
		FROM messages WHERE channel_id = ?`
	args := []any{channelID}

	if !f.After.IsZero() {
		query += " AND ts >= ?"
		args = append(args, f.After.UnixNano())
	}
	if !f.Before.IsZero() {
		query += " AND ts <= ?"
		args = append(args, f.Before.UnixNano())
	}
	if f.AuthorID != "" {
		query += " AND author_id = ?"
		args = append(args, f.AuthorID)
	}
	if f.Kind != "" {
		query += " AND kind = ?"
		args = append(args, string(f.Kind))
	}
	query += " ORDER BY ts ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// Message returns a single message by ID.
func (s *Store) Message(ctx context.Context, id string) (*core.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, channel_id, author_id, content, clean_content, kind, ts, metadata
		FROM messages WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("query message: %w", err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("message %s not found", id)
	}
	return msgs[0], nil
}

// RecentMessages returns the newest messages in a time range, newest first.
// This backs the temporal search strategy.
func (s *Store) RecentMessages(ctx context.Context, channelID string, after, before time.Time, limit int) ([]*core.Message, error) {
	query := `SELECT id, channel_id, author_id, content, clean_content, kind, ts, metadata
		FROM messages WHERE channel_id = ?`
	args := []any{channelID}
	if !after.IsZero() {
		query += " AND ts >= ?"
		args = append(args, after.UnixNano())
	}
	if !before.IsZero() {
		query += " AND ts <= ?"
		args = append(args, before.UnixNano())
	}
	query += " ORDER BY ts DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recent messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// ScanForTerms returns a channel's messages whose normalized content
// matches at least one of the given terms. This backs keyword search; the
// caller scores the candidates.
func (s *Store) ScanForTerms(ctx context.Context, channelID string, terms []string, limit int) ([]*core.Message, error) {
	if len(terms) == 0 {
		return nil, nil
	}

	query := `SELECT id, channel_id, author_id, content, clean_content, kind, ts, metadata
		FROM messages WHERE channel_id = ? AND (`
	args := []any{channelID}
	for i, term := range terms {
		if i > 0 {
			query += " OR "
		}
		query += "clean_content LIKE ? ESCAPE '\\'"
		args = append(args, "%"+escapeLike(term)+"%")
	}
	query += ") ORDER BY ts DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scan for terms: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// AnnotateMessage merges annotations into a stored message's metadata.
// Content is immutable; metadata is the only mutable part of a message.
func (s *Store) AnnotateMessage(ctx context.Context, id string, annotations core.Metadata) error {
	return s.withRetry(ctx, "annotate message", func() error {
		msg, err := s.Message(ctx, id)
		if err != nil {
			return err
		}
		merged := msg.Metadata.Clone()
		if merged == nil {
			merged = core.Metadata{}
		}
		for k, v := range annotations {
			merged[k] = v
		}
		meta, err := json.Marshal(merged)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		_, err = s.db.ExecContext(ctx, "UPDATE messages SET metadata = ? WHERE id = ?", string(meta), id)
		return err
	})
}

// CreateSegment persists a finalized segment together with all its message
// links. The segment row and every link row commit as one unit or not at
// all.
func (s *Store) CreateSegment(ctx context.Context, seg *core.ConversationSegment, links []core.SegmentLink) (string, error) {
	if seg.ID == "" {
		seg.ID = uuid.New().String()
	}

	err := s.withRetry(ctx, "create segment", func() error {
		return s.createSegmentOnce(ctx, seg, links)
	})
	if err != nil {
		return "", err
	}
	return seg.ID, nil
}

func (s *Store) createSegmentOnce(ctx context.Context, seg *core.ConversationSegment, links []core.SegmentLink) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer rollback(tx)

	vec, err := json.Marshal(seg.Representative)
	if err != nil {
		return fmt.Errorf("marshal representative: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO segments (id, channel_id, start_ts, end_ts, message_count, representative, coherence, summary)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, seg.ID, seg.ChannelID, seg.StartTime.UnixNano(), seg.EndTime.UnixNano(), seg.MessageCount, string(vec), seg.Coherence, seg.Summary)
	if err != nil {
		return fmt.Errorf("insert segment: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO segment_links (message_id, segment_id, position) VALUES (?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare link insert: %w", err)
	}
	defer stmt.Close()

	for _, link := range links {
		if _, err := stmt.ExecContext(ctx, link.MessageID, seg.ID, link.Position); err != nil {
			return fmt.Errorf("insert link %s: %w", link.MessageID, err)
		}
	}

	return tx.Commit()
}

// LinkMessage attaches one message to an existing segment at the given
// position. Segment close links its members in one transaction through
// CreateSegment; this backs late additions such as backfilled edits. A
// message already linked elsewhere is rejected.
func (s *Store) LinkMessage(ctx context.Context, messageID, segmentID string, position int) error {
	return s.withRetry(ctx, "link message", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO segment_links (message_id, segment_id, position) VALUES (?, ?, ?)
		`, messageID, segmentID, position)
		return err
	})
}

// Segment returns a segment by ID.
func (s *Store) Segment(ctx context.Context, id string) (*core.ConversationSegment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, channel_id, start_ts, end_ts, message_count, representative, coherence, summary
		FROM segments WHERE id = ?`, id)

	seg, err := scanSegment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("segment %s not found", id)
		}
		return nil, err
	}
	return seg, nil
}

// SegmentMessages returns a segment's member messages in link order.
func (s *Store) SegmentMessages(ctx context.Context, segmentID string) ([]*core.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.channel_id, m.author_id, m.content, m.clean_content, m.kind, m.ts, m.metadata
		FROM messages m
		JOIN segment_links l ON l.message_id = m.id
		WHERE l.segment_id = ?
		ORDER BY l.position ASC`, segmentID)
	if err != nil {
		return nil, fmt.Errorf("query segment messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// AttachSummary records a generated summary on a finalized segment.
// This is the only post-finalization mutation a segment allows.
func (s *Store) AttachSummary(ctx context.Context, segmentID, summary string) error {
	return s.withRetry(ctx, "attach summary", func() error {
		res, err := s.db.ExecContext(ctx, "UPDATE segments SET summary = ? WHERE id = ?", summary, segmentID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("segment %s not found", segmentID)
		}
		return nil
	})
}

// CountSegments returns the total number of stored segments.
func (s *Store) CountSegments(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM segments").Scan(&n)
	return n, err
}

// SegmentsForChannel returns a channel's segments, newest first.
func (s *Store) SegmentsForChannel(ctx context.Context, channelID string, limit int) ([]*core.ConversationSegment, error) {
	query := `SELECT id, channel_id, start_ts, end_ts, message_count, representative, coherence, summary
		FROM segments WHERE channel_id = ? ORDER BY end_ts DESC`
	args := []any{channelID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query segments: %w", err)
	}
	defer rows.Close()

	var segs []*core.ConversationSegment
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, err
		}
		segs = append(segs, seg)
	}
	return segs, rows.Err()
}

// Channel returns channel bookkeeping by ID.
func (s *Store) Channel(ctx context.Context, id string) (*core.Channel, error) {
	var ch core.Channel
	var created, lastActive int64
	var vectorEnabled int
	err := s.db.QueryRowContext(ctx, `
		SELECT id, group_id, created_at, last_active_at, message_count, vector_enabled
		FROM channels WHERE id = ?`, id).
		Scan(&ch.ID, &ch.GroupID, &created, &lastActive, &ch.MessageCount, &vectorEnabled)
	if err != nil {
		return nil, fmt.Errorf("query channel: %w", err)
	}
	ch.CreatedAt = time.Unix(0, created).UTC()
	ch.LastActiveAt = time.Unix(0, lastActive).UTC()
	ch.VectorEnabled = vectorEnabled != 0
	return &ch, nil
}

// PurgeBefore removes segments (and their links) finalized before the
// cutoff. Messages stay; only the retrieval units age out.
func (s *Store) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var purged int64
	err := s.withRetry(ctx, "purge segments", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer rollback(tx)

		_, err = tx.ExecContext(ctx, `
			DELETE FROM segment_links WHERE segment_id IN
				(SELECT id FROM segments WHERE end_ts < ?)`, cutoff.UnixNano())
		if err != nil {
			return fmt.Errorf("delete links: %w", err)
		}

		res, err := tx.ExecContext(ctx, "DELETE FROM segments WHERE end_ts < ?", cutoff.UnixNano())
		if err != nil {
			return fmt.Errorf("delete segments: %w", err)
		}
		purged, _ = res.RowsAffected()
		return tx.Commit()
	})
	return purged, err
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// withRetry runs op, retrying once with backoff on failure. A second
// failure wraps core.ErrStorage and is surfaced, never swallowed.
func (s *Store) withRetry(ctx context.Context, what string, op func() error) error {
	err := op()
	if err == nil {
		return nil
	}

	log.Printf("[STORE] %s failed, retrying once: %v", what, err)
	select {
	case <-time.After(retryBackoff):
	case <-ctx.Done():
		return fmt.Errorf("%s: %v: %w", what, ctx.Err(), core.ErrStorage)
	}

	if err := op(); err != nil {
		return fmt.Errorf("%s: %v: %w", what, err, core.ErrStorage)
	}
	return nil
}

func rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		log.Printf("[STORE] rollback failed: %v", err)
	}
}
