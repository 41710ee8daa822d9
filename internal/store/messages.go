// ABOUTME: Message operations for the SQLite store
// ABOUTME: Sequence-ordered append, tombstone retraction, and forward paging

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AppendMessage inserts a message and fills in its store-assigned sequence
// number. The AUTOINCREMENT seq is the authoritative total order within a
// conversation; concurrent senders are serialized by insertion order.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, content, sent_at, retracted)
		VALUES (?, ?, ?, ?, ?, 0)
	`,
		msg.ID,
		msg.ConversationID,
		msg.SenderID,
		msg.Content,
		msg.SentAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return wrapErr("inserting message", err)
	}

	msg.Seq, err = res.LastInsertId()
	if err != nil {
		return wrapErr("reading message seq", err)
	}

	s.logger.Debug("message appended",
		"message_id", msg.ID,
		"conversation_id", msg.ConversationID,
		"seq", msg.Seq)
	return nil
}

// GetMessage retrieves a single message by ID
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT seq, id, conversation_id, sender_id, content, sent_at, retracted
		FROM messages
		WHERE id = ?
	`, id)

	msg, err := scanMessage(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapErr("querying message", err)
	}
	return msg, nil
}

// RetractMessage replaces a message's content with the tombstone and sets the
// retracted flag. The update is idempotent: re-applying the same tombstone to
// an already retracted message is harmless.
func (s *SQLiteStore) RetractMessage(ctx context.Context, id, tombstone string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET content = ?, retracted = 1 WHERE id = ?
	`, tombstone, id)
	if err != nil {
		return wrapErr("retracting message", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return wrapErr("retracting message", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("message retracted", "message_id", id)
	return nil
}

// ListMessagesSince retrieves up to limit messages of a conversation with
// seq > afterSeq, ordered by seq ASC. Pass afterSeq 0 for full history from
// the beginning. The ordering is stable under repeated calls.
func (s *SQLiteStore) ListMessagesSince(ctx context.Context, conversationID string, afterSeq int64, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, conversation_id, sender_id, content, sent_at, retracted
		FROM messages
		WHERE conversation_id = ? AND seq > ?
		ORDER BY seq ASC
		LIMIT ?
	`, conversationID, afterSeq, limit)
	if err != nil {
		return nil, wrapErr("querying messages", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, wrapErr("scanning message row", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterating message rows", err)
	}
	return messages, nil
}

// LatestSeq returns the highest message sequence number in a conversation,
// or 0 if the conversation has no messages.
func (s *SQLiteStore) LatestSeq(ctx context.Context, conversationID string) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM messages WHERE conversation_id = ?
	`, conversationID).Scan(&seq)
	if err != nil {
		return 0, wrapErr("querying latest seq", err)
	}
	return seq, nil
}

// scanMessage scans a message row via the given scan function
func scanMessage(scan func(...any) error) (*Message, error) {
	msg := &Message{}
	var retracted int
	var sentAt string

	if err := scan(&msg.Seq, &msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Content, &sentAt, &retracted); err != nil {
		return nil, err
	}

	msg.Retracted = retracted != 0
	var err error
	msg.SentAt, err = time.Parse(time.RFC3339Nano, sentAt)
	if err != nil {
		return nil, fmt.Errorf("parsing sent_at: %w", err)
	}
	return msg, nil
}
