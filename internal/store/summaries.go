// ABOUTME: Read markers and per-user conversation summaries
// ABOUTME: Unread counts derive from message seq versus the user's last-read marker

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AdvanceReadMarker moves a user's last-read marker forward to seq. The upsert
// never moves the marker backwards, so concurrent advances from multiple
// sessions converge on the highest seq either has seen.
func (s *SQLiteStore) AdvanceReadMarker(ctx context.Context, conversationID, userID string, seq int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO read_markers (conversation_id, user_id, last_read_seq, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (conversation_id, user_id) DO UPDATE SET
			last_read_seq = MAX(last_read_seq, excluded.last_read_seq),
			updated_at = excluded.updated_at
	`, conversationID, userID, seq, time.Now().UTC().Format(time.RFC3339Nano))
	return wrapErr("advancing read marker", err)
}

// UnreadCount returns how many messages from other senders the user has not
// read in the conversation.
func (s *SQLiteStore) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM messages m
		WHERE m.conversation_id = ?
		  AND m.sender_id != ?
		  AND m.seq > COALESCE(
			(SELECT last_read_seq FROM read_markers
			 WHERE conversation_id = m.conversation_id AND user_id = ?), 0)
	`, conversationID, userID, userID).Scan(&count)
	if err != nil {
		return 0, wrapErr("counting unread", err)
	}
	return count, nil
}

// ListSummaries returns the user's visible conversations with last message and
// unread count, ordered by most recent activity descending. Conversations the
// user has soft-deleted (hidden direct views) are excluded.
func (s *SQLiteStore) ListSummaries(ctx context.Context, userID string) ([]*ConversationSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.kind, c.name, c.cover_ref, c.created_at,
		       m.seq, m.id, m.sender_id, m.content, m.sent_at, m.retracted,
		       (SELECT COUNT(*)
		        FROM messages mm
		        WHERE mm.conversation_id = c.id
		          AND mm.sender_id != ?
		          AND mm.seq > COALESCE(
		            (SELECT last_read_seq FROM read_markers r
		             WHERE r.conversation_id = c.id AND r.user_id = ?), 0)) AS unread
		FROM conversations c
		JOIN participants p
		  ON p.conversation_id = c.id AND p.user_id = ? AND p.hidden = 0
		LEFT JOIN messages m
		  ON m.conversation_id = c.id
		 AND m.seq = (SELECT MAX(seq) FROM messages WHERE conversation_id = c.id)
		ORDER BY COALESCE(m.seq, 0) DESC, c.created_at DESC
	`, userID, userID, userID)
	if err != nil {
		return nil, wrapErr("querying summaries", err)
	}
	defer rows.Close()

	var summaries []*ConversationSummary
	for rows.Next() {
		sum := &ConversationSummary{}
		var createdAt string
		var seq sql.NullInt64
		var msgID, senderID, content, sentAt sql.NullString
		var retracted sql.NullInt64

		if err := rows.Scan(
			&sum.Conversation.ID,
			(*string)(&sum.Conversation.Kind),
			&sum.Conversation.Name,
			&sum.Conversation.CoverRef,
			&createdAt,
			&seq,
			&msgID,
			&senderID,
			&content,
			&sentAt,
			&retracted,
			&sum.Unread,
		); err != nil {
			return nil, wrapErr("scanning summary row", err)
		}

		sum.Conversation.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}

		if seq.Valid {
			msg := &Message{
				Seq:            seq.Int64,
				ID:             msgID.String,
				ConversationID: sum.Conversation.ID,
				SenderID:       senderID.String,
				Content:        content.String,
				Retracted:      retracted.Int64 != 0,
			}
			msg.SentAt, err = time.Parse(time.RFC3339Nano, sentAt.String)
			if err != nil {
				return nil, fmt.Errorf("parsing sent_at: %w", err)
			}
			sum.LastMessage = msg
		}

		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterating summary rows", err)
	}
	return summaries, nil
}
