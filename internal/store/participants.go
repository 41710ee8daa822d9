// ABOUTME: Participant operations for the SQLite store
// ABOUTME: Membership rows, soft-hide for direct conversations, and atomic admin transfer

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// insertParticipant inserts a single participant row inside a transaction
func insertParticipant(ctx context.Context, tx *sql.Tx, conversationID string, p *Participant) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO participants (conversation_id, user_id, is_admin, hidden, joined_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		conversationID,
		p.UserID,
		boolToInt(p.IsAdmin),
		boolToInt(p.Hidden),
		p.JoinedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyMember
		}
		return wrapErr("inserting participant", err)
	}
	return nil
}

// GetParticipant retrieves a participant row. Returns ErrNotMember if the user
// is not part of the conversation.
func (s *SQLiteStore) GetParticipant(ctx context.Context, conversationID, userID string) (*Participant, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT conversation_id, user_id, is_admin, hidden, joined_at
		FROM participants
		WHERE conversation_id = ? AND user_id = ?
	`, conversationID, userID)

	p, err := scanParticipant(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotMember
	}
	if err != nil {
		return nil, wrapErr("querying participant", err)
	}
	return p, nil
}

// ListParticipants retrieves all participants of a conversation ordered by join time
func (s *SQLiteStore) ListParticipants(ctx context.Context, conversationID string) ([]*Participant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id, user_id, is_admin, hidden, joined_at
		FROM participants
		WHERE conversation_id = ?
		ORDER BY joined_at ASC, user_id ASC
	`, conversationID)
	if err != nil {
		return nil, wrapErr("querying participants", err)
	}
	defer rows.Close()

	var participants []*Participant
	for rows.Next() {
		p, err := scanParticipant(rows.Scan)
		if err != nil {
			return nil, wrapErr("scanning participant row", err)
		}
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterating participant rows", err)
	}
	return participants, nil
}

// AddParticipants inserts the given participants in a single transaction.
// Callers are expected to have filtered out existing members already; an
// unexpected duplicate surfaces as ErrAlreadyMember.
func (s *SQLiteStore) AddParticipants(ctx context.Context, conversationID string, participants []*Participant) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("beginning transaction", err)
	}
	defer tx.Rollback()

	for _, p := range participants {
		if err := insertParticipant(ctx, tx, conversationID, p); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return wrapErr("committing participants", err)
	}
	return nil
}

// RemoveParticipant deletes a participant row. Returns ErrNotMember if absent.
func (s *SQLiteStore) RemoveParticipant(ctx context.Context, conversationID, userID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM participants WHERE conversation_id = ? AND user_id = ?
	`, conversationID, userID)
	if err != nil {
		return wrapErr("removing participant", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return wrapErr("removing participant", err)
	}
	if affected == 0 {
		return ErrNotMember
	}
	return nil
}

// SetParticipantHidden marks or unmarks a participant's view of a direct
// conversation as deleted.
func (s *SQLiteStore) SetParticipantHidden(ctx context.Context, conversationID, userID string, hidden bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE participants SET hidden = ? WHERE conversation_id = ? AND user_id = ?
	`, boolToInt(hidden), conversationID, userID)
	if err != nil {
		return wrapErr("updating participant", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return wrapErr("updating participant", err)
	}
	if affected == 0 {
		return ErrNotMember
	}
	return nil
}

// UnhideParticipants clears the hidden flag for every participant of a
// conversation. New activity makes a deleted direct conversation reappear.
func (s *SQLiteStore) UnhideParticipants(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE participants SET hidden = 0 WHERE conversation_id = ? AND hidden = 1
	`, conversationID)
	return wrapErr("unhiding participants", err)
}

// TransferAdmin atomically moves the admin flag from one participant to
// another. The transaction guarantees the single-admin invariant even under
// concurrent promote calls: the demotion only matches if fromUserID still
// holds the flag, and the whole transfer rolls back otherwise.
func (s *SQLiteStore) TransferAdmin(ctx context.Context, conversationID, fromUserID, toUserID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("beginning transaction", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE participants SET is_admin = 0
		WHERE conversation_id = ? AND user_id = ? AND is_admin = 1
	`, conversationID, fromUserID)
	if err != nil {
		return wrapErr("demoting admin", err)
	}
	demoted, err := res.RowsAffected()
	if err != nil {
		return wrapErr("demoting admin", err)
	}
	if demoted == 0 {
		return fmt.Errorf("%w: actor is not the current admin", ErrPermissionDenied)
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE participants SET is_admin = 1
		WHERE conversation_id = ? AND user_id = ?
	`, conversationID, toUserID)
	if err != nil {
		return wrapErr("promoting member", err)
	}
	promoted, err := res.RowsAffected()
	if err != nil {
		return wrapErr("promoting member", err)
	}
	if promoted == 0 {
		return fmt.Errorf("%w: target is not a participant", ErrInvalidArgument)
	}

	if err := tx.Commit(); err != nil {
		return wrapErr("committing admin transfer", err)
	}

	s.logger.Debug("admin transferred",
		"conversation_id", conversationID,
		"from", fromUserID,
		"to", toUserID)
	return nil
}

// CountParticipants returns the number of participant rows for a conversation
func (s *SQLiteStore) CountParticipants(ctx context.Context, conversationID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM participants WHERE conversation_id = ?
	`, conversationID).Scan(&count)
	if err != nil {
		return 0, wrapErr("counting participants", err)
	}
	return count, nil
}

// scanParticipant scans a participant row via the given scan function
func scanParticipant(scan func(...any) error) (*Participant, error) {
	p := &Participant{}
	var isAdmin, hidden int
	var joinedAt string

	if err := scan(&p.ConversationID, &p.UserID, &isAdmin, &hidden, &joinedAt); err != nil {
		return nil, err
	}

	p.IsAdmin = isAdmin != 0
	p.Hidden = hidden != 0
	var err error
	p.JoinedAt, err = time.Parse(time.RFC3339Nano, joinedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing joined_at: %w", err)
	}
	return p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
