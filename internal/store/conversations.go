// ABOUTME: Conversation CRUD operations for the SQLite store
// ABOUTME: Covers creation with participants, direct-pair lookup, rename, and cascade delete

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreateConversation inserts a conversation and its initial participants in a
// single transaction. Returns ErrConversationExists if a direct conversation
// with the same pair key already exists (callers handle the race by re-reading).
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation, participants []*Participant) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("beginning transaction", err)
	}
	defer tx.Rollback()

	var directKey any
	if conv.DirectKey != "" {
		directKey = conv.DirectKey
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, kind, name, cover_ref, direct_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		conv.ID,
		string(conv.Kind),
		conv.Name,
		conv.CoverRef,
		directKey,
		conv.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConversationExists
		}
		return wrapErr("inserting conversation", err)
	}

	for _, p := range participants {
		if err := insertParticipant(ctx, tx, conv.ID, p); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return wrapErr("committing conversation", err)
	}

	s.logger.Debug("conversation created",
		"conversation_id", conv.ID,
		"kind", conv.Kind,
		"participants", len(participants))
	return nil
}

// GetConversation retrieves a conversation by ID
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, name, cover_ref, direct_key, created_at
		FROM conversations
		WHERE id = ?
	`, id)
	return scanConversation(row)
}

// GetDirectConversation retrieves the direct conversation for a canonical
// pair key (see DirectKey). Returns ErrNotFound if the pair has never talked.
func (s *SQLiteStore) GetDirectConversation(ctx context.Context, directKey string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, name, cover_ref, direct_key, created_at
		FROM conversations
		WHERE direct_key = ?
	`, directKey)
	return scanConversation(row)
}

// RenameConversation updates the display name of a conversation
func (s *SQLiteStore) RenameConversation(ctx context.Context, id, name string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET name = ? WHERE id = ?
	`, name, id)
	if err != nil {
		return wrapErr("renaming conversation", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return wrapErr("renaming conversation", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteConversation removes a conversation. Participants, messages, and read
// markers cascade via foreign keys.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return wrapErr("deleting conversation", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return wrapErr("deleting conversation", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("conversation deleted", "conversation_id", id)
	return nil
}

// scanConversation scans a single conversation row
func scanConversation(row *sql.Row) (*Conversation, error) {
	conv := &Conversation{}
	var directKey sql.NullString
	var createdAt string

	err := row.Scan(&conv.ID, (*string)(&conv.Kind), &conv.Name, &conv.CoverRef, &directKey, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapErr("scanning conversation", err)
	}

	conv.DirectKey = directKey.String
	conv.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return conv, nil
}
