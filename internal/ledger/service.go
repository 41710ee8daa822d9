// ABOUTME: MessageLedger appends messages and enforces the retraction window
// ABOUTME: Produces the authoritative per-conversation message order

package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/flockline/converse/internal/store"
)

// Tombstone is the fixed content shown in place of a retracted message's
// original text. The replacement is one-way.
const Tombstone = "[message retracted]"

// DefaultRetractionWindow is how long after sending a message its sender may
// still retract it.
const DefaultRetractionWindow = time.Hour

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// MessageStore defines what the ledger needs from storage
type MessageStore interface {
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	GetParticipant(ctx context.Context, conversationID, userID string) (*store.Participant, error)
	AppendMessage(ctx context.Context, msg *store.Message) error
	GetMessage(ctx context.Context, id string) (*store.Message, error)
	RetractMessage(ctx context.Context, id, tombstone string) error
	ListMessagesSince(ctx context.Context, conversationID string, afterSeq int64, limit int) ([]*store.Message, error)
}

// Service is the message ledger: the single write path for messages and the
// authority on their order within a conversation.
type Service struct {
	store  MessageStore
	window time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// New creates a ledger service. A non-positive window falls back to
// DefaultRetractionWindow. Pass nil logger for default.
func New(st MessageStore, window time.Duration, logger *slog.Logger) *Service {
	if window <= 0 {
		window = DefaultRetractionWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  st,
		window: window,
		now:    time.Now,
		logger: logger.With("component", "ledger"),
	}
}

// Append records a message from senderID in the conversation. The sender must
// be a participant and the content must be non-empty. The store assigns the
// sequence number that fixes the message's position in the total order.
func (s *Service) Append(ctx context.Context, conversationID, senderID, content string) (*store.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: empty message content", store.ErrInvalidArgument)
	}

	if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
		return nil, fmt.Errorf("resolving conversation: %w", err)
	}

	if _, err := s.store.GetParticipant(ctx, conversationID, senderID); err != nil {
		if err == store.ErrNotMember {
			return nil, fmt.Errorf("%w: sender is not a participant", store.ErrPermissionDenied)
		}
		return nil, fmt.Errorf("checking sender: %w", err)
	}

	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		SentAt:         s.now().UTC(),
	}
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("appending message: %w", err)
	}

	s.logger.Debug("message appended",
		"message_id", msg.ID,
		"conversation_id", conversationID,
		"seq", msg.Seq)
	return msg, nil
}

// Retract replaces the message content with the tombstone if the actor is the
// original sender and the retraction window has not elapsed. Retracting an
// already-retracted message is idempotent for the sender; anyone else is
// denied whether or not the tombstone is already in place.
func (s *Service) Retract(ctx context.Context, messageID, actorID string) (*store.Message, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("resolving message: %w", err)
	}

	if msg.SenderID != actorID {
		return nil, fmt.Errorf("%w: only the sender may retract a message", store.ErrPermissionDenied)
	}

	if msg.Retracted {
		return msg, nil
	}

	if s.now().Sub(msg.SentAt) > s.window {
		return nil, fmt.Errorf("%w: message sent at %s", store.ErrExpired, msg.SentAt.Format(time.RFC3339))
	}

	if err := s.store.RetractMessage(ctx, msg.ID, Tombstone); err != nil {
		return nil, fmt.Errorf("retracting message: %w", err)
	}

	msg.Content = Tombstone
	msg.Retracted = true

	s.logger.Debug("message retracted",
		"message_id", msg.ID,
		"conversation_id", msg.ConversationID)
	return msg, nil
}

// Page is one forward-ordered slice of a conversation's timeline
type Page struct {
	Messages   []*store.Message
	NextCursor string // opaque cursor for the next page, empty if no more
	HasMore    bool
}

// ListSince returns a forward-ordered page of messages starting after the
// given cursor. An empty cursor starts from the beginning of history. The
// page is restartable from any cursor, which serves both the initial full
// load and incremental catch-up after reconnect.
func (s *Service) ListSince(ctx context.Context, conversationID, cursor string, limit int) (*Page, error) {
	afterSeq, err := decodeCursor(cursor)
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	// Fetch limit+1 to detect whether more pages follow
	messages, err := s.store.ListMessagesSince(ctx, conversationID, afterSeq, limit+1)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}

	page := &Page{Messages: messages}
	if len(messages) > limit {
		page.Messages = messages[:limit]
		page.HasMore = true
	}
	if n := len(page.Messages); n > 0 {
		page.NextCursor = encodeCursor(page.Messages[n-1].Seq)
	}
	return page, nil
}

// encodeCursor renders a sequence number as an opaque page cursor
func encodeCursor(seq int64) string {
	return strconv.FormatInt(seq, 10)
}

// decodeCursor parses a page cursor back into a sequence number.
// An empty cursor means the start of history.
func decodeCursor(cursor string) (int64, error) {
	if cursor == "" {
		return 0, nil
	}
	seq, err := strconv.ParseInt(cursor, 10, 64)
	if err != nil || seq < 0 {
		return 0, fmt.Errorf("%w: malformed cursor %q", store.ErrInvalidArgument, cursor)
	}
	return seq, nil
}
