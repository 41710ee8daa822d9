// ABOUTME: Store interface and data types for converse persistence
// ABOUTME: Defines Conversation, Participant, Message structs and the error taxonomy

package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Error taxonomy returned by the store and the services built on it.
// Services wrap these with fmt.Errorf("...: %w", err); callers test with errors.Is.
var (
	// ErrNotFound is returned when a conversation, message, or participant does not exist
	ErrNotFound = errors.New("not found")

	// ErrPermissionDenied is returned when a role or ownership check fails
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInvalidArgument is returned on malformed or contradictory input
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrExpired is returned when the retraction window has elapsed
	ErrExpired = errors.New("retraction window expired")

	// ErrAlreadyMember is returned when a user is already a participant
	ErrAlreadyMember = errors.New("already a member")

	// ErrNotMember is returned when a user is not a participant
	ErrNotMember = errors.New("not a member")

	// ErrUnavailable is returned when the store is temporarily unreachable; retryable
	ErrUnavailable = errors.New("store unavailable")

	// ErrConversationExists is returned when creating a direct conversation
	// that already exists for the pair (UNIQUE constraint on direct_key)
	ErrConversationExists = errors.New("conversation already exists")
)

// ConversationKind distinguishes one-to-one from group conversations
type ConversationKind string

const (
	KindDirect ConversationKind = "direct"
	KindGroup  ConversationKind = "group"
)

// Conversation is a direct or group channel containing ordered messages
// and a participant set.
type Conversation struct {
	ID        string
	Kind      ConversationKind
	Name      string // group only
	CoverRef  string // optional cover image reference
	DirectKey string // canonical pair key for direct conversations, empty for groups
	CreatedAt time.Time
}

// Participant is a (conversation, user) pair. IsAdmin is meaningful for groups
// only, where exactly one participant holds it at all times. Hidden marks a
// direct conversation as deleted for this participant's view.
type Participant struct {
	ConversationID string
	UserID         string
	IsAdmin        bool
	Hidden         bool
	JoinedAt       time.Time
}

// Message is a single entry in a conversation's timeline. Seq is assigned by
// the store at insert and is the authoritative total order within a
// conversation; ties between concurrent senders resolve by insertion order.
type Message struct {
	Seq            int64
	ID             string
	ConversationID string
	SenderID       string
	Content        string
	SentAt         time.Time
	Retracted      bool
}

// ConversationSummary is the per-user derived view of a conversation:
// last message preview plus that user's unread count. Recomputed from
// message and read-marker state, never independently authoritative.
type ConversationSummary struct {
	Conversation Conversation
	LastMessage  *Message
	Unread       int
}

// DirectKey builds the canonical lookup key for a direct conversation
// between two users, independent of argument order.
func DirectKey(userA, userB string) string {
	if strings.Compare(userA, userB) > 0 {
		userA, userB = userB, userA
	}
	return userA + "|" + userB
}

// Store defines the interface for conversation, participant, and message
// persistence.
type Store interface {
	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation, participants []*Participant) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	GetDirectConversation(ctx context.Context, directKey string) (*Conversation, error)
	RenameConversation(ctx context.Context, id, name string) error
	DeleteConversation(ctx context.Context, id string) error

	// Participants
	GetParticipant(ctx context.Context, conversationID, userID string) (*Participant, error)
	ListParticipants(ctx context.Context, conversationID string) ([]*Participant, error)
	AddParticipants(ctx context.Context, conversationID string, participants []*Participant) error
	RemoveParticipant(ctx context.Context, conversationID, userID string) error
	SetParticipantHidden(ctx context.Context, conversationID, userID string, hidden bool) error
	UnhideParticipants(ctx context.Context, conversationID string) error
	TransferAdmin(ctx context.Context, conversationID, fromUserID, toUserID string) error
	CountParticipants(ctx context.Context, conversationID string) (int, error)

	// Messages
	AppendMessage(ctx context.Context, msg *Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	RetractMessage(ctx context.Context, id, tombstone string) error
	ListMessagesSince(ctx context.Context, conversationID string, afterSeq int64, limit int) ([]*Message, error)
	LatestSeq(ctx context.Context, conversationID string) (int64, error)

	// Read markers and summaries
	AdvanceReadMarker(ctx context.Context, conversationID, userID string, seq int64) error
	UnreadCount(ctx context.Context, conversationID, userID string) (int, error)
	ListSummaries(ctx context.Context, userID string) ([]*ConversationSummary, error)

	// Close releases any resources held by the store
	Close() error
}
