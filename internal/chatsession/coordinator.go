// ABOUTME: ConversationSessionCoordinator, the per-user facade over the core
// ABOUTME: Summaries, unread policy, retry-once on Unavailable, event publication

package chatsession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/flockline/converse/internal/ledger"
	"github.com/flockline/converse/internal/membership"
	"github.com/flockline/converse/internal/presence"
	"github.com/flockline/converse/internal/store"
)

// defaultRetryBackoff is the pause before the single retry of an operation
// that failed with store.ErrUnavailable.
const defaultRetryBackoff = 100 * time.Millisecond

// CoordinatorStore defines what the coordinator needs from storage
type CoordinatorStore interface {
	GetParticipant(ctx context.Context, conversationID, userID string) (*store.Participant, error)
	ListParticipants(ctx context.Context, conversationID string) ([]*store.Participant, error)
	UnhideParticipants(ctx context.Context, conversationID string) error
	AdvanceReadMarker(ctx context.Context, conversationID, userID string, seq int64) error
	LatestSeq(ctx context.Context, conversationID string) (int64, error)
	ListSummaries(ctx context.Context, userID string) ([]*store.ConversationSummary, error)
}

// Coordinator is the façade the transport layer talks to. It is the only
// component that touches the ledger, the membership service, the presence
// hub, and the store together, and it owns the unread-count policy.
type Coordinator struct {
	store   CoordinatorStore
	ledger  *ledger.Service
	members *membership.Service
	hub     *presence.Hub
	backoff time.Duration
	logger  *slog.Logger

	// publishLocks serializes the commit-to-publish window per conversation:
	// an append holds its conversation's lock from before the store write
	// until the event is on the room, so a concurrent retraction of that
	// message cannot reach any session first.
	mu           sync.Mutex
	publishLocks map[string]*sync.Mutex
}

// New creates a coordinator. Pass nil logger for default.
func New(st CoordinatorStore, led *ledger.Service, members *membership.Service, hub *presence.Hub, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:        st,
		ledger:       led,
		members:      members,
		hub:          hub,
		backoff:      defaultRetryBackoff,
		logger:       logger.With("component", "coordinator"),
		publishLocks: make(map[string]*sync.Mutex),
	}
}

// conversationLock returns the publish-ordering lock for a conversation,
// creating it on first use.
func (c *Coordinator) conversationLock(conversationID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()

	lock, ok := c.publishLocks[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		c.publishLocks[conversationID] = lock
	}
	return lock
}

// withRetry runs fn, retrying exactly once after a short backoff when the
// failure is store.ErrUnavailable. Every other error kind is not transient
// and propagates immediately.
func (c *Coordinator) withRetry(ctx context.Context, op string, fn func() error) error {
	err := fn()
	if err == nil || !errors.Is(err, store.ErrUnavailable) {
		return err
	}

	c.logger.Warn("store unavailable, retrying once", "op", op, "error", err)
	select {
	case <-time.After(c.backoff):
	case <-ctx.Done():
		return ctx.Err()
	}
	return fn()
}

// SendMessage appends a message through the ledger, applies the unread
// policy, and fans the event out to the conversation's room. Participants
// with a live session joined to the room (and the sender) have their read
// markers advanced so the message never counts as unread for them.
func (c *Coordinator) SendMessage(ctx context.Context, conversationID, senderID, content string) (*store.Message, error) {
	// The lock spans append commit through publish: a retraction of this
	// message can commit in between, but its event queues behind ours.
	lock := c.conversationLock(conversationID)
	lock.Lock()

	var msg *store.Message
	err := c.withRetry(ctx, "append", func() error {
		m, err := c.ledger.Append(ctx, conversationID, senderID, content)
		if err != nil {
			return err
		}
		msg = m
		return nil
	})
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	c.hub.Publish(conversationID, presence.NewMessageAppended(msg))
	lock.Unlock()

	// The message is committed and on the room. Everything after this point
	// is best-effort: a failed marker advance or unhide leaves counts to
	// converge on the next read, never rolls back the send.
	participants, err := c.store.ListParticipants(ctx, conversationID)
	if err != nil {
		c.logger.Error("listing participants after append failed",
			"conversation_id", conversationID, "error", err)
	}
	for _, p := range participants {
		if p.UserID != senderID && !c.hub.IsViewing(p.UserID, conversationID) {
			continue
		}
		if err := c.store.AdvanceReadMarker(ctx, conversationID, p.UserID, msg.Seq); err != nil {
			c.logger.Error("advancing read marker failed",
				"conversation_id", conversationID, "user_id", p.UserID, "error", err)
		}
	}

	// New activity makes soft-deleted direct copies reappear
	if err := c.store.UnhideParticipants(ctx, conversationID); err != nil {
		c.logger.Error("unhiding participants failed",
			"conversation_id", conversationID, "error", err)
	}

	return msg, nil
}

// RetractMessage retracts through the ledger and broadcasts the content
// replacement to the room. The publish takes the conversation's ordering
// lock, so it queues behind an in-flight append and no session sees the
// retraction first.
func (c *Coordinator) RetractMessage(ctx context.Context, messageID, actorID string) (*store.Message, error) {
	var msg *store.Message
	err := c.withRetry(ctx, "retract", func() error {
		m, err := c.ledger.Retract(ctx, messageID, actorID)
		if err != nil {
			return err
		}
		msg = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	lock := c.conversationLock(msg.ConversationID)
	lock.Lock()
	c.hub.Publish(msg.ConversationID, presence.NewMessageRetracted(msg))
	lock.Unlock()

	return msg, nil
}

// ListMessages returns a forward-ordered page of a conversation's timeline.
// The caller must be a participant.
func (c *Coordinator) ListMessages(ctx context.Context, conversationID, userID, cursor string, limit int) (*ledger.Page, error) {
	if err := c.requireParticipant(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	var page *ledger.Page
	err := c.withRetry(ctx, "list_messages", func() error {
		p, err := c.ledger.ListSince(ctx, conversationID, cursor, limit)
		if err != nil {
			return err
		}
		page = p
		return nil
	})
	return page, err
}

// ListConversations returns the user's conversation summaries ordered by most
// recent activity descending.
func (c *Coordinator) ListConversations(ctx context.Context, userID string) ([]*store.ConversationSummary, error) {
	var summaries []*store.ConversationSummary
	err := c.withRetry(ctx, "list_conversations", func() error {
		s, err := c.store.ListSummaries(ctx, userID)
		if err != nil {
			return err
		}
		summaries = s
		return nil
	})
	return summaries, err
}

// MarkRead resets the user's unread count for the conversation to zero.
// Callers invoke it when the user actively opens the conversation, not when
// a summary is fetched.
func (c *Coordinator) MarkRead(ctx context.Context, conversationID, userID string) error {
	if err := c.requireParticipant(ctx, conversationID, userID); err != nil {
		return err
	}

	return c.withRetry(ctx, "mark_read", func() error {
		seq, err := c.store.LatestSeq(ctx, conversationID)
		if err != nil {
			return err
		}
		return c.store.AdvanceReadMarker(ctx, conversationID, userID, seq)
	})
}

// Connect registers a live session for the user
func (c *Coordinator) Connect(userID string) (*presence.Session, error) {
	return c.hub.Connect(userID)
}

// Disconnect tears the session down and leaves all its rooms
func (c *Coordinator) Disconnect(s *presence.Session) {
	c.hub.Disconnect(s)
}

// JoinRoom subscribes the session to a conversation's live events after
// verifying the session's user is a participant. The hub itself does not
// access-check.
func (c *Coordinator) JoinRoom(ctx context.Context, s *presence.Session, conversationID string) error {
	if err := c.requireParticipant(ctx, conversationID, s.UserID); err != nil {
		return err
	}
	return c.hub.Join(ctx, s, conversationID)
}

// LeaveRoom unsubscribes the session from a conversation's live events
func (c *Coordinator) LeaveRoom(s *presence.Session, conversationID string) {
	c.hub.Leave(s, conversationID)
}

// Membership pass-throughs. The coordinator is the single entry point for
// the transport layer; each delegation keeps the retry-once policy.

// CreateDirect returns the (possibly pre-existing) direct conversation
func (c *Coordinator) CreateDirect(ctx context.Context, userA, userB string) (*store.Conversation, error) {
	var conv *store.Conversation
	err := c.withRetry(ctx, "create_direct", func() error {
		v, err := c.members.CreateDirect(ctx, userA, userB)
		if err != nil {
			return err
		}
		conv = v
		return nil
	})
	return conv, err
}

// CreateGroup creates a group with the creator as sole admin
func (c *Coordinator) CreateGroup(ctx context.Context, creatorID, name string, memberIDs []string) (*store.Conversation, error) {
	var conv *store.Conversation
	err := c.withRetry(ctx, "create_group", func() error {
		v, err := c.members.CreateGroup(ctx, creatorID, name, memberIDs)
		if err != nil {
			return err
		}
		conv = v
		return nil
	})
	return conv, err
}

// AddMembers adds missing members to a group, skipping existing ones
func (c *Coordinator) AddMembers(ctx context.Context, conversationID, actorID string, userIDs []string) ([]string, error) {
	var added []string
	err := c.withRetry(ctx, "add_members", func() error {
		a, err := c.members.AddMembers(ctx, conversationID, actorID, userIDs)
		if err != nil {
			return err
		}
		added = a
		return nil
	})
	return added, err
}

// RemoveMember kicks a member from a group
func (c *Coordinator) RemoveMember(ctx context.Context, conversationID, actorID, targetID string) error {
	return c.withRetry(ctx, "remove_member", func() error {
		return c.members.RemoveMember(ctx, conversationID, actorID, targetID)
	})
}

// PromoteMember transfers the admin flag to another participant
func (c *Coordinator) PromoteMember(ctx context.Context, conversationID, actorID, targetID string) error {
	return c.withRetry(ctx, "promote_member", func() error {
		return c.members.PromoteMember(ctx, conversationID, actorID, targetID)
	})
}

// LeaveConversation removes the caller from the conversation
func (c *Coordinator) LeaveConversation(ctx context.Context, conversationID, userID string) error {
	return c.withRetry(ctx, "leave", func() error {
		return c.members.Leave(ctx, conversationID, userID)
	})
}

// Disband deletes a group, or the caller's copy of a direct conversation
func (c *Coordinator) Disband(ctx context.Context, conversationID, actorID string) error {
	return c.withRetry(ctx, "disband", func() error {
		return c.members.Disband(ctx, conversationID, actorID)
	})
}

// Rename changes a group's display name
func (c *Coordinator) Rename(ctx context.Context, conversationID, actorID, newName string) error {
	return c.withRetry(ctx, "rename", func() error {
		return c.members.Rename(ctx, conversationID, actorID, newName)
	})
}

// ListParticipants returns a conversation's participants for a member
func (c *Coordinator) ListParticipants(ctx context.Context, conversationID, userID string) ([]*store.Participant, error) {
	if err := c.requireParticipant(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	var participants []*store.Participant
	err := c.withRetry(ctx, "list_participants", func() error {
		ps, err := c.store.ListParticipants(ctx, conversationID)
		if err != nil {
			return err
		}
		participants = ps
		return nil
	})
	return participants, err
}

// requireParticipant verifies membership, mapping non-membership to
// PermissionDenied
func (c *Coordinator) requireParticipant(ctx context.Context, conversationID, userID string) error {
	_, err := c.store.GetParticipant(ctx, conversationID, userID)
	if err == store.ErrNotMember {
		return fmt.Errorf("%w: not a participant of this conversation", store.ErrPermissionDenied)
	}
	if err != nil {
		return fmt.Errorf("checking participant: %w", err)
	}
	return nil
}
