// ABOUTME: Outbound event types fanned out to subscribed sessions
// ABOUTME: Message append/retract and membership-change invalidation signals

package presence

import (
	"github.com/google/uuid"

	"github.com/flockline/converse/internal/store"
)

// EventType categorizes the events delivered to sessions
type EventType string

const (
	// EventMessageAppended carries a newly appended message
	EventMessageAppended EventType = "message_appended"

	// EventMessageRetracted is a content replacement, not a deletion: clients
	// re-render the message as a tombstone without losing its timeline position
	EventMessageRetracted EventType = "message_retracted"

	// EventMembershipChanged is an invalidation signal only; clients re-fetch
	// the participant list rather than receiving a diff
	EventMembershipChanged EventType = "membership_changed"
)

// Event is a single fan-out payload. Exactly one of the type-specific field
// groups is populated, selected by Type.
type Event struct {
	ID             string
	Type           EventType
	ConversationID string

	// message_appended
	Message *store.Message

	// message_retracted
	MessageID string
	Tombstone string

	// membership_changed
	Reason string
}

// NewMessageAppended builds an append event for a persisted message
func NewMessageAppended(msg *store.Message) Event {
	return Event{
		ID:             uuid.New().String(),
		Type:           EventMessageAppended,
		ConversationID: msg.ConversationID,
		Message:        msg,
	}
}

// NewMessageRetracted builds a retraction event for an already-delivered message
func NewMessageRetracted(msg *store.Message) Event {
	return Event{
		ID:             uuid.New().String(),
		Type:           EventMessageRetracted,
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		Tombstone:      msg.Content,
	}
}

// NewMembershipChanged builds a membership invalidation event
func NewMembershipChanged(conversationID, reason string) Event {
	return Event{
		ID:             uuid.New().String(),
		Type:           EventMembershipChanged,
		ConversationID: conversationID,
		Reason:         reason,
	}
}
