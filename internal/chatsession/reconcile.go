// ABOUTME: Deterministic reconciliation of a local conversation summary
// ABOUTME: Pure function applied identically by every session of a user

package chatsession

import (
	"github.com/flockline/converse/internal/presence"
	"github.com/flockline/converse/internal/store"
)

// Reconcile applies an incoming room event to a user's locally held
// conversation summary and returns the updated summary. It is a pure
// function: every session of the same user applies the same rule to the same
// event stream, so concurrent tabs converge on the same displayed state
// without a central lock.
//
// Rules:
//   - message appended: becomes the last message; unread increments unless
//     the user sent it or is actively viewing the conversation
//   - message retracted: if the retracted message is the displayed last
//     message, its preview becomes the tombstone; position is unchanged
//   - membership changed: invalidation only, the summary is untouched
func Reconcile(sum store.ConversationSummary, selfID string, ev presence.Event, viewing bool) store.ConversationSummary {
	if ev.ConversationID != sum.Conversation.ID {
		return sum
	}

	switch ev.Type {
	case presence.EventMessageAppended:
		if ev.Message == nil {
			return sum
		}
		msg := *ev.Message
		sum.LastMessage = &msg
		if msg.SenderID != selfID && !viewing {
			sum.Unread++
		}

	case presence.EventMessageRetracted:
		if sum.LastMessage != nil && sum.LastMessage.ID == ev.MessageID {
			msg := *sum.LastMessage
			msg.Content = ev.Tombstone
			msg.Retracted = true
			sum.LastMessage = &msg
		}
	}

	return sum
}

// ReconcileMarkRead is the local counterpart of MarkRead: the session that
// opened the conversation resets its own displayed count to zero immediately
// instead of waiting for a round trip.
func ReconcileMarkRead(sum store.ConversationSummary) store.ConversationSummary {
	sum.Unread = 0
	return sum
}
