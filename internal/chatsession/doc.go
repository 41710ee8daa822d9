// Package chatsession provides the per-user façade over the conversation
// core: it is the only component that talks to the store, the message
// ledger, the membership service, and the presence hub together.
//
// # Responsibilities
//
//   - Assemble conversation summaries (last message, unread count) for a
//     requesting user, ordered by most recent activity.
//   - Apply the unread policy on append: a participant with a live session
//     joined to the conversation's room is actively viewing it, so their
//     read marker advances with the message and their count never rises.
//   - Reset unread to exactly zero on MarkRead, which the transport calls
//     when a user actively opens a conversation, never on summary fetch.
//   - Publish message events to the room after the store write commits.
//
// # Consistency
//
// Unread counts are eventually consistent across a user's sessions. Each
// session applies the same pure Reconcile rule to the same event stream, so
// two tabs converge without coordination; counts may transiently disagree
// until the next event reaches both.
//
// # Retries
//
// store.ErrUnavailable is retried exactly once with a short backoff inside
// the coordinator. All other error kinds are permanent and propagate to the
// caller unchanged. Once a write has committed it is never rolled back, even
// if the triggering connection drops before the response is delivered.
package chatsession
