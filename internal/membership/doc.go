// Package membership enforces who may join, leave, promote, and kick, and
// what happens to conversation state as a result.
//
// # Invariants
//
//   - A direct conversation has exactly 2 participants, neither admin, and is
//     unique per user pair (CreateDirect is idempotent in either order).
//   - A live group has exactly one admin at all times. The flag is
//     transferable via PromoteMember and never absent: an admin cannot leave
//     or be kicked, only promote a successor or disband.
//
// # Deletion semantics
//
// Disbanding a group hard-deletes the conversation and its messages for
// everyone. Deleting a direct conversation hides the caller's copy only; the
// row is removed once both sides have deleted it, or when the last
// participant leaves. New activity makes a hidden copy visible again.
//
// # Events
//
// Every membership mutation publishes MembershipChanged{conversationID,
// reason} to the conversation's room. The event is an invalidation signal:
// affected clients re-fetch the participant list rather than receiving
// diffs, keeping fan-out payloads small.
package membership
