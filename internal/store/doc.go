// Package store provides persistent storage for the conversation core using SQLite.
//
// # Data Models
//
//   - Conversation: direct (1:1) or group channel
//   - Participant: (conversation, user) membership row with admin flag
//   - Message: sequence-ordered timeline entry with retraction tombstone
//   - ConversationSummary: per-user derived view (last message, unread count)
//
// # Ordering
//
// Messages carry a store-assigned AUTOINCREMENT sequence number. Within one
// conversation the sequence is the authoritative total order; ties between
// concurrent senders resolve by insertion order at the database. Read markers
// record the highest sequence a user has read, and unread counts derive from
// the marker rather than being stored counters.
//
// # Invariants enforced here
//
//   - A direct conversation pair is unique: conversations.direct_key carries a
//     UNIQUE index over the canonical "min|max" user pair, so concurrent
//     CreateDirect calls collapse onto one row.
//   - Exactly one admin per group: TransferAdmin demotes and promotes inside a
//     single transaction and refuses to commit a transfer whose demotion
//     matched no row.
//   - Read markers only move forward: AdvanceReadMarker upserts with
//     MAX(last_read_seq, new).
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Participants, messages, and read markers cascade on conversation delete.
//
// # Error Handling
//
// The package declares the sentinel error taxonomy shared by all services:
// ErrNotFound, ErrPermissionDenied, ErrInvalidArgument, ErrExpired,
// ErrAlreadyMember, ErrNotMember, ErrUnavailable (retryable), and
// ErrConversationExists. Lock contention from the driver is normalized to
// ErrUnavailable so the session coordinator can retry.
//
// # Testing
//
// Use NewSQLiteStore(":memory:") for tests; the schema is created
// automatically on open.
package store
