// Package ledger is the single write path for conversation messages.
//
// # Ordering
//
// Every append receives a store-assigned sequence number; within one
// conversation the sequence is a total, stable order that all connected
// participants observe identically. Across conversations there is no
// ordering relationship.
//
// # Retraction
//
// A sender may retract their own message within a fixed window (one hour by
// default). Retraction replaces the content with a tombstone and flips the
// retracted flag; the message keeps its sequence position and timestamp.
// The transition is one-way, and retracting twice is idempotent.
//
// # Paging
//
// ListSince returns forward-ordered pages keyed by an opaque cursor, serving
// both initial history load and catch-up after a reconnect or a dropped
// delivery.
package ledger
