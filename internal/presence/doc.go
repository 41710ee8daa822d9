// Package presence tracks which live sessions are subscribed to which
// conversation rooms and fans events out to exactly those sessions.
//
// # Sessions and Rooms
//
// A Session is one live connection tied to a user; a user with three open
// tabs holds three sessions. A room is the runtime set of sessions subscribed
// to one conversation. Rooms are not persisted: on reconnect a client rejoins
// its rooms and catches up on missed history from the message ledger.
//
// # Delivery Semantics
//
// Publish delivers to every session in the room, including the sender's own
// other sessions, so a second open tab sees its own sent message. Delivery is
// best-effort and at-most-once per session per event:
//
//   - Each session has a bounded outbound channel. A full channel drops the
//     event and flags the session stale instead of blocking the publisher.
//   - A per-session dedupe cache on event IDs suppresses duplicate delivery.
//
// Within one conversation all events flow through the same publish path, so
// for any single session a retraction is never delivered before the append it
// retracts.
//
// # Access Control
//
// Join and Leave are not access-controlled here. Callers must have already
// verified participant status through the membership service.
package presence
