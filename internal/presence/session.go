// ABOUTME: Session represents one live client connection and its joined rooms
// ABOUTME: Bounded outbound queue with drop-on-full and at-most-once delivery

package presence

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/flockline/converse/internal/dedupe"
)

const (
	// sessionBufferSize is the outbound channel buffer for each session.
	sessionBufferSize = 64

	// seenTTL and seenMaxSize bound the per-session delivery dedupe cache.
	seenTTL     = 5 * time.Minute
	seenMaxSize = 4096
)

// Session is one live connection tied to a user. A user may hold several
// concurrent sessions (tabs, devices). The value is owned by the connection
// lifecycle: created on connect, destroyed on disconnect, never shared as a
// module-level singleton.
type Session struct {
	ID     string
	UserID string

	events chan Event
	seen   *dedupe.Cache

	mu     sync.Mutex
	rooms  map[string]struct{}
	closed bool

	// stale is set when an event had to be dropped because the outbound
	// queue was full; the client must catch up via message listing.
	stale atomic.Bool
}

// newSession creates a session for the given user
func newSession(userID string) *Session {
	return &Session{
		ID:     uuid.New().String(),
		UserID: userID,
		events: make(chan Event, sessionBufferSize),
		seen:   dedupe.New(seenTTL, seenMaxSize),
		rooms:  make(map[string]struct{}),
	}
}

// Events returns the channel the connection's write loop drains.
// The channel is closed when the session disconnects.
func (s *Session) Events() <-chan Event {
	return s.events
}

// NeedsResync reports whether delivery was dropped for this session since the
// last ClearResync. A stale session must catch up via ListSince.
func (s *Session) NeedsResync() bool {
	return s.stale.Load()
}

// ClearResync resets the stale flag after the client has caught up
func (s *Session) ClearResync() {
	s.stale.Store(false)
}

// Rooms returns a snapshot of the conversation IDs this session has joined
func (s *Session) Rooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	rooms := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		rooms = append(rooms, id)
	}
	return rooms
}

// deliver attempts a non-blocking send of the event to the session. Events
// already seen by this session are silently dropped (at-most-once). Returns
// false when the outbound queue is full; the session is then flagged stale.
func (s *Session) deliver(ev Event) bool {
	if s.seen.CheckAndMark(ev.ID) {
		return true
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	select {
	case s.events <- ev:
		s.mu.Unlock()
		return true
	default:
		s.mu.Unlock()
		s.stale.Store(true)
		return false
	}
}

// joinRoom records room membership on the session side. Idempotent.
func (s *Session) joinRoom(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[conversationID] = struct{}{}
}

// leaveRoom removes room membership on the session side. Idempotent.
func (s *Session) leaveRoom(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, conversationID)
}

// close shuts the session's event channel and delivery cache. Safe to call
// once; the hub guards against double disconnect.
func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
	s.seen.Close()
}
