// ABOUTME: In-memory room registry mapping conversations to live sessions
// ABOUTME: Non-blocking fan-out of events to every session joined to a room

package presence

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Hub maintains the mapping from conversation IDs to the sessions currently
// subscribed to them, and multiplexes event delivery. The room map is the
// only shared in-memory mutable structure in the core; it is guarded by a
// single RWMutex. Join/Leave are not access-controlled here: callers verify
// participant status before joining.
type Hub struct {
	mu       sync.RWMutex
	rooms    map[string]map[string]*Session // conversationID -> sessionID -> session
	sessions map[string]*Session
	closed   bool
	logger   *slog.Logger
}

// NewHub creates a hub. Pass nil logger for default.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		rooms:    make(map[string]map[string]*Session),
		sessions: make(map[string]*Session),
		logger:   logger.With("component", "presence"),
	}
}

// Connect registers a new session for the user and returns it. The caller
// owns the session for the lifetime of the connection and must call
// Disconnect when the connection drops.
func (h *Hub) Connect(userID string) (*Session, error) {
	s := newSession(userID)

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, fmt.Errorf("hub is closed")
	}
	h.sessions[s.ID] = s

	h.logger.Debug("session connected", "session_id", s.ID, "user_id", userID)
	return s, nil
}

// Join subscribes the session to a conversation's room. Idempotent. Fails
// closed if ctx is already done or the session has disconnected; the client
// must retry.
func (h *Hub) Join(ctx context.Context, s *Session, conversationID string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("join aborted: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return fmt.Errorf("hub is closed")
	}
	if _, ok := h.sessions[s.ID]; !ok {
		return fmt.Errorf("session %s is not connected", s.ID)
	}

	room, ok := h.rooms[conversationID]
	if !ok {
		room = make(map[string]*Session)
		h.rooms[conversationID] = room
	}
	room[s.ID] = s
	s.joinRoom(conversationID)

	h.logger.Debug("session joined room",
		"session_id", s.ID,
		"conversation_id", conversationID)
	return nil
}

// Leave unsubscribes the session from a conversation's room. Idempotent.
func (h *Hub) Leave(s *Session, conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeFromRoomLocked(s, conversationID)
	s.leaveRoom(conversationID)
}

// Disconnect removes the session from every room it had joined and closes its
// event channel. Message history is unaffected; it lives in the store, not
// the hub.
func (h *Hub) Disconnect(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sessions[s.ID]; !ok {
		return
	}
	delete(h.sessions, s.ID)

	for _, conversationID := range s.Rooms() {
		h.removeFromRoomLocked(s, conversationID)
	}
	s.close()

	h.logger.Debug("session disconnected", "session_id", s.ID, "user_id", s.UserID)
}

// Publish delivers the event to every session currently joined to the
// conversation's room, including the sender's own other sessions. Delivery is
// best-effort and at-most-once per session: a full outbound queue drops the
// event and flags the session for catch-up rather than stalling the publisher.
func (h *Hub) Publish(conversationID string, ev Event) {
	h.mu.RLock()
	room, ok := h.rooms[conversationID]
	if !ok || len(room) == 0 {
		h.mu.RUnlock()
		return
	}

	// Copy targets under read lock to avoid holding it during sends
	targets := make([]*Session, 0, len(room))
	for _, s := range room {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		if !s.deliver(ev) {
			h.logger.Warn("dropped event for slow session",
				"session_id", s.ID,
				"conversation_id", conversationID,
				"event_id", ev.ID)
		}
	}
}

// IsViewing reports whether the user has at least one live session joined to
// the conversation's room. Drives the unread policy: messages arriving while
// the user is looking at the conversation do not count as unread.
func (h *Hub) IsViewing(userID, conversationID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	room, ok := h.rooms[conversationID]
	if !ok {
		return false
	}
	for _, s := range room {
		if s.UserID == userID {
			return true
		}
	}
	return false
}

// Close disconnects every session and shuts the hub down
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	for id, s := range h.sessions {
		s.close()
		delete(h.sessions, id)
	}
	h.rooms = make(map[string]map[string]*Session)

	h.logger.Debug("hub closed")
}

// removeFromRoomLocked removes the session from a room's member map and prunes
// empty rooms. Must be called with mu held.
func (h *Hub) removeFromRoomLocked(s *Session, conversationID string) {
	room, ok := h.rooms[conversationID]
	if !ok {
		return
	}
	delete(room, s.ID)
	if len(room) == 0 {
		delete(h.rooms, conversationID)
	}
}
