// ABOUTME: WebSocket stream endpoint for live conversation events
// ABOUTME: One session per connection, join/leave frames in, room events out

package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/flockline/converse/internal/presence"
)

const (
	// writeWait is the deadline for a single frame write.
	writeWait = 10 * time.Second

	// pongWait is how long a connection may stay silent before it is
	// considered dead; pings go out at pingPeriod to keep it alive.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The platform terminates TLS and authenticates upstream; origin policy
	// is enforced there.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamRequest is a client frame on the stream connection
type StreamRequest struct {
	Action         string `json:"action"` // "join" or "leave"
	ConversationID string `json:"conversation_id"`
}

// StreamFrame is a server frame on the stream connection
type StreamFrame struct {
	Type           string           `json:"type"`
	ConversationID string           `json:"conversation_id,omitempty"`
	Message        *MessageResponse `json:"message,omitempty"`
	MessageID      string           `json:"message_id,omitempty"`
	Tombstone      string           `json:"tombstone,omitempty"`
	Reason         string           `json:"reason,omitempty"`
	Error          string           `json:"error,omitempty"`
}

func toStreamFrame(ev presence.Event) StreamFrame {
	frame := StreamFrame{
		Type:           string(ev.Type),
		ConversationID: ev.ConversationID,
		MessageID:      ev.MessageID,
		Tombstone:      ev.Tombstone,
		Reason:         ev.Reason,
	}
	if ev.Message != nil {
		msg := toMessageResponse(ev.Message)
		frame.Message = &msg
	}
	return frame
}

// handleStream upgrades the request to a WebSocket and ties it to one live
// session. The client sends join/leave frames; the server pushes room events.
// The connection's session is torn down when either side closes.
func (s *Server) handleStream(c *gin.Context) {
	userID := currentUser(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "user_id", userID, "error", err)
		return
	}

	sess, err := s.coord.Connect(userID)
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "connect failed"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	s.logger.Info("stream connected", "user_id", userID, "session_id", sess.ID)

	// Control replies from the read loop share the connection with room
	// events; the write pump is the single writer.
	control := make(chan StreamFrame, 16)
	done := make(chan struct{})
	go s.writePump(conn, sess, control, done)

	s.readPump(c.Request.Context(), conn, sess, control)

	s.coord.Disconnect(sess)
	<-done
	conn.Close()
	s.logger.Info("stream disconnected", "user_id", userID, "session_id", sess.ID)
}

// readPump processes client frames until the connection errors or closes
func (s *Server) readPump(ctx context.Context, conn *websocket.Conn, sess *presence.Session, control chan<- StreamFrame) {
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var req StreamRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("stream read failed", "session_id", sess.ID, "error", err)
			}
			return
		}

		switch req.Action {
		case "join":
			joinCtx, cancel := context.WithTimeout(ctx, s.joinTimeout)
			err := s.coord.JoinRoom(joinCtx, sess, req.ConversationID)
			cancel()

			frame := StreamFrame{Type: "joined", ConversationID: req.ConversationID}
			if err != nil {
				frame = StreamFrame{Type: "join_failed", ConversationID: req.ConversationID, Error: err.Error()}
			}
			select {
			case control <- frame:
			default:
			}

		case "leave":
			s.coord.LeaveRoom(sess, req.ConversationID)
			select {
			case control <- StreamFrame{Type: "left", ConversationID: req.ConversationID}:
			default:
			}

		default:
			select {
			case control <- StreamFrame{Type: "error", Error: "unknown action"}:
			default:
			}
		}
	}
}

// writePump is the single writer on the connection: it merges room events and
// control replies, and keeps the connection alive with pings. When delivery
// was dropped for this session it tells the client to resync via listing.
func (s *Server) writePump(conn *websocket.Conn, sess *presence.Session, control <-chan StreamFrame, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	write := func(frame StreamFrame) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(frame) == nil
	}

	for {
		select {
		case ev, ok := <-sess.Events():
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if !write(toStreamFrame(ev)) {
				return
			}
			if sess.NeedsResync() {
				if !write(StreamFrame{Type: "resync"}) {
					return
				}
				sess.ClearResync()
			}

		case frame := <-control:
			if !write(frame) {
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
