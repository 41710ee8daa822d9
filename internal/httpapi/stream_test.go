// ABOUTME: Tests for the WebSocket stream endpoint
// ABOUTME: Covers join acks, live delivery, retraction frames, and access checks

package httpapi

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dialStream opens a stream connection for the given user.
func dialStream(t *testing.T, srv *httptest.Server, user string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/stream"
	header := http.Header{"X-User-ID": []string{user}}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readFrame reads one server frame with a deadline.
func readFrame(t *testing.T, conn *websocket.Conn) StreamFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame StreamFrame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestStream_JoinAndReceive(t *testing.T) {
	srv := setupServer(t)

	conv := createGroup(t, srv, "alice", "trip", "bob")

	conn := dialStream(t, srv, "bob")
	require.NoError(t, conn.WriteJSON(StreamRequest{Action: "join", ConversationID: conv.ID}))

	frame := readFrame(t, conn)
	assert.Equal(t, "joined", frame.Type)
	assert.Equal(t, conv.ID, frame.ConversationID)

	// A message sent over REST arrives on the stream
	var msg MessageResponse
	resp := doJSON(t, srv, "alice", http.MethodPost,
		fmt.Sprintf("/api/conversations/%s/messages", conv.ID),
		SendMessageRequest{Content: "ping"}, &msg)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	frame = readFrame(t, conn)
	assert.Equal(t, "message_appended", frame.Type)
	require.NotNil(t, frame.Message)
	assert.Equal(t, msg.ID, frame.Message.ID)
	assert.Equal(t, "ping", frame.Message.Content)
}

func TestStream_JoinDenied(t *testing.T) {
	srv := setupServer(t)

	conv := createGroup(t, srv, "alice", "trip", "bob")

	conn := dialStream(t, srv, "mallory")
	require.NoError(t, conn.WriteJSON(StreamRequest{Action: "join", ConversationID: conv.ID}))

	frame := readFrame(t, conn)
	assert.Equal(t, "join_failed", frame.Type)
	assert.NotEmpty(t, frame.Error)
}

func TestStream_RetractionFrame(t *testing.T) {
	srv := setupServer(t)

	conv := createGroup(t, srv, "alice", "trip", "bob")

	var msg MessageResponse
	resp := doJSON(t, srv, "alice", http.MethodPost,
		fmt.Sprintf("/api/conversations/%s/messages", conv.ID),
		SendMessageRequest{Content: "oops"}, &msg)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	conn := dialStream(t, srv, "bob")
	require.NoError(t, conn.WriteJSON(StreamRequest{Action: "join", ConversationID: conv.ID}))
	require.Equal(t, "joined", readFrame(t, conn).Type)

	resp = doJSON(t, srv, "alice", http.MethodPost, "/api/messages/"+msg.ID+"/retract", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	frame := readFrame(t, conn)
	assert.Equal(t, "message_retracted", frame.Type)
	assert.Equal(t, msg.ID, frame.MessageID)
	assert.NotEmpty(t, frame.Tombstone)
}

func TestStream_LeaveStopsDelivery(t *testing.T) {
	srv := setupServer(t)

	conv := createGroup(t, srv, "alice", "trip", "bob")

	conn := dialStream(t, srv, "bob")
	require.NoError(t, conn.WriteJSON(StreamRequest{Action: "join", ConversationID: conv.ID}))
	require.Equal(t, "joined", readFrame(t, conn).Type)

	require.NoError(t, conn.WriteJSON(StreamRequest{Action: "leave", ConversationID: conv.ID}))
	require.Equal(t, "left", readFrame(t, conn).Type)

	resp := doJSON(t, srv, "alice", http.MethodPost,
		fmt.Sprintf("/api/conversations/%s/messages", conv.ID),
		SendMessageRequest{Content: "ping"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	var frame StreamFrame
	err := conn.ReadJSON(&frame)
	assert.Error(t, err, "no frames after leaving the room")
}

func TestStream_UnknownAction(t *testing.T) {
	srv := setupServer(t)

	conn := dialStream(t, srv, "alice")
	require.NoError(t, conn.WriteJSON(StreamRequest{Action: "dance"}))

	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame.Type)
}

func TestStream_RequiresIdentity(t *testing.T) {
	srv := setupServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	if conn != nil {
		conn.Close()
	}
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
