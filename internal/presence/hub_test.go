// ABOUTME: Tests for the presence hub's room registry and event fan-out
// ABOUTME: Covers join/leave, delivery, dedupe, slow sessions, and IsViewing

package presence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flockline/converse/internal/store"
)

func testMessage(convID, sender, content string) *store.Message {
	return &store.Message{
		Seq:            1,
		ID:             "msg-" + content,
		ConversationID: convID,
		SenderID:       sender,
		Content:        content,
		SentAt:         time.Now().UTC(),
	}
}

// recv waits briefly for one event on the session channel.
func recv(t *testing.T, s *Session) Event {
	t.Helper()
	select {
	case ev := <-s.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestHub_PublishToJoinedSessions(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	alice, err := hub.Connect("alice")
	require.NoError(t, err)
	bob, err := hub.Connect("bob")
	require.NoError(t, err)

	require.NoError(t, hub.Join(context.Background(), alice, "conv-1"))
	require.NoError(t, hub.Join(context.Background(), bob, "conv-1"))

	ev := NewMessageAppended(testMessage("conv-1", "alice", "hello"))
	hub.Publish("conv-1", ev)

	got := recv(t, alice)
	assert.Equal(t, ev.ID, got.ID)
	assert.Equal(t, EventMessageAppended, got.Type)

	got = recv(t, bob)
	assert.Equal(t, ev.ID, got.ID)
}

func TestHub_PublishSkipsOtherRooms(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	alice, err := hub.Connect("alice")
	require.NoError(t, err)
	require.NoError(t, hub.Join(context.Background(), alice, "conv-1"))

	hub.Publish("conv-2", NewMessageAppended(testMessage("conv-2", "bob", "elsewhere")))

	select {
	case ev := <-alice.Events():
		t.Fatalf("unexpected event: %v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_MultipleSessionsPerUser(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	tab1, err := hub.Connect("alice")
	require.NoError(t, err)
	tab2, err := hub.Connect("alice")
	require.NoError(t, err)

	require.NoError(t, hub.Join(context.Background(), tab1, "conv-1"))
	require.NoError(t, hub.Join(context.Background(), tab2, "conv-1"))

	ev := NewMessageAppended(testMessage("conv-1", "bob", "hi"))
	hub.Publish("conv-1", ev)

	// Both of the user's sessions receive the event independently
	assert.Equal(t, ev.ID, recv(t, tab1).ID)
	assert.Equal(t, ev.ID, recv(t, tab2).ID)
}

func TestHub_DuplicatePublishDeliveredOnce(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	alice, err := hub.Connect("alice")
	require.NoError(t, err)
	require.NoError(t, hub.Join(context.Background(), alice, "conv-1"))

	ev := NewMessageAppended(testMessage("conv-1", "bob", "hi"))
	hub.Publish("conv-1", ev)
	hub.Publish("conv-1", ev)

	assert.Equal(t, ev.ID, recv(t, alice).ID)
	select {
	case dup := <-alice.Events():
		t.Fatalf("duplicate delivery: %v", dup)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_Leave(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	alice, err := hub.Connect("alice")
	require.NoError(t, err)
	require.NoError(t, hub.Join(context.Background(), alice, "conv-1"))

	hub.Leave(alice, "conv-1")
	// Leaving twice is fine
	hub.Leave(alice, "conv-1")

	hub.Publish("conv-1", NewMessageAppended(testMessage("conv-1", "bob", "hi")))

	select {
	case ev := <-alice.Events():
		t.Fatalf("event after leave: %v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_DisconnectClosesEvents(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	alice, err := hub.Connect("alice")
	require.NoError(t, err)
	require.NoError(t, hub.Join(context.Background(), alice, "conv-1"))

	hub.Disconnect(alice)

	_, ok := <-alice.Events()
	assert.False(t, ok, "events channel closes on disconnect")
	assert.False(t, hub.IsViewing("alice", "conv-1"))

	// Double disconnect is harmless
	hub.Disconnect(alice)
}

func TestHub_JoinFailsClosedOnDoneContext(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	alice, err := hub.Connect("alice")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = hub.Join(ctx, alice, "conv-1")
	require.Error(t, err)
	assert.False(t, hub.IsViewing("alice", "conv-1"), "failed join leaves no partial membership")
}

func TestHub_JoinAfterDisconnect(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	alice, err := hub.Connect("alice")
	require.NoError(t, err)
	hub.Disconnect(alice)

	err = hub.Join(context.Background(), alice, "conv-1")
	assert.Error(t, err)
}

func TestHub_IsViewing(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	alice, err := hub.Connect("alice")
	require.NoError(t, err)

	assert.False(t, hub.IsViewing("alice", "conv-1"))

	require.NoError(t, hub.Join(context.Background(), alice, "conv-1"))
	assert.True(t, hub.IsViewing("alice", "conv-1"))
	assert.False(t, hub.IsViewing("bob", "conv-1"))
}

func TestHub_SlowSessionFlaggedStale(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	alice, err := hub.Connect("alice")
	require.NoError(t, err)
	require.NoError(t, hub.Join(context.Background(), alice, "conv-1"))

	// Fill the outbound queue without draining it
	for i := 0; i < sessionBufferSize+10; i++ {
		msg := testMessage("conv-1", "bob", "flood")
		msg.ID = msg.ID + "-" + string(rune('a'+i%26)) + string(rune('a'+i/26))
		hub.Publish("conv-1", NewMessageAppended(msg))
	}

	assert.True(t, alice.NeedsResync(), "overflow flags the session for catch-up")

	alice.ClearResync()
	assert.False(t, alice.NeedsResync())
}

func TestHub_ConnectAfterClose(t *testing.T) {
	hub := NewHub(nil)
	hub.Close()

	_, err := hub.Connect("alice")
	assert.Error(t, err)
}
