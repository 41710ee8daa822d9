// ABOUTME: Tests for message persistence
// ABOUTME: Covers seq assignment, ordering, retraction, and forward listing

package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// appendMessage inserts a message and returns it with the assigned seq.
func appendMessage(t *testing.T, s *SQLiteStore, convID, sender, content string) *Message {
	t.Helper()
	msg := &Message{
		ID:             fmt.Sprintf("msg-%s-%d", convID, time.Now().UnixNano()),
		ConversationID: convID,
		SenderID:       sender,
		Content:        content,
		SentAt:         time.Now().UTC(),
	}
	require.NoError(t, s.AppendMessage(context.Background(), msg))
	return msg
}

func TestStore_AppendMessage_AssignsIncreasingSeq(t *testing.T) {
	store := setupTestStore(t)

	newGroup(t, store, "conv-1", "alice", "bob")

	var last int64
	for i := 0; i < 5; i++ {
		msg := appendMessage(t, store, "conv-1", "alice", fmt.Sprintf("message %d", i))
		assert.Greater(t, msg.Seq, last)
		last = msg.Seq
	}
}

func TestStore_GetMessage(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	newGroup(t, store, "conv-1", "alice", "bob")
	msg := appendMessage(t, store, "conv-1", "alice", "hello")

	got, err := store.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, "hello", got.Content)
	assert.Equal(t, msg.Seq, got.Seq)
	assert.False(t, got.Retracted)

	_, err = store.GetMessage(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_RetractMessage(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	newGroup(t, store, "conv-1", "alice", "bob")
	msg := appendMessage(t, store, "conv-1", "alice", "secret")

	require.NoError(t, store.RetractMessage(ctx, msg.ID, "[message retracted]"))

	got, err := store.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, got.Retracted)
	assert.Equal(t, "[message retracted]", got.Content)
	// Retraction replaces content, never position
	assert.Equal(t, msg.Seq, got.Seq)

	err = store.RetractMessage(ctx, "missing", "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ListMessagesSince(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	newGroup(t, store, "conv-1", "alice", "bob")
	var msgs []*Message
	for i := 0; i < 5; i++ {
		msgs = append(msgs, appendMessage(t, store, "conv-1", "alice", fmt.Sprintf("m%d", i)))
	}

	// From the beginning
	got, err := store.ListMessagesSince(ctx, "conv-1", 0, 10)
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i].Seq, got[i-1].Seq)
	}

	// After the second message
	got, err = store.ListMessagesSince(ctx, "conv-1", msgs[1].Seq, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, msgs[2].ID, got[0].ID)

	// Limit applies
	got, err = store.ListMessagesSince(ctx, "conv-1", 0, 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	// Other conversations do not leak in
	newGroup(t, store, "conv-2", "alice", "carol")
	appendMessage(t, store, "conv-2", "carol", "elsewhere")
	got, err = store.ListMessagesSince(ctx, "conv-1", 0, 10)
	require.NoError(t, err)
	assert.Len(t, got, 5)
}

func TestStore_LatestSeq(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	newGroup(t, store, "conv-1", "alice", "bob")

	seq, err := store.LatestSeq(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), seq)

	msg := appendMessage(t, store, "conv-1", "alice", "hello")

	seq, err = store.LatestSeq(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, msg.Seq, seq)
}
