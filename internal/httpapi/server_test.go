// ABOUTME: Tests for the REST surface
// ABOUTME: Covers routing, identity enforcement, and the error-to-status mapping

package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flockline/converse/internal/chatsession"
	"github.com/flockline/converse/internal/ledger"
	"github.com/flockline/converse/internal/membership"
	"github.com/flockline/converse/internal/presence"
	"github.com/flockline/converse/internal/store"
)

func setupServer(t *testing.T) *httptest.Server {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	hub := presence.NewHub(nil)
	t.Cleanup(hub.Close)

	led := ledger.New(st, time.Hour, nil)
	members := membership.New(st, hub, nil)
	coord := chatsession.New(st, led, members, hub, nil)

	srv := httptest.NewServer(New(coord, time.Second, nil).Handler())
	t.Cleanup(srv.Close)
	return srv
}

// doJSON performs a request as the given user and decodes the JSON response.
func doJSON(t *testing.T, srv *httptest.Server, user, method, path string, body, out any) *http.Response {
	t.Helper()

	var reqBody *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewReader(data)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, srv.URL+path, reqBody)
	require.NoError(t, err)
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func createGroup(t *testing.T, srv *httptest.Server, creator, name string, members ...string) ConversationResponse {
	t.Helper()
	var conv ConversationResponse
	resp := doJSON(t, srv, creator, http.MethodPost, "/api/conversations/group",
		CreateGroupRequest{Name: name, MemberIDs: members}, &conv)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return conv
}

func TestHealthz(t *testing.T) {
	srv := setupServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMissingIdentity(t *testing.T) {
	srv := setupServer(t)

	resp := doJSON(t, srv, "", http.MethodGet, "/api/conversations", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateDirect(t *testing.T) {
	srv := setupServer(t)

	var conv ConversationResponse
	resp := doJSON(t, srv, "alice", http.MethodPost, "/api/conversations/direct",
		CreateDirectRequest{PeerID: "bob"}, &conv)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "direct", conv.Kind)
	assert.NotEmpty(t, conv.ID)

	// Opening the pair again returns the same conversation
	var again ConversationResponse
	resp = doJSON(t, srv, "bob", http.MethodPost, "/api/conversations/direct",
		CreateDirectRequest{PeerID: "alice"}, &again)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, conv.ID, again.ID)
}

func TestCreateDirect_SelfIsBadRequest(t *testing.T) {
	srv := setupServer(t)

	resp := doJSON(t, srv, "alice", http.MethodPost, "/api/conversations/direct",
		CreateDirectRequest{PeerID: "alice"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGroupLifecycle(t *testing.T) {
	srv := setupServer(t)

	conv := createGroup(t, srv, "alice", "trip", "bob", "carol")

	// Send a couple of messages
	var msg MessageResponse
	resp := doJSON(t, srv, "alice", http.MethodPost,
		fmt.Sprintf("/api/conversations/%s/messages", conv.ID),
		SendMessageRequest{Content: "hello all"}, &msg)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Positive(t, msg.Seq)

	resp = doJSON(t, srv, "bob", http.MethodPost,
		fmt.Sprintf("/api/conversations/%s/messages", conv.ID),
		SendMessageRequest{Content: "hi"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Carol lists them in order
	var page PageResponse
	resp = doJSON(t, srv, "carol", http.MethodGet,
		fmt.Sprintf("/api/conversations/%s/messages", conv.ID), nil, &page)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "hello all", page.Messages[0].Content)
	assert.False(t, page.HasMore)

	// Summaries carry the unread count
	var list struct {
		Conversations []SummaryResponse `json:"conversations"`
	}
	resp = doJSON(t, srv, "carol", http.MethodGet, "/api/conversations", nil, &list)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, list.Conversations, 1)
	assert.Equal(t, 2, list.Conversations[0].Unread)
	assert.Equal(t, "hi", list.Conversations[0].LastMessage.Content)

	// Mark read
	resp = doJSON(t, srv, "carol", http.MethodPost,
		fmt.Sprintf("/api/conversations/%s/read", conv.ID), nil, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, srv, "carol", http.MethodGet, "/api/conversations", nil, &list)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Zero(t, list.Conversations[0].Unread)

	// Rename and disband as admin
	resp = doJSON(t, srv, "alice", http.MethodPatch, "/api/conversations/"+conv.ID,
		RenameRequest{Name: "summer trip"}, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, srv, "alice", http.MethodDelete, "/api/conversations/"+conv.ID, nil, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, srv, "carol", http.MethodGet,
		fmt.Sprintf("/api/conversations/%s/messages", conv.ID), nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMembershipEndpoints(t *testing.T) {
	srv := setupServer(t)

	conv := createGroup(t, srv, "alice", "trip", "bob")

	// Add members
	var addResp struct {
		Added []string `json:"added"`
	}
	resp := doJSON(t, srv, "alice", http.MethodPost,
		fmt.Sprintf("/api/conversations/%s/members", conv.ID),
		AddMembersRequest{UserIDs: []string{"carol", "bob"}}, &addResp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"carol"}, addResp.Added)

	// Non-admin add is forbidden
	resp = doJSON(t, srv, "bob", http.MethodPost,
		fmt.Sprintf("/api/conversations/%s/members", conv.ID),
		AddMembersRequest{UserIDs: []string{"dave"}}, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Promote, then the old admin leaves
	resp = doJSON(t, srv, "alice", http.MethodPost,
		fmt.Sprintf("/api/conversations/%s/promote", conv.ID),
		PromoteRequest{UserID: "bob"}, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, srv, "alice", http.MethodPost,
		fmt.Sprintf("/api/conversations/%s/leave", conv.ID), nil, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Kick carol
	resp = doJSON(t, srv, "bob", http.MethodDelete,
		fmt.Sprintf("/api/conversations/%s/members/carol", conv.ID), nil, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	var partResp struct {
		Participants []ParticipantResponse `json:"participants"`
	}
	resp = doJSON(t, srv, "bob", http.MethodGet,
		fmt.Sprintf("/api/conversations/%s/participants", conv.ID), nil, &partResp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, partResp.Participants, 1)
	assert.Equal(t, "bob", partResp.Participants[0].UserID)
	assert.True(t, partResp.Participants[0].IsAdmin)
}

func TestRetractEndpoint(t *testing.T) {
	srv := setupServer(t)

	conv := createGroup(t, srv, "alice", "trip", "bob")

	var msg MessageResponse
	resp := doJSON(t, srv, "alice", http.MethodPost,
		fmt.Sprintf("/api/conversations/%s/messages", conv.ID),
		SendMessageRequest{Content: "oops"}, &msg)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Someone else's retraction is forbidden
	resp = doJSON(t, srv, "bob", http.MethodPost, "/api/messages/"+msg.ID+"/retract", nil, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	var retracted MessageResponse
	resp = doJSON(t, srv, "alice", http.MethodPost, "/api/messages/"+msg.ID+"/retract", nil, &retracted)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, retracted.Retracted)
	assert.Equal(t, msg.Seq, retracted.Seq)
}

func TestErrorStatuses(t *testing.T) {
	srv := setupServer(t)

	conv := createGroup(t, srv, "alice", "trip", "bob")

	// Outsider listing messages: 403
	resp := doJSON(t, srv, "mallory", http.MethodGet,
		fmt.Sprintf("/api/conversations/%s/messages", conv.ID), nil, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Unknown conversation: 404
	resp = doJSON(t, srv, "alice", http.MethodGet, "/api/conversations/missing/messages", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Kicking a non-member: 409
	resp = doJSON(t, srv, "alice", http.MethodDelete,
		fmt.Sprintf("/api/conversations/%s/members/mallory", conv.ID), nil, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Empty message: 400
	resp = doJSON(t, srv, "alice", http.MethodPost,
		fmt.Sprintf("/api/conversations/%s/messages", conv.ID),
		SendMessageRequest{Content: "  "}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Bad limit: 400
	resp = doJSON(t, srv, "alice", http.MethodGet,
		fmt.Sprintf("/api/conversations/%s/messages?limit=abc", conv.ID), nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusFromError(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{store.ErrInvalidArgument, http.StatusBadRequest},
		{store.ErrPermissionDenied, http.StatusForbidden},
		{store.ErrNotFound, http.StatusNotFound},
		{store.ErrAlreadyMember, http.StatusConflict},
		{store.ErrNotMember, http.StatusConflict},
		{store.ErrExpired, http.StatusGone},
		{store.ErrUnavailable, http.StatusServiceUnavailable},
		{fmt.Errorf("wrapped: %w", store.ErrExpired), http.StatusGone},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFromError(tc.err), "error %v", tc.err)
	}
}

func TestRetractAfterWindow_Gone(t *testing.T) {
	// A ledger with a tiny window makes the expiry path reachable over HTTP
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	hub := presence.NewHub(nil)
	t.Cleanup(hub.Close)

	led := ledger.New(st, time.Millisecond, nil)
	members := membership.New(st, hub, nil)
	coord := chatsession.New(st, led, members, hub, nil)
	srv := httptest.NewServer(New(coord, time.Second, nil).Handler())
	t.Cleanup(srv.Close)

	conv := createGroup(t, srv, "alice", "trip", "bob")

	var msg MessageResponse
	resp := doJSON(t, srv, "alice", http.MethodPost,
		fmt.Sprintf("/api/conversations/%s/messages", conv.ID),
		SendMessageRequest{Content: "too slow"}, &msg)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	time.Sleep(10 * time.Millisecond)

	resp = doJSON(t, srv, "alice", http.MethodPost, "/api/messages/"+msg.ID+"/retract", nil, nil)
	assert.Equal(t, http.StatusGone, resp.StatusCode)
}
