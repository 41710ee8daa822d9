// ABOUTME: HTTP surface of the conversation core, consumed by the CRUD web layer
// ABOUTME: gin routes for membership, messaging, summaries, and the stream upgrade

package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/flockline/converse/internal/chatsession"
	"github.com/flockline/converse/internal/store"
)

// defaultJoinTimeout bounds how long a stream join request may take before it
// fails closed and the client must retry.
const defaultJoinTimeout = 5 * time.Second

// Server exposes the conversation core over HTTP. Authentication is external:
// the surrounding platform verifies the user and forwards the identity in the
// X-User-ID header.
type Server struct {
	coord       *chatsession.Coordinator
	joinTimeout time.Duration
	logger      *slog.Logger
	router      *gin.Engine
}

// New creates the HTTP server. A non-positive joinTimeout falls back to the
// default. Pass nil logger for default.
func New(coord *chatsession.Coordinator, joinTimeout time.Duration, logger *slog.Logger) *Server {
	if joinTimeout <= 0 {
		joinTimeout = defaultJoinTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		coord:       coord,
		joinTimeout: joinTimeout,
		logger:      logger.With("component", "httpapi"),
		router:      router,
	}
	s.registerRoutes()
	return s
}

// Handler returns the root http.Handler for the server
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := s.router.Group("/api", s.requireIdentity)
	{
		api.GET("/conversations", s.handleListConversations)
		api.POST("/conversations/direct", s.handleCreateDirect)
		api.POST("/conversations/group", s.handleCreateGroup)
		api.PATCH("/conversations/:id", s.handleRename)
		api.DELETE("/conversations/:id", s.handleDisband)
		api.POST("/conversations/:id/leave", s.handleLeave)
		api.POST("/conversations/:id/read", s.handleMarkRead)
		api.GET("/conversations/:id/participants", s.handleListParticipants)
		api.POST("/conversations/:id/members", s.handleAddMembers)
		api.DELETE("/conversations/:id/members/:userID", s.handleRemoveMember)
		api.POST("/conversations/:id/promote", s.handlePromote)
		api.GET("/conversations/:id/messages", s.handleListMessages)
		api.POST("/conversations/:id/messages", s.handleSendMessage)
		api.POST("/messages/:id/retract", s.handleRetract)
		api.GET("/stream", s.handleStream)
	}
}

// requireIdentity extracts the authenticated user forwarded by the platform.
// Requests without an identity are rejected; verifying it is not this
// service's job.
func (s *Server) requireIdentity(c *gin.Context) {
	userID := c.GetHeader("X-User-ID")
	if userID == "" {
		userID = c.Query("user_id") // websocket clients cannot always set headers
	}
	if userID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing user identity"})
		return
	}
	c.Set("userID", userID)
	c.Next()
}

func currentUser(c *gin.Context) string {
	return c.GetString("userID")
}

// Wire types

// ConversationResponse is the JSON shape of a conversation
type ConversationResponse struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Name      string    `json:"name,omitempty"`
	CoverRef  string    `json:"cover_ref,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// MessageResponse is the JSON shape of a message
type MessageResponse struct {
	ID             string    `json:"id"`
	Seq            int64     `json:"seq"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	SentAt         time.Time `json:"sent_at"`
	Retracted      bool      `json:"retracted"`
}

// SummaryResponse is the JSON shape of a per-user conversation summary
type SummaryResponse struct {
	Conversation ConversationResponse `json:"conversation"`
	LastMessage  *MessageResponse     `json:"last_message,omitempty"`
	Unread       int                  `json:"unread"`
}

// ParticipantResponse is the JSON shape of a participant row
type ParticipantResponse struct {
	UserID   string    `json:"user_id"`
	IsAdmin  bool      `json:"is_admin"`
	JoinedAt time.Time `json:"joined_at"`
}

// PageResponse is the JSON shape of one message page
type PageResponse struct {
	Messages   []MessageResponse `json:"messages"`
	NextCursor string            `json:"next_cursor,omitempty"`
	HasMore    bool              `json:"has_more"`
}

func toConversationResponse(conv *store.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:        conv.ID,
		Kind:      string(conv.Kind),
		Name:      conv.Name,
		CoverRef:  conv.CoverRef,
		CreatedAt: conv.CreatedAt,
	}
}

func toMessageResponse(msg *store.Message) MessageResponse {
	return MessageResponse{
		ID:             msg.ID,
		Seq:            msg.Seq,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Content:        msg.Content,
		SentAt:         msg.SentAt,
		Retracted:      msg.Retracted,
	}
}

// Handlers

// CreateDirectRequest is the JSON body for POST /api/conversations/direct
type CreateDirectRequest struct {
	PeerID string `json:"peer_id"`
}

func (s *Server) handleCreateDirect(c *gin.Context) {
	var req CreateDirectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	conv, err := s.coord.CreateDirect(c.Request.Context(), currentUser(c), req.PeerID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toConversationResponse(conv))
}

// CreateGroupRequest is the JSON body for POST /api/conversations/group
type CreateGroupRequest struct {
	Name      string   `json:"name"`
	MemberIDs []string `json:"member_ids"`
}

func (s *Server) handleCreateGroup(c *gin.Context) {
	var req CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	conv, err := s.coord.CreateGroup(c.Request.Context(), currentUser(c), req.Name, req.MemberIDs)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, toConversationResponse(conv))
}

// RenameRequest is the JSON body for PATCH /api/conversations/:id
type RenameRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleRename(c *gin.Context) {
	var req RenameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := s.coord.Rename(c.Request.Context(), c.Param("id"), currentUser(c), req.Name); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleDisband(c *gin.Context) {
	if err := s.coord.Disband(c.Request.Context(), c.Param("id"), currentUser(c)); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleLeave(c *gin.Context) {
	if err := s.coord.LeaveConversation(c.Request.Context(), c.Param("id"), currentUser(c)); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleMarkRead(c *gin.Context) {
	if err := s.coord.MarkRead(c.Request.Context(), c.Param("id"), currentUser(c)); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListParticipants(c *gin.Context) {
	participants, err := s.coord.ListParticipants(c.Request.Context(), c.Param("id"), currentUser(c))
	if err != nil {
		s.fail(c, err)
		return
	}

	resp := make([]ParticipantResponse, 0, len(participants))
	for _, p := range participants {
		resp = append(resp, ParticipantResponse{
			UserID:   p.UserID,
			IsAdmin:  p.IsAdmin,
			JoinedAt: p.JoinedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"participants": resp})
}

// AddMembersRequest is the JSON body for POST /api/conversations/:id/members
type AddMembersRequest struct {
	UserIDs []string `json:"user_ids"`
}

func (s *Server) handleAddMembers(c *gin.Context) {
	var req AddMembersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	added, err := s.coord.AddMembers(c.Request.Context(), c.Param("id"), currentUser(c), req.UserIDs)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"added": added})
}

func (s *Server) handleRemoveMember(c *gin.Context) {
	err := s.coord.RemoveMember(c.Request.Context(), c.Param("id"), currentUser(c), c.Param("userID"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// PromoteRequest is the JSON body for POST /api/conversations/:id/promote
type PromoteRequest struct {
	UserID string `json:"user_id"`
}

func (s *Server) handlePromote(c *gin.Context) {
	var req PromoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := s.coord.PromoteMember(c.Request.Context(), c.Param("id"), currentUser(c), req.UserID); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListConversations(c *gin.Context) {
	summaries, err := s.coord.ListConversations(c.Request.Context(), currentUser(c))
	if err != nil {
		s.fail(c, err)
		return
	}

	resp := make([]SummaryResponse, 0, len(summaries))
	for _, sum := range summaries {
		out := SummaryResponse{
			Conversation: toConversationResponse(&sum.Conversation),
			Unread:       sum.Unread,
		}
		if sum.LastMessage != nil {
			msg := toMessageResponse(sum.LastMessage)
			out.LastMessage = &msg
		}
		resp = append(resp, out)
	}
	c.JSON(http.StatusOK, gin.H{"conversations": resp})
}

func (s *Server) handleListMessages(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	page, err := s.coord.ListMessages(c.Request.Context(), c.Param("id"), currentUser(c), c.Query("cursor"), limit)
	if err != nil {
		s.fail(c, err)
		return
	}

	resp := PageResponse{
		Messages:   make([]MessageResponse, 0, len(page.Messages)),
		NextCursor: page.NextCursor,
		HasMore:    page.HasMore,
	}
	for _, msg := range page.Messages {
		resp.Messages = append(resp.Messages, toMessageResponse(msg))
	}
	c.JSON(http.StatusOK, resp)
}

// SendMessageRequest is the JSON body for POST /api/conversations/:id/messages
type SendMessageRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleSendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	msg, err := s.coord.SendMessage(c.Request.Context(), c.Param("id"), currentUser(c), req.Content)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, toMessageResponse(msg))
}

func (s *Server) handleRetract(c *gin.Context) {
	msg, err := s.coord.RetractMessage(c.Request.Context(), c.Param("id"), currentUser(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toMessageResponse(msg))
}

// fail maps a core error to an HTTP status. The taxonomy is stable: the
// presentation layer keys its UX off these statuses.
func (s *Server) fail(c *gin.Context, err error) {
	status := statusFromError(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFromError(err error) int {
	switch {
	case errors.Is(err, store.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrAlreadyMember), errors.Is(err, store.ErrNotMember):
		return http.StatusConflict
	case errors.Is(err, store.ErrExpired):
		return http.StatusGone
	case errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
