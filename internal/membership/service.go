// ABOUTME: MembershipManager enforces who may join, leave, promote, and kick
// ABOUTME: All membership mutations emit invalidation events to the presence hub

package membership

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/flockline/converse/internal/presence"
	"github.com/flockline/converse/internal/store"
)

// MembershipChanged reasons carried on the invalidation event. Clients treat
// all of them the same way: re-fetch the participant list.
const (
	ReasonMembersAdded     = "members_added"
	ReasonMemberRemoved    = "member_removed"
	ReasonMemberLeft       = "member_left"
	ReasonAdminTransferred = "admin_transferred"
	ReasonRenamed          = "renamed"
	ReasonDisbanded        = "disbanded"
	ReasonHidden           = "conversation_hidden"
)

// MembershipStore defines what the service needs from storage
type MembershipStore interface {
	CreateConversation(ctx context.Context, conv *store.Conversation, participants []*store.Participant) error
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	GetDirectConversation(ctx context.Context, directKey string) (*store.Conversation, error)
	RenameConversation(ctx context.Context, id, name string) error
	DeleteConversation(ctx context.Context, id string) error

	GetParticipant(ctx context.Context, conversationID, userID string) (*store.Participant, error)
	ListParticipants(ctx context.Context, conversationID string) ([]*store.Participant, error)
	AddParticipants(ctx context.Context, conversationID string, participants []*store.Participant) error
	RemoveParticipant(ctx context.Context, conversationID, userID string) error
	SetParticipantHidden(ctx context.Context, conversationID, userID string, hidden bool) error
	TransferAdmin(ctx context.Context, conversationID, fromUserID, toUserID string) error
	CountParticipants(ctx context.Context, conversationID string) (int, error)
}

// Publisher defines what the service needs from the presence layer
type Publisher interface {
	Publish(conversationID string, ev presence.Event)
}

// Service enforces membership rules for direct and group conversations.
// The single-admin invariant for groups is ultimately guaranteed by the
// store's transactional admin transfer; the checks here exist to return the
// right error before touching the database.
type Service struct {
	store  MembershipStore
	hub    Publisher
	logger *slog.Logger
}

// New creates a membership service. Pass nil logger for default.
func New(st MembershipStore, hub Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  st,
		hub:    hub,
		logger: logger.With("component", "membership"),
	}
}

// CreateDirect returns the direct conversation between the two users,
// creating it if the pair has never talked. Idempotent in either argument
// order. If the caller had soft-deleted their copy, it is made visible again.
func (s *Service) CreateDirect(ctx context.Context, userA, userB string) (*store.Conversation, error) {
	if userA == "" || userB == "" {
		return nil, fmt.Errorf("%w: both user IDs are required", store.ErrInvalidArgument)
	}
	if userA == userB {
		return nil, fmt.Errorf("%w: cannot start a conversation with yourself", store.ErrInvalidArgument)
	}

	key := store.DirectKey(userA, userB)
	conv, err := s.store.GetDirectConversation(ctx, key)
	if err == nil {
		return conv, s.unhide(ctx, conv.ID, userA)
	}
	if err != store.ErrNotFound {
		return nil, fmt.Errorf("looking up direct conversation: %w", err)
	}

	now := time.Now().UTC()
	conv = &store.Conversation{
		ID:        uuid.New().String(),
		Kind:      store.KindDirect,
		DirectKey: key,
		CreatedAt: now,
	}
	participants := []*store.Participant{
		{ConversationID: conv.ID, UserID: userA, JoinedAt: now},
		{ConversationID: conv.ID, UserID: userB, JoinedAt: now},
	}

	if err := s.store.CreateConversation(ctx, conv, participants); err != nil {
		// Another request may have created the pair between lookup and insert
		if err == store.ErrConversationExists {
			existing, lookupErr := s.store.GetDirectConversation(ctx, key)
			if lookupErr == nil {
				s.logger.Debug("found existing direct conversation after race",
					"conversation_id", existing.ID)
				return existing, nil
			}
			s.logger.Error("retry lookup failed after duplicate error",
				"lookup_error", lookupErr)
		}
		return nil, fmt.Errorf("creating direct conversation: %w", err)
	}

	s.logger.Info("direct conversation created",
		"conversation_id", conv.ID)
	return conv, nil
}

// CreateGroup creates a group conversation with the creator as its sole
// admin. memberIDs must be non-empty and must not contain the creator.
func (s *Service) CreateGroup(ctx context.Context, creatorID, name string, memberIDs []string) (*store.Conversation, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: group name is required", store.ErrInvalidArgument)
	}
	if len(memberIDs) == 0 {
		return nil, fmt.Errorf("%w: a group needs at least one member besides the creator", store.ErrInvalidArgument)
	}

	seen := map[string]bool{creatorID: true}
	members := make([]string, 0, len(memberIDs))
	for _, id := range memberIDs {
		if id == creatorID {
			return nil, fmt.Errorf("%w: member list must not contain the creator", store.ErrInvalidArgument)
		}
		if id == "" {
			return nil, fmt.Errorf("%w: empty member ID", store.ErrInvalidArgument)
		}
		if !seen[id] {
			seen[id] = true
			members = append(members, id)
		}
	}

	now := time.Now().UTC()
	conv := &store.Conversation{
		ID:        uuid.New().String(),
		Kind:      store.KindGroup,
		Name:      strings.TrimSpace(name),
		CreatedAt: now,
	}
	participants := []*store.Participant{
		{ConversationID: conv.ID, UserID: creatorID, IsAdmin: true, JoinedAt: now},
	}
	for _, id := range members {
		participants = append(participants, &store.Participant{
			ConversationID: conv.ID,
			UserID:         id,
			JoinedAt:       now,
		})
	}

	if err := s.store.CreateConversation(ctx, conv, participants); err != nil {
		return nil, fmt.Errorf("creating group: %w", err)
	}

	s.logger.Info("group created",
		"conversation_id", conv.ID,
		"name", conv.Name,
		"members", len(participants))
	return conv, nil
}

// AddMembers adds the given users to a group. Only the admin may add members.
// Users who are already participants are skipped silently, matching
// "only add who is missing" semantics. Returns the IDs actually added.
func (s *Service) AddMembers(ctx context.Context, conversationID, actorID string, userIDs []string) ([]string, error) {
	conv, err := s.requireGroup(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if err := s.requireAdmin(ctx, conv.ID, actorID); err != nil {
		return nil, err
	}

	existing, err := s.store.ListParticipants(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("listing participants: %w", err)
	}
	present := make(map[string]bool, len(existing))
	for _, p := range existing {
		present[p.UserID] = true
	}

	now := time.Now().UTC()
	var added []string
	var newParticipants []*store.Participant
	for _, id := range userIDs {
		if id == "" || present[id] {
			continue
		}
		present[id] = true
		added = append(added, id)
		newParticipants = append(newParticipants, &store.Participant{
			ConversationID: conv.ID,
			UserID:         id,
			JoinedAt:       now,
		})
	}
	if len(newParticipants) == 0 {
		return nil, nil
	}

	if err := s.store.AddParticipants(ctx, conv.ID, newParticipants); err != nil {
		return nil, fmt.Errorf("adding participants: %w", err)
	}

	s.hub.Publish(conv.ID, presence.NewMembershipChanged(conv.ID, ReasonMembersAdded))
	s.logger.Info("members added",
		"conversation_id", conv.ID,
		"actor", actorID,
		"added", len(added))
	return added, nil
}

// RemoveMember kicks a participant from a group. Only the admin may kick;
// the admin cannot kick themselves (use Leave or Disband) and cannot be
// kicked.
func (s *Service) RemoveMember(ctx context.Context, conversationID, actorID, targetID string) error {
	conv, err := s.requireGroup(ctx, conversationID)
	if err != nil {
		return err
	}
	if err := s.requireAdmin(ctx, conv.ID, actorID); err != nil {
		return err
	}
	if targetID == actorID {
		return fmt.Errorf("%w: cannot kick yourself, use leave", store.ErrInvalidArgument)
	}

	target, err := s.store.GetParticipant(ctx, conv.ID, targetID)
	if err != nil {
		return fmt.Errorf("resolving target: %w", err)
	}
	if target.IsAdmin {
		return fmt.Errorf("%w: cannot kick the admin", store.ErrInvalidArgument)
	}

	if err := s.store.RemoveParticipant(ctx, conv.ID, targetID); err != nil {
		return fmt.Errorf("removing participant: %w", err)
	}

	s.hub.Publish(conv.ID, presence.NewMembershipChanged(conv.ID, ReasonMemberRemoved))
	s.logger.Info("member removed",
		"conversation_id", conv.ID,
		"actor", actorID,
		"target", targetID)
	return nil
}

// PromoteMember transfers the singleton admin flag from the actor to the
// target. The store performs the demotion and promotion in one transaction,
// so two concurrent promotes cannot produce zero or two admins.
func (s *Service) PromoteMember(ctx context.Context, conversationID, actorID, targetID string) error {
	conv, err := s.requireGroup(ctx, conversationID)
	if err != nil {
		return err
	}
	if targetID == actorID {
		return fmt.Errorf("%w: target is already the admin", store.ErrInvalidArgument)
	}

	if err := s.store.TransferAdmin(ctx, conv.ID, actorID, targetID); err != nil {
		return fmt.Errorf("transferring admin: %w", err)
	}

	s.hub.Publish(conv.ID, presence.NewMembershipChanged(conv.ID, ReasonAdminTransferred))
	s.logger.Info("admin transferred",
		"conversation_id", conv.ID,
		"from", actorID,
		"to", targetID)
	return nil
}

// Leave removes the caller from the conversation. A group admin cannot leave:
// they must promote someone else first, or disband. Leaving a direct
// conversation keeps it alive for the remaining participant's history; it is
// deleted only when the last participant goes.
func (s *Service) Leave(ctx context.Context, conversationID, userID string) error {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("resolving conversation: %w", err)
	}

	p, err := s.store.GetParticipant(ctx, conv.ID, userID)
	if err != nil {
		return fmt.Errorf("resolving participant: %w", err)
	}
	if conv.Kind == store.KindGroup && p.IsAdmin {
		return fmt.Errorf("%w: the admin must promote someone else or disband", store.ErrPermissionDenied)
	}

	if err := s.store.RemoveParticipant(ctx, conv.ID, userID); err != nil {
		return fmt.Errorf("removing participant: %w", err)
	}

	remaining, err := s.store.CountParticipants(ctx, conv.ID)
	if err != nil {
		return fmt.Errorf("counting participants: %w", err)
	}
	if remaining == 0 {
		if err := s.store.DeleteConversation(ctx, conv.ID); err != nil {
			return fmt.Errorf("deleting empty conversation: %w", err)
		}
		s.logger.Info("conversation deleted after last leave", "conversation_id", conv.ID)
		return nil
	}

	s.hub.Publish(conv.ID, presence.NewMembershipChanged(conv.ID, ReasonMemberLeft))
	s.logger.Info("member left",
		"conversation_id", conv.ID,
		"user", userID)
	return nil
}

// Disband deletes a group conversation and all its messages; only the admin
// may do this. For a direct conversation either participant may delete their
// own copy: the view is soft-hidden and the row is hard-deleted only once
// both sides have done so.
func (s *Service) Disband(ctx context.Context, conversationID, actorID string) error {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("resolving conversation: %w", err)
	}

	if conv.Kind == store.KindGroup {
		if err := s.requireAdmin(ctx, conv.ID, actorID); err != nil {
			return err
		}
		s.hub.Publish(conv.ID, presence.NewMembershipChanged(conv.ID, ReasonDisbanded))
		if err := s.store.DeleteConversation(ctx, conv.ID); err != nil {
			return fmt.Errorf("deleting conversation: %w", err)
		}
		s.logger.Info("group disbanded",
			"conversation_id", conv.ID,
			"actor", actorID)
		return nil
	}

	// Direct: delete my copy only
	if _, err := s.store.GetParticipant(ctx, conv.ID, actorID); err != nil {
		return fmt.Errorf("resolving participant: %w", err)
	}
	if err := s.store.SetParticipantHidden(ctx, conv.ID, actorID, true); err != nil {
		return fmt.Errorf("hiding conversation: %w", err)
	}

	participants, err := s.store.ListParticipants(ctx, conv.ID)
	if err != nil {
		return fmt.Errorf("listing participants: %w", err)
	}
	allHidden := true
	for _, p := range participants {
		if !p.Hidden {
			allHidden = false
			break
		}
	}
	if allHidden {
		if err := s.store.DeleteConversation(ctx, conv.ID); err != nil {
			return fmt.Errorf("deleting conversation: %w", err)
		}
		s.logger.Info("direct conversation deleted by both sides", "conversation_id", conv.ID)
		return nil
	}

	s.hub.Publish(conv.ID, presence.NewMembershipChanged(conv.ID, ReasonHidden))
	return nil
}

// Rename changes a group's display name. Admin only; the name must be
// non-empty. Direct conversations have no name.
func (s *Service) Rename(ctx context.Context, conversationID, actorID, newName string) error {
	conv, err := s.requireGroup(ctx, conversationID)
	if err != nil {
		return err
	}
	if err := s.requireAdmin(ctx, conv.ID, actorID); err != nil {
		return err
	}
	if strings.TrimSpace(newName) == "" {
		return fmt.Errorf("%w: group name is required", store.ErrInvalidArgument)
	}

	if err := s.store.RenameConversation(ctx, conv.ID, strings.TrimSpace(newName)); err != nil {
		return fmt.Errorf("renaming conversation: %w", err)
	}

	s.hub.Publish(conv.ID, presence.NewMembershipChanged(conv.ID, ReasonRenamed))
	s.logger.Info("conversation renamed",
		"conversation_id", conv.ID,
		"actor", actorID)
	return nil
}

// requireGroup loads the conversation and rejects direct conversations
func (s *Service) requireGroup(ctx context.Context, conversationID string) (*store.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("resolving conversation: %w", err)
	}
	if conv.Kind != store.KindGroup {
		return nil, fmt.Errorf("%w: operation applies to group conversations only", store.ErrInvalidArgument)
	}
	return conv, nil
}

// requireAdmin verifies the actor is the conversation's admin
func (s *Service) requireAdmin(ctx context.Context, conversationID, actorID string) error {
	p, err := s.store.GetParticipant(ctx, conversationID, actorID)
	if err != nil {
		if err == store.ErrNotMember {
			return fmt.Errorf("%w: actor is not a participant", store.ErrPermissionDenied)
		}
		return fmt.Errorf("resolving actor: %w", err)
	}
	if !p.IsAdmin {
		return fmt.Errorf("%w: actor is not the admin", store.ErrPermissionDenied)
	}
	return nil
}

// unhide clears the caller's soft-delete flag; missing membership is not an
// error here because CreateDirect may race with a concurrent leave.
func (s *Service) unhide(ctx context.Context, conversationID, userID string) error {
	err := s.store.SetParticipantHidden(ctx, conversationID, userID, false)
	if err != nil && err != store.ErrNotMember {
		return fmt.Errorf("unhiding conversation: %w", err)
	}
	return nil
}
