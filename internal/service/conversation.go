package service

import (
	"context"
	"strings"

	"github.com/capitalize-ai/commerce-sync/internal/backend"
	"github.com/capitalize-ai/commerce-sync/internal/model"
	"github.com/capitalize-ai/commerce-sync/internal/session"
	"github.com/capitalize-ai/commerce-sync/pkg/apperror"
	"github.com/capitalize-ai/commerce-sync/pkg/logger"
)

// MessagingService handles conversations, memberships and messages.
type MessagingService struct {
	base
}

// NewMessagingService creates a new messaging service.
func NewMessagingService(store backend.Store, sessions session.Provider, log *logger.Logger, opts ...Option) *MessagingService {
	return &MessagingService{base: newBase("messaging", store, sessions, log, opts)}
}

// ListConversations returns the user's active conversations, most recently
// active first.
func (s *MessagingService) ListConversations(ctx context.Context, limit, offset int) (convs []model.Conversation, err error) {
	ctx, userID, done, err := s.begin(ctx, "ListConversations")
	if err != nil {
		return nil, err
	}
	defer done(&err)

	limit, offset = page(limit, offset)
	memberships, err := s.activeMemberships(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(memberships) == 0 {
		return []model.Conversation{}, nil
	}

	ids := make([]string, 0, len(memberships))
	for id := range memberships {
		ids = append(ids, id)
	}
	rows, err := s.store.Select(ctx, backend.TableConversations, backend.Query{
		Filters: []backend.Filter{backend.In("id", ids)},
		Order:   []backend.Order{{Column: "last_activity_at", Desc: true}},
		Offset:  offset,
		Limit:   limit,
	})
	if err != nil {
		return nil, err
	}
	convs, err = backend.DecodeAll[model.Conversation](rows)
	if err != nil {
		return nil, err
	}
	for i := range convs {
		convs[i].IsMuted = memberships[convs[i].ID].IsMuted
	}
	return convs, nil
}

// GetConversation returns one conversation the user takes part in.
func (s *MessagingService) GetConversation(ctx context.Context, conversationID string) (conv *model.Conversation, err error) {
	ctx, userID, done, err := s.begin(ctx, "GetConversation")
	if err != nil {
		return nil, err
	}
	defer done(&err)

	member, err := s.membership(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	return s.loadConversation(ctx, conversationID, member)
}

// CreateConversation creates a conversation with the user and participantIDs
// as members. A direct conversation has exactly one other participant.
func (s *MessagingService) CreateConversation(ctx context.Context, convType model.ConversationType, title string, participantIDs []string) (conv *model.Conversation, err error) {
	ctx, userID, done, err := s.begin(ctx, "CreateConversation")
	if err != nil {
		return nil, err
	}
	defer done(&err)

	return s.createConversation(ctx, userID, convType, title, participantIDs)
}

// GetOrCreateDirectConversation returns the direct conversation between the
// user and otherUserID, creating it when none exists.
func (s *MessagingService) GetOrCreateDirectConversation(ctx context.Context, otherUserID string) (conv *model.Conversation, err error) {
	const op = "messaging.GetOrCreateDirectConversation"
	ctx, userID, done, err := s.begin(ctx, "GetOrCreateDirectConversation")
	if err != nil {
		return nil, err
	}
	defer done(&err)

	if otherUserID == "" || otherUserID == userID {
		return nil, apperror.Validation(op, "a direct conversation needs another user")
	}

	mine, err := s.activeMemberships(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(mine) > 0 {
		ids := make([]string, 0, len(mine))
		for id := range mine {
			ids = append(ids, id)
		}
		shared, err := s.store.Select(ctx, backend.TableConversationParticipants, backend.Query{
			Filters: []backend.Filter{
				backend.Eq("user_id", otherUserID),
				backend.IsNull("left_at"),
				backend.In("conversation_id", ids),
			},
		})
		if err != nil {
			return nil, err
		}
		if len(shared) > 0 {
			sharedIDs := make([]string, len(shared))
			for i, r := range shared {
				sharedIDs[i] = r.String("conversation_id")
			}
			rows, err := s.store.Select(ctx, backend.TableConversations, backend.Query{
				Filters: []backend.Filter{
					backend.Eq("type", string(model.ConversationDirect)),
					backend.In("id", sharedIDs),
				},
				Order: []backend.Order{{Column: "created_at"}},
				Limit: 1,
			})
			if err != nil {
				return nil, err
			}
			if len(rows) == 1 {
				conv, err := decodeOne[model.Conversation](rows[0])
				if err != nil {
					return nil, err
				}
				conv.IsMuted = mine[conv.ID].IsMuted
				return conv, nil
			}
		}
	}

	return s.createConversation(ctx, userID, model.ConversationDirect, "", []string{otherUserID})
}

// SetMuted mutes or unmutes a conversation for the user.
func (s *MessagingService) SetMuted(ctx context.Context, conversationID string, muted bool) (err error) {
	ctx, userID, done, err := s.begin(ctx, "SetMuted")
	if err != nil {
		return err
	}
	defer done(&err)

	n, err := s.store.Update(ctx, backend.TableConversationParticipants,
		backend.Row{"is_muted": muted},
		backend.Eq("conversation_id", conversationID),
		backend.Eq("user_id", userID),
		backend.IsNull("left_at"),
	)
	if err != nil {
		return err
	}
	if n == 0 {
		return apperror.E(apperror.KindNotFound, "", "not a participant of this conversation")
	}
	return nil
}

// LeaveConversation marks the user's membership as left and decrements the
// participant count, never below zero.
func (s *MessagingService) LeaveConversation(ctx context.Context, conversationID string) (err error) {
	ctx, userID, done, err := s.begin(ctx, "LeaveConversation")
	if err != nil {
		return err
	}
	defer done(&err)

	n, err := s.store.Update(ctx, backend.TableConversationParticipants,
		backend.Row{"left_at": s.stamp()},
		backend.Eq("conversation_id", conversationID),
		backend.Eq("user_id", userID),
		backend.IsNull("left_at"),
	)
	if err != nil {
		return err
	}
	if n == 0 {
		return apperror.E(apperror.KindNotFound, "", "not a participant of this conversation")
	}

	row, err := s.single(ctx, backend.TableConversations, backend.Eq("id", conversationID))
	if err != nil {
		return err
	}
	_, err = s.store.Update(ctx, backend.TableConversations,
		backend.Row{"participant_count": max(row.Int("participant_count")-1, 0)},
		backend.Eq("id", conversationID),
	)
	return err
}

// AddParticipants adds users to a group conversation the user belongs to.
// Users who left earlier are re-activated.
func (s *MessagingService) AddParticipants(ctx context.Context, conversationID string, userIDs []string) (conv *model.Conversation, err error) {
	const op = "messaging.AddParticipants"
	ctx, userID, done, err := s.begin(ctx, "AddParticipants")
	if err != nil {
		return nil, err
	}
	defer done(&err)

	if len(userIDs) == 0 {
		return nil, apperror.Validation(op, "no participants given")
	}
	member, err := s.activeMembership(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	current, err := s.loadConversation(ctx, conversationID, member)
	if err != nil {
		return nil, err
	}
	if current.Type != model.ConversationGroup {
		return nil, apperror.Validation(op, "participants can only be added to group conversations")
	}

	for _, id := range uniqueIDs(userIDs, userID) {
		existing, err := s.single(ctx, backend.TableConversationParticipants,
			backend.Eq("conversation_id", conversationID), backend.Eq("user_id", id))
		switch {
		case err == nil:
			if existing["left_at"] == nil {
				continue
			}
			_, err = s.store.Update(ctx, backend.TableConversationParticipants,
				backend.Row{"left_at": nil, "joined_at": s.stamp()},
				backend.Eq("conversation_id", conversationID), backend.Eq("user_id", id))
		case backend.IsNoRows(err):
			_, err = s.store.Insert(ctx, backend.TableConversationParticipants, backend.Row{
				"conversation_id": conversationID,
				"user_id":         id,
			})
		}
		if err != nil {
			return nil, err
		}
	}

	active, err := s.store.Count(ctx, backend.TableConversationParticipants,
		backend.Eq("conversation_id", conversationID), backend.IsNull("left_at"))
	if err != nil {
		return nil, err
	}
	if _, err := s.store.Update(ctx, backend.TableConversations,
		backend.Row{"participant_count": active}, backend.Eq("id", conversationID)); err != nil {
		return nil, err
	}
	current.ParticipantCount = active
	return current, nil
}

func (s *MessagingService) createConversation(ctx context.Context, userID string, convType model.ConversationType, title string, participantIDs []string) (*model.Conversation, error) {
	const op = "messaging.CreateConversation"

	if convType == "" {
		convType = model.ConversationGroup
	}
	if !convType.Valid() {
		return nil, apperror.Validation(op, "unknown conversation type %q", convType)
	}
	others := uniqueIDs(participantIDs, userID)
	switch {
	case convType == model.ConversationDirect && len(others) != 1:
		return nil, apperror.Validation(op, "a direct conversation has exactly one other participant")
	case len(others) == 0:
		return nil, apperror.Validation(op, "at least one other participant is required")
	}

	row, err := s.store.Insert(ctx, backend.TableConversations, backend.Row{
		"type":              string(convType),
		"title":             strings.TrimSpace(title),
		"created_by":        userID,
		"participant_count": len(others) + 1,
	})
	if err != nil {
		return nil, err
	}
	conv, err := decodeOne[model.Conversation](row)
	if err != nil {
		return nil, err
	}

	for _, id := range append([]string{userID}, others...) {
		_, err := s.store.Insert(ctx, backend.TableConversationParticipants, backend.Row{
			"conversation_id": conv.ID,
			"user_id":         id,
		})
		if err != nil {
			if _, cleanupErr := s.store.Delete(ctx, backend.TableConversations, backend.Eq("id", conv.ID)); cleanupErr != nil {
				s.logFailure(op, cleanupErr)
			}
			return nil, err
		}
	}
	return conv, nil
}

// activeMemberships returns the user's active memberships keyed by
// conversation id.
func (s *MessagingService) activeMemberships(ctx context.Context, userID string) (map[string]model.ConversationParticipant, error) {
	rows, err := s.store.Select(ctx, backend.TableConversationParticipants, backend.Query{
		Filters: []backend.Filter{backend.Eq("user_id", userID), backend.IsNull("left_at")},
	})
	if err != nil {
		return nil, err
	}
	members, err := backend.DecodeAll[model.ConversationParticipant](rows)
	if err != nil {
		return nil, err
	}
	out := make(map[string]model.ConversationParticipant, len(members))
	for _, m := range members {
		out[m.ConversationID] = m
	}
	return out, nil
}

// membership returns the user's membership row, active or not. A user who
// never joined gets NotFound.
func (s *MessagingService) membership(ctx context.Context, conversationID, userID string) (*model.ConversationParticipant, error) {
	row, err := s.single(ctx, backend.TableConversationParticipants,
		backend.Eq("conversation_id", conversationID), backend.Eq("user_id", userID))
	if backend.IsNoRows(err) {
		return nil, apperror.E(apperror.KindNotFound, "", "conversation not found")
	}
	if err != nil {
		return nil, err
	}
	return decodeOne[model.ConversationParticipant](row)
}

// activeMembership is membership restricted to current participants.
func (s *MessagingService) activeMembership(ctx context.Context, conversationID, userID string) (*model.ConversationParticipant, error) {
	m, err := s.membership(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if !m.Active() {
		return nil, apperror.E(apperror.KindForbidden, "", "you are no longer a participant of this conversation")
	}
	return m, nil
}

func (s *MessagingService) loadConversation(ctx context.Context, conversationID string, member *model.ConversationParticipant) (*model.Conversation, error) {
	row, err := s.single(ctx, backend.TableConversations, backend.Eq("id", conversationID))
	if err != nil {
		return nil, err
	}
	conv, err := decodeOne[model.Conversation](row)
	if err != nil {
		return nil, err
	}
	if member != nil {
		conv.IsMuted = member.IsMuted
	}
	return conv, nil
}

// uniqueIDs drops blanks, duplicates and self from ids, keeping order.
func uniqueIDs(ids []string, self string) []string {
	seen := map[string]struct{}{self: {}}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
