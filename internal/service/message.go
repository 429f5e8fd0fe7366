package service

import (
	"context"
	"strings"
	"time"

	"github.com/capitalize-ai/commerce-sync/internal/backend"
	"github.com/capitalize-ai/commerce-sync/internal/model"
	"github.com/capitalize-ai/commerce-sync/pkg/apperror"
)

// SendMessage posts a message to a conversation the user is an active
// participant of. Blank content is rejected before any remote call.
func (s *MessagingService) SendMessage(ctx context.Context, conversationID, content string, msgType model.MessageType, replyToID *string) (msg *model.Message, err error) {
	const op = "messaging.SendMessage"
	ctx, userID, done, err := s.begin(ctx, "SendMessage")
	if err != nil {
		return nil, err
	}
	defer done(&err)

	if msgType == "" {
		msgType = model.MessageText
	}
	if !msgType.Valid() {
		return nil, apperror.Validation(op, "unknown message type %q", msgType)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperror.Validation(op, "message cannot be empty")
	}

	if _, err := s.activeMembership(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	row := backend.Row{
		"conversation_id": conversationID,
		"sender_id":       userID,
		"content":         content,
		"message_type":    string(msgType),
	}
	if replyToID != nil && *replyToID != "" {
		row["reply_to_id"] = *replyToID
	}
	stored, err := s.store.Insert(ctx, backend.TableMessages, row)
	if err != nil {
		return nil, err
	}
	return decodeOne[model.Message](stored)
}

// ListMessages returns one page of a conversation's history, oldest first.
// Offset counts back from the newest message.
func (s *MessagingService) ListMessages(ctx context.Context, conversationID string, limit, offset int) (msgs []model.Message, err error) {
	ctx, userID, done, err := s.begin(ctx, "ListMessages")
	if err != nil {
		return nil, err
	}
	defer done(&err)

	limit, offset = page(limit, offset)
	if _, err := s.membership(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	rows, err := s.store.Select(ctx, backend.TableMessages, backend.Query{
		Filters: []backend.Filter{backend.Eq("conversation_id", conversationID)},
		Order:   []backend.Order{{Column: "created_at", Desc: true}},
		Offset:  offset,
		Limit:   limit,
	})
	if err != nil {
		return nil, err
	}
	msgs, err = backend.DecodeAll[model.Message](rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// EditMessage replaces the content of one of the user's own messages.
func (s *MessagingService) EditMessage(ctx context.Context, messageID, content string) (msg *model.Message, err error) {
	const op = "messaging.EditMessage"
	ctx, userID, done, err := s.begin(ctx, "EditMessage")
	if err != nil {
		return nil, err
	}
	defer done(&err)

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperror.Validation(op, "message cannot be empty")
	}
	msg, err = s.ownMessage(ctx, messageID, userID)
	if err != nil {
		return nil, err
	}
	if msg.Deleted() {
		return nil, apperror.E(apperror.KindConflict, "", "message was deleted")
	}

	editedAt := s.now().UTC()
	if _, err := s.store.Update(ctx, backend.TableMessages,
		backend.Row{"content": content, "edited_at": backend.FormatTime(editedAt)},
		backend.Eq("id", messageID),
	); err != nil {
		return nil, err
	}
	msg.Content = content
	msg.EditedAt = &editedAt
	return msg, nil
}

// DeleteMessage soft-deletes one of the user's own messages. Deleting twice
// is a no-op.
func (s *MessagingService) DeleteMessage(ctx context.Context, messageID string) (err error) {
	ctx, userID, done, err := s.begin(ctx, "DeleteMessage")
	if err != nil {
		return err
	}
	defer done(&err)

	msg, err := s.ownMessage(ctx, messageID, userID)
	if err != nil {
		return err
	}
	if msg.Deleted() {
		return nil
	}
	_, err = s.store.Update(ctx, backend.TableMessages,
		backend.Row{"deleted_at": s.stamp()},
		backend.Eq("id", messageID),
	)
	return err
}

// MarkAsRead moves the user's read mark to the newest message of the
// conversation and stamps read_at on messages from others.
func (s *MessagingService) MarkAsRead(ctx context.Context, conversationID string) (err error) {
	ctx, userID, done, err := s.begin(ctx, "MarkAsRead")
	if err != nil {
		return err
	}
	defer done(&err)

	readAt := s.now().UTC()
	latest, err := s.store.Select(ctx, backend.TableMessages, backend.Query{
		Filters: []backend.Filter{backend.Eq("conversation_id", conversationID)},
		Order:   []backend.Order{{Column: "created_at", Desc: true}},
		Limit:   1,
	})
	if err != nil {
		return err
	}
	if len(latest) == 1 {
		if newest, err := time.Parse(time.RFC3339Nano, latest[0].String("created_at")); err == nil && newest.After(readAt) {
			readAt = newest
		}
	}
	stamp := backend.FormatTime(readAt)

	n, err := s.store.Update(ctx, backend.TableConversationParticipants,
		backend.Row{"last_read_at": stamp},
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

	_, err = s.store.Update(ctx, backend.TableMessages,
		backend.Row{"read_at": stamp},
		backend.Eq("conversation_id", conversationID),
		backend.Neq("sender_id", userID),
		backend.IsNull("read_at"),
	)
	return err
}

// UnreadCounts returns the number of unread messages per conversation.
// Conversations with nothing unread are omitted.
func (s *MessagingService) UnreadCounts(ctx context.Context) (counts []model.UnreadCount, err error) {
	ctx, userID, done, err := s.begin(ctx, "UnreadCounts")
	if err != nil {
		return nil, err
	}
	defer done(&err)

	return rpc[model.UnreadCount](ctx, s.store, backend.RPCUnreadMessagesCount, backend.Row{"p_user_id": userID})
}

func (s *MessagingService) ownMessage(ctx context.Context, messageID, userID string) (*model.Message, error) {
	row, err := s.single(ctx, backend.TableMessages, backend.Eq("id", messageID))
	if backend.IsNoRows(err) {
		return nil, apperror.E(apperror.KindNotFound, "", "message not found")
	}
	if err != nil {
		return nil, err
	}
	msg, err := decodeOne[model.Message](row)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != userID {
		return nil, apperror.E(apperror.KindForbidden, "", "only the sender can change this message")
	}
	return msg, nil
}
