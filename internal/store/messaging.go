package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/commerce-sync/internal/model"
	"github.com/capitalize-ai/commerce-sync/internal/optimistic"
	"github.com/capitalize-ai/commerce-sync/internal/realtime"
	"github.com/capitalize-ai/commerce-sync/internal/service"
	"github.com/capitalize-ai/commerce-sync/internal/session"
	"github.com/capitalize-ai/commerce-sync/internal/state"
	"github.com/capitalize-ai/commerce-sync/pkg/apperror"
	"github.com/capitalize-ai/commerce-sync/pkg/logger"
)

// Messaging operations, as reported by Loading.
const (
	OpLoadConversations  = "loadConversations"
	OpLoadMessages       = "loadMessages"
	OpSendMessage        = "sendMessage"
	OpEditMessage        = "editMessage"
	OpDeleteMessage      = "deleteMessage"
	OpMarkAsRead         = "markAsRead"
	OpLoadUnreadCounts   = "loadUnreadCounts"
	OpCreateConversation = "createConversation"
	OpSetMuted           = "setMuted"
	OpLeaveConversation  = "leaveConversation"
	OpAddParticipants    = "addParticipants"
	OpSubscribe          = "subscribe"
)

// Messaging is the state of a messaging screen: the conversation list, the
// messages of the open conversation, unread counters and at most one live
// subscription.
type Messaging struct {
	base
	svc      *service.MessagingService
	rt       *realtime.Manager
	sessions session.Provider

	conversations *state.List[model.Conversation]
	messages      *state.List[model.Message]
	unread        *state.Counters

	mu       sync.Mutex
	active   string
	sub      *realtime.Subscription
	listener func(model.Message)
}

// NewMessaging creates a messaging store. rt may be nil when the screen
// never subscribes.
func NewMessaging(svc *service.MessagingService, rt *realtime.Manager, sessions session.Provider, log *logger.Logger) *Messaging {
	return &Messaging{
		base:          newBase("messaging_store", log),
		svc:           svc,
		rt:            rt,
		sessions:      sessions,
		conversations: state.NewList(func(c model.Conversation) string { return c.ID }),
		messages:      state.NewList(func(m model.Message) string { return m.ID }),
		unread:        state.NewCounters(),
	}
}

// Conversations returns the loaded conversations, most recently active
// first, with their unread counters applied.
func (m *Messaging) Conversations() []model.Conversation {
	convs := m.conversations.Items()
	for i := range convs {
		convs[i].UnreadCount = m.unread.Get(convs[i].ID)
	}
	return convs
}

// Messages returns the open conversation's loaded messages, oldest first.
func (m *Messaging) Messages() []model.Message {
	return m.messages.Items()
}

// ActiveConversation returns the id of the conversation whose messages are
// loaded, or "".
func (m *Messaging) ActiveConversation() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Unread returns the unread counter of one conversation.
func (m *Messaging) Unread(conversationID string) int {
	return m.unread.Get(conversationID)
}

// TotalUnread returns the badge count across all conversations.
func (m *Messaging) TotalUnread() int {
	return m.unread.Total()
}

// OnMessage registers a listener for every message accepted from the live
// subscription. It runs on the transport goroutine and replaces any
// previous listener; nil removes it.
func (m *Messaging) OnMessage(fn func(model.Message)) {
	m.mu.Lock()
	m.listener = fn
	m.mu.Unlock()
}

// LoadConversations loads one page of conversations.
func (m *Messaging) LoadConversations(ctx context.Context, limit, offset int) (err error) {
	done := m.action(OpLoadConversations)
	defer done(&err)

	return load(&m.base, m.conversations, offset, func() ([]model.Conversation, error) {
		return m.svc.ListConversations(ctx, limit, offset)
	}, nil)
}

// LoadMessages loads one page of a conversation's messages and makes it the
// open conversation. Switching conversations always replaces the list.
func (m *Messaging) LoadMessages(ctx context.Context, conversationID string, limit, offset int) (err error) {
	done := m.action(OpLoadMessages)
	defer done(&err)

	msgs, err := m.svc.ListMessages(ctx, conversationID, limit, offset)
	if err != nil {
		return err
	}
	m.commit(func() {
		m.mu.Lock()
		if m.active != conversationID {
			m.active = conversationID
			offset = 0
		}
		m.mu.Unlock()
		m.messages.Apply(msgs, max(offset, 0))
		m.sortMessages()
	})
	return nil
}

// SendMessage sends a message and merges it into the open conversation.
func (m *Messaging) SendMessage(ctx context.Context, conversationID, content string, msgType model.MessageType, replyToID *string) (msg *model.Message, err error) {
	done := m.action(OpSendMessage)
	defer done(&err)

	msg, err = m.svc.SendMessage(ctx, conversationID, content, msgType, replyToID)
	if err != nil {
		return nil, err
	}
	m.markSeen(msg.ID)
	m.commit(func() {
		if m.ActiveConversation() == msg.ConversationID {
			m.messages.AppendUnique(*msg)
		}
		m.touch(*msg)
	})
	return msg, nil
}

// EditMessage changes the text of one of the user's messages.
func (m *Messaging) EditMessage(ctx context.Context, messageID, content string) (msg *model.Message, err error) {
	done := m.action(OpEditMessage)
	defer done(&err)

	msg, err = m.svc.EditMessage(ctx, messageID, content)
	if err != nil {
		return nil, err
	}
	edited := *msg
	m.commit(func() {
		m.messages.Update(messageID, func(model.Message) model.Message { return edited })
	})
	return msg, nil
}

// DeleteMessage soft-deletes one of the user's messages. The message is
// marked deleted locally at once and restored if the call fails.
func (m *Messaging) DeleteMessage(ctx context.Context, messageID string) (err error) {
	done := m.action(OpDeleteMessage)
	defer done(&err)

	return m.mutate(ctx, OpDeleteMessage,
		func() optimistic.Undo {
			undo := m.messages.CheckpointItem(messageID)
			m.messages.Update(messageID, func(msg model.Message) model.Message {
				now := time.Now().UTC()
				msg.DeletedAt = &now
				msg.Content = ""
				return msg
			})
			return undo
		},
		func(ctx context.Context) error { return m.svc.DeleteMessage(ctx, messageID) },
	)
}

// MarkAsRead marks a conversation read. Its unread counter drops to zero
// once the call succeeds.
func (m *Messaging) MarkAsRead(ctx context.Context, conversationID string) (err error) {
	done := m.action(OpMarkAsRead)
	defer done(&err)

	if err := m.svc.MarkAsRead(ctx, conversationID); err != nil {
		return err
	}
	m.commit(func() { m.unread.Set(conversationID, 0) })
	return nil
}

// LoadUnreadCounts replaces the unread counters with the server's. Failures
// are logged only.
func (m *Messaging) LoadUnreadCounts(ctx context.Context) {
	m.background(OpLoadUnreadCounts, func() error {
		counts, err := m.svc.UnreadCounts(ctx)
		if err != nil {
			return err
		}
		values := make(map[string]int, len(counts))
		for _, c := range counts {
			values[c.ConversationID] = c.UnreadCount
		}
		m.commit(func() { m.unread.Replace(values) })
		return nil
	})
}

// CreateConversation creates a conversation and puts it first in the list.
func (m *Messaging) CreateConversation(ctx context.Context, convType model.ConversationType, title string, participantIDs []string) (conv *model.Conversation, err error) {
	done := m.action(OpCreateConversation)
	defer done(&err)

	conv, err = m.svc.CreateConversation(ctx, convType, title, participantIDs)
	if err != nil {
		return nil, err
	}
	created := *conv
	m.commit(func() { m.conversations.Prepend(created) })
	return conv, nil
}

// OpenDirectConversation returns the direct conversation with another user,
// creating it if needed, and puts it first in the list.
func (m *Messaging) OpenDirectConversation(ctx context.Context, otherUserID string) (conv *model.Conversation, err error) {
	done := m.action(OpCreateConversation)
	defer done(&err)

	conv, err = m.svc.GetOrCreateDirectConversation(ctx, otherUserID)
	if err != nil {
		return nil, err
	}
	found := *conv
	m.commit(func() { m.conversations.Prepend(found) })
	return conv, nil
}

// SetMuted flips the user's mute flag on a conversation ahead of the call.
func (m *Messaging) SetMuted(ctx context.Context, conversationID string, muted bool) (err error) {
	done := m.action(OpSetMuted)
	defer done(&err)

	return m.mutate(ctx, OpSetMuted,
		func() optimistic.Undo {
			var was bool
			found := m.conversations.Update(conversationID, func(c model.Conversation) model.Conversation {
				was = c.IsMuted
				c.IsMuted = muted
				return c
			})
			if !found {
				return nil
			}
			// Only the flag is put back; live previews stay.
			return func() {
				m.conversations.Update(conversationID, func(c model.Conversation) model.Conversation {
					c.IsMuted = was
					return c
				})
			}
		},
		func(ctx context.Context) error { return m.svc.SetMuted(ctx, conversationID, muted) },
	)
}

// LeaveConversation removes a conversation from the list ahead of the call,
// together with its unread counter.
func (m *Messaging) LeaveConversation(ctx context.Context, conversationID string) (err error) {
	done := m.action(OpLeaveConversation)
	defer done(&err)

	return m.mutate(ctx, OpLeaveConversation,
		func() optimistic.Undo {
			undo := m.conversations.CheckpointItem(conversationID)
			m.conversations.Remove(conversationID)
			return optimistic.Undos(undo, m.unread.Clear(conversationID))
		},
		func(ctx context.Context) error { return m.svc.LeaveConversation(ctx, conversationID) },
	)
}

// AddParticipants adds users to a group conversation.
func (m *Messaging) AddParticipants(ctx context.Context, conversationID string, userIDs []string) (conv *model.Conversation, err error) {
	done := m.action(OpAddParticipants)
	defer done(&err)

	conv, err = m.svc.AddParticipants(ctx, conversationID, userIDs)
	if err != nil {
		return nil, err
	}
	updated := *conv
	m.commit(func() {
		m.conversations.Update(conversationID, func(c model.Conversation) model.Conversation {
			c.ParticipantCount = updated.ParticipantCount
			return c
		})
	})
	return conv, nil
}

// Subscribe opens the live feed of one conversation, replacing any previous
// subscription. New messages from the open conversation are merged into
// the message list; others only bump the conversation and, when sent by
// someone else, its unread counter.
func (m *Messaging) Subscribe(ctx context.Context, conversationID string) (err error) {
	done := m.action(OpSubscribe)
	defer done(&err)

	if m.rt == nil {
		return apperror.E(apperror.KindUnknown, "store.Subscribe", "realtime is not configured")
	}
	userID, err := m.sessions.CurrentUser(ctx)
	if err != nil {
		return apperror.Wrap(apperror.KindUnauthenticated, "store.Subscribe", err)
	}
	if err := m.Unsubscribe(); err != nil {
		m.logger.Warn("closing previous subscription failed", zap.Error(err))
	}

	sub, err := m.rt.Subscribe(ctx, conversationID, m.messages.Has, m.receive(userID))
	if err != nil {
		return err
	}
	var prev *realtime.Subscription
	if !m.commit(func() {
		m.mu.Lock()
		prev, m.sub = m.sub, sub
		m.mu.Unlock()
	}) {
		return sub.Close()
	}
	// A concurrent Subscribe may have installed its own in between. Close
	// waits for callbacks, so it runs outside the locks they take.
	if prev != nil {
		if err := prev.Close(); err != nil {
			m.logger.Warn("closing replaced subscription failed", zap.Error(err))
		}
	}
	return nil
}

// Unsubscribe closes the live subscription, if any. No message is applied
// after it returns.
func (m *Messaging) Unsubscribe() error {
	m.mu.Lock()
	sub := m.sub
	m.sub = nil
	m.mu.Unlock()
	if sub == nil {
		return nil
	}
	return sub.Close()
}

// Subscribed returns the conversation of the live subscription, or "".
func (m *Messaging) Subscribed() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sub == nil {
		return ""
	}
	return m.sub.ConversationID()
}

// Close releases the store. State stops changing once it returns, including
// for calls still in flight.
func (m *Messaging) Close() error {
	if !m.markClosed() {
		return nil
	}
	return m.Unsubscribe()
}

func (m *Messaging) receive(userID string) func(model.Message) {
	return func(msg model.Message) {
		applied := m.commit(func() {
			if m.ActiveConversation() == msg.ConversationID {
				m.messages.AppendUnique(msg)
				m.sortMessages()
			} else if msg.SenderID != userID {
				m.unread.Add(msg.ConversationID, 1)
			}
			m.touch(msg)
		})
		if !applied {
			return
		}

		m.mu.Lock()
		listener := m.listener
		m.mu.Unlock()
		if listener != nil {
			listener(msg)
		}
	}
}

// touch moves the message's conversation to the top with a fresh preview.
func (m *Messaging) touch(msg model.Message) {
	found := m.conversations.Update(msg.ConversationID, func(c model.Conversation) model.Conversation {
		if msg.CreatedAt.After(c.LastActivityAt) {
			c.LastActivityAt = msg.CreatedAt
		}
		c.LastMessagePreview = msg.Preview()
		return c
	})
	if found {
		m.conversations.Sort(func(a, b model.Conversation) bool {
			return a.LastActivityAt.After(b.LastActivityAt)
		})
	}
}

func (m *Messaging) sortMessages() {
	m.messages.Sort(func(a, b model.Message) bool {
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

func (m *Messaging) markSeen(id string) {
	m.mu.Lock()
	sub := m.sub
	m.mu.Unlock()
	if sub != nil {
		sub.MarkSeen(id)
	}
}
