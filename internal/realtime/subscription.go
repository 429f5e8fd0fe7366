// Package realtime subscribes to new messages of one conversation at a time
// and delivers each of them once.
package realtime

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/capitalize-ai/commerce-sync/internal/backend"
	"github.com/capitalize-ai/commerce-sync/internal/model"
	"github.com/capitalize-ai/commerce-sync/pkg/logger"
	"github.com/capitalize-ai/commerce-sync/pkg/metrics"
)

// State is the lifecycle state of a Subscription.
type State string

const (
	StateClosed  State = "closed"
	StateOpening State = "opening"
	StateOpen    State = "open"
)

// Known reports whether a message id is already held by the caller.
type Known func(messageID string) bool

// Manager opens message subscriptions on a realtime transport.
type Manager struct {
	rt     backend.Realtime
	logger *logger.Logger
}

func NewManager(rt backend.Realtime, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.NewNop()
	}
	return &Manager{rt: rt, logger: log.Named("realtime")}
}

// Subscription delivers INSERTs on one conversation's messages.
type Subscription struct {
	conversationID string
	known          Known
	onMessage      func(model.Message)
	logger         *logger.Logger

	mu      sync.Mutex
	state   State
	channel backend.Channel
	seen    map[string]struct{}
}

// Subscribe opens a subscription and returns once the transport acknowledged
// it. known may be nil. onMessage runs on the transport's goroutine, one
// message at a time.
func (m *Manager) Subscribe(ctx context.Context, conversationID string, known Known, onMessage func(model.Message)) (*Subscription, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("subscribe: conversation id is required")
	}
	s := &Subscription{
		conversationID: conversationID,
		known:          known,
		onMessage:      onMessage,
		logger:         m.logger.With(zap.String("conversation_id", conversationID)),
		state:          StateOpening,
		seen:           make(map[string]struct{}),
	}

	f := backend.Eq("conversation_id", conversationID)
	ch, err := m.rt.OpenChannel(ctx, backend.Topic(backend.TableMessages, &f), backend.EventFilter{
		Event:  backend.EventInsert,
		Table:  backend.TableMessages,
		Filter: &f,
	}, s.handle)
	if err != nil {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
		return nil, fmt.Errorf("subscribe to conversation %s: %w", conversationID, err)
	}

	s.mu.Lock()
	s.channel = ch
	s.state = StateOpen
	s.mu.Unlock()

	metrics.RealtimeSubscriptionsActive.Inc()
	s.logger.Debug("subscription open", zap.String("topic", ch.Topic()))
	return s, nil
}

func (s *Subscription) ConversationID() string {
	return s.conversationID
}

func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// MarkSeen records ids the caller already holds, e.g. messages it sent.
func (s *Subscription) MarkSeen(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.seen[id] = struct{}{}
	}
}

// Close tears down the channel. No onMessage call starts after Close
// returns. It must not be called from inside onMessage.
func (s *Subscription) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	ch := s.channel
	s.state = StateClosed
	s.channel = nil
	s.mu.Unlock()

	metrics.RealtimeSubscriptionsActive.Dec()
	if ch == nil {
		return nil
	}
	if err := ch.Close(); err != nil {
		return fmt.Errorf("close subscription %s: %w", s.conversationID, err)
	}
	return nil
}

func (s *Subscription) handle(ev backend.ChangeEvent) {
	var msg model.Message
	if err := backend.Decode(ev.Record, &msg); err != nil || msg.ID == "" {
		metrics.RealtimeEventsTotal.WithLabelValues(backend.TableMessages, "malformed").Inc()
		s.logger.Warn("dropping malformed message event", zap.Error(err))
		return
	}
	if msg.ConversationID != s.conversationID {
		metrics.RealtimeEventsTotal.WithLabelValues(backend.TableMessages, "filtered").Inc()
		return
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	_, dup := s.seen[msg.ID]
	s.seen[msg.ID] = struct{}{}
	s.mu.Unlock()

	if !dup && s.known != nil && s.known(msg.ID) {
		dup = true
	}

	if dup {
		metrics.RealtimeEventsTotal.WithLabelValues(backend.TableMessages, "duplicate").Inc()
		return
	}
	metrics.RealtimeEventsTotal.WithLabelValues(backend.TableMessages, "delivered").Inc()
	if s.onMessage != nil {
		s.onMessage(msg)
	}
}
