// Package backend defines the contract the sync layer needs from a hosted
// backend-as-a-service: table queries and mutations, server-side procedures
// and realtime row-change channels.
package backend

import (
	"context"
	"encoding/json"
)

// Store is the relational half of the backend.
type Store interface {
	// Select returns the rows of table matching q.
	Select(ctx context.Context, table string, q Query) ([]Row, error)
	// Count returns the number of rows of table matching filters.
	Count(ctx context.Context, table string, filters ...Filter) (int, error)
	// Insert stores row and returns it with server-assigned fields filled.
	Insert(ctx context.Context, table string, row Row) (Row, error)
	// Update applies patch to every row matching filters and returns the
	// number of affected rows.
	Update(ctx context.Context, table string, patch Row, filters ...Filter) (int, error)
	// Delete removes every row matching filters and returns how many went.
	Delete(ctx context.Context, table string, filters ...Filter) (int, error)
	// RPC invokes a named server-side procedure.
	RPC(ctx context.Context, name string, args Row) (json.RawMessage, error)
	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error
}

// Realtime opens row-change channels.
type Realtime interface {
	// OpenChannel subscribes to changes matching filter and returns once the
	// server acknowledged the subscription. handler runs on a goroutine owned
	// by the channel, one event at a time.
	OpenChannel(ctx context.Context, topic string, filter EventFilter, handler func(ChangeEvent)) (Channel, error)
}

// Channel is an open realtime subscription.
type Channel interface {
	Topic() string
	// Close stops delivery. No handler call starts after Close returns.
	Close() error
}

// Publisher receives every committed change so it can be fanned out to
// realtime subscribers.
type Publisher interface {
	Publish(ctx context.Context, ev ChangeEvent) error
}

// Backend is a store with realtime delivery.
type Backend interface {
	Store
	Realtime
}

type composite struct {
	Store
	Realtime
}

// Compose joins a store and a realtime transport into one Backend.
func Compose(store Store, rt Realtime) Backend {
	return composite{Store: store, Realtime: rt}
}

// Table names of the hosted schema.
const (
	TableConversations            = "conversations"
	TableConversationParticipants = "conversation_participants"
	TableMessages                 = "messages"
	TableFavorites                = "favorites"
	TableCollaborations           = "business_collaborations"
	TableEvents                   = "collaborative_events"
	TableEventParticipants        = "event_participants"
	TablePartnershipRequests      = "partnership_requests"
	TableUserConnections          = "user_connections"
)

// Server-side procedures.
const (
	RPCUnreadMessagesCount       = "get_unread_messages_count"
	RPCPopularFavorites          = "get_popular_favorites"
	RPCRecommendedCollaborations = "get_recommended_collaborations"
)
