// Package model defines the entities synchronized between the backend and
// the client-side stores.
package model

import (
	"time"
)

// ConversationType distinguishes one-to-one from group conversations.
type ConversationType string

const (
	ConversationDirect ConversationType = "direct"
	ConversationGroup  ConversationType = "group"
)

// Valid reports whether t is a known conversation type.
func (t ConversationType) Valid() bool {
	return t == ConversationDirect || t == ConversationGroup
}

// Conversation represents a conversation thread as seen by one viewer.
type Conversation struct {
	ID                 string           `json:"id"`
	Type               ConversationType `json:"type"`
	Title              string           `json:"title,omitempty"`
	CreatedBy          string           `json:"created_by"`
	LastActivityAt     time.Time        `json:"last_activity_at"`
	ParticipantCount   int              `json:"participant_count"`
	LastMessagePreview string           `json:"last_message_preview,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`

	// Per-viewer fields, filled from the viewer's participant row and the
	// unread RPC. Not stored on the conversation row.
	IsMuted     bool `json:"is_muted"`
	UnreadCount int  `json:"unread_count"`
}

// ConversationParticipant is a membership row.
type ConversationParticipant struct {
	ConversationID string     `json:"conversation_id"`
	UserID         string     `json:"user_id"`
	JoinedAt       time.Time  `json:"joined_at"`
	LeftAt         *time.Time `json:"left_at,omitempty"`
	LastReadAt     *time.Time `json:"last_read_at,omitempty"`
	IsMuted        bool       `json:"is_muted"`
}

// Active reports whether the participant has not left.
func (p ConversationParticipant) Active() bool {
	return p.LeftAt == nil
}

// UnreadCount is one row of the get_unread_messages_count RPC.
type UnreadCount struct {
	ConversationID string `json:"conversation_id"`
	UnreadCount    int    `json:"unread_count"`
}

// CreateConversationRequest is the request to create a new conversation.
type CreateConversationRequest struct {
	Type           ConversationType `json:"type"`
	Title          string           `json:"title,omitempty"`
	ParticipantIDs []string         `json:"participant_ids"`
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
	HasMore       bool           `json:"has_more"`
}
