package model

import (
	"time"
)

// MessageType is the kind of payload a message carries.
type MessageType string

const (
	MessageText          MessageType = "text"
	MessageImage         MessageType = "image"
	MessageVideo         MessageType = "video"
	MessageAudio         MessageType = "audio"
	MessageLocation      MessageType = "location"
	MessageProgramShare  MessageType = "program_share"
	MessageBusinessShare MessageType = "business_share"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageVideo, MessageAudio,
		MessageLocation, MessageProgramShare, MessageBusinessShare:
		return true
	}
	return false
}

// Message represents a conversation message. Edits and deletes are soft.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	SenderID       string      `json:"sender_id"`
	Content        string      `json:"content"`
	Type           MessageType `json:"message_type"`
	ReplyToID      *string     `json:"reply_to_id,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	EditedAt  *time.Time `json:"edited_at,omitempty"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
}

// Deleted reports whether the message was soft-deleted.
func (m Message) Deleted() bool {
	return m.DeletedAt != nil
}

// Preview returns the denormalized text shown in conversation lists.
func (m Message) Preview() string {
	const maxPreview = 120
	if m.Type != MessageText && m.Type != "" {
		return "[" + string(m.Type) + "]"
	}
	r := []rune(m.Content)
	if len(r) > maxPreview {
		return string(r[:maxPreview]) + "…"
	}
	return m.Content
}

// SendMessageRequest is the request to send a new message.
type SendMessageRequest struct {
	Content   string      `json:"content"`
	Type      MessageType `json:"message_type,omitempty"`
	ReplyToID *string     `json:"reply_to_id,omitempty"`
}

// EditMessageRequest is the request to edit a message.
type EditMessageRequest struct {
	Content string `json:"content"`
}

// ListMessagesResponse is the response for listing messages.
type ListMessagesResponse struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"has_more"`
}

// HeartbeatEvent represents a heartbeat event.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

// ErrorEvent represents an error event.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
