package model

import (
	"time"
)

// CollaborationType is the kind of business collaboration.
type CollaborationType string

const (
	CollaborationEvent       CollaborationType = "event"
	CollaborationCampaign    CollaborationType = "campaign"
	CollaborationPromotion   CollaborationType = "promotion"
	CollaborationPartnership CollaborationType = "partnership"
)

// Valid reports whether t is a known collaboration type.
func (t CollaborationType) Valid() bool {
	switch t {
	case CollaborationEvent, CollaborationCampaign, CollaborationPromotion, CollaborationPartnership:
		return true
	}
	return false
}

// CollaborationStatus follows open -> in_progress -> completed|cancelled.
type CollaborationStatus string

const (
	CollaborationOpen       CollaborationStatus = "open"
	CollaborationInProgress CollaborationStatus = "in_progress"
	CollaborationCompleted  CollaborationStatus = "completed"
	CollaborationCancelled  CollaborationStatus = "cancelled"
)

var collaborationTransitions = map[CollaborationStatus][]CollaborationStatus{
	CollaborationOpen:       {CollaborationInProgress, CollaborationCancelled},
	CollaborationInProgress: {CollaborationCompleted, CollaborationCancelled},
}

// CanTransition reports whether s may move to next.
func (s CollaborationStatus) CanTransition(next CollaborationStatus) bool {
	for _, v := range collaborationTransitions[s] {
		if v == next {
			return true
		}
	}
	return false
}

// BusinessCollaboration is a collaboration offered by a business.
type BusinessCollaboration struct {
	ID          string              `json:"id"`
	BusinessID  string              `json:"business_id"`
	Title       string              `json:"title"`
	Description string              `json:"description,omitempty"`
	Type        CollaborationType   `json:"collaboration_type"`
	Status      CollaborationStatus `json:"status"`
	Budget      *float64            `json:"budget,omitempty"`
	Deadline    *time.Time          `json:"deadline,omitempty"`
	CreatedBy   string              `json:"created_by"`
	CreatedAt   time.Time           `json:"created_at"`
}

// CollaborationFilter narrows collaboration listings. Zero values match all.
type CollaborationFilter struct {
	BusinessID string              `json:"business_id,omitempty"`
	Type       CollaborationType   `json:"collaboration_type,omitempty"`
	Status     CollaborationStatus `json:"status,omitempty"`
}

// CreateCollaborationRequest is the request to create a collaboration.
type CreateCollaborationRequest struct {
	BusinessID  string            `json:"business_id"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Type        CollaborationType `json:"collaboration_type"`
	Budget      *float64          `json:"budget,omitempty"`
	Deadline    *time.Time        `json:"deadline,omitempty"`
}

// EventStatus follows planned -> active -> completed|cancelled.
type EventStatus string

const (
	EventPlanned   EventStatus = "planned"
	EventActive    EventStatus = "active"
	EventCompleted EventStatus = "completed"
	EventCancelled EventStatus = "cancelled"
)

// Joinable reports whether registrations are accepted in this status.
func (s EventStatus) Joinable() bool {
	return s == EventPlanned || s == EventActive
}

// CollaborativeEvent is an event run under a collaboration.
type CollaborativeEvent struct {
	ID                   string      `json:"id"`
	CollaborationID      string      `json:"collaboration_id"`
	Title                string      `json:"title"`
	Description          string      `json:"description,omitempty"`
	EventDate            time.Time   `json:"event_date"`
	RegistrationDeadline *time.Time  `json:"registration_deadline,omitempty"`
	MaxParticipants      int         `json:"max_participants"`
	CurrentParticipants  int         `json:"current_participants"`
	Status               EventStatus `json:"status"`
	CreatedBy            string      `json:"created_by"`
	CreatedAt            time.Time   `json:"created_at"`
}

// Full reports whether the event has no free places. MaxParticipants <= 0
// means unlimited.
func (e CollaborativeEvent) Full() bool {
	return e.MaxParticipants > 0 && e.CurrentParticipants >= e.MaxParticipants
}

// CreateEventRequest is the request to create an event.
type CreateEventRequest struct {
	CollaborationID      string     `json:"collaboration_id"`
	Title                string     `json:"title"`
	Description          string     `json:"description,omitempty"`
	EventDate            time.Time  `json:"event_date"`
	RegistrationDeadline *time.Time `json:"registration_deadline,omitempty"`
	MaxParticipants      int        `json:"max_participants"`
}

// ParticipantStatus is the registration state of an event participant.
type ParticipantStatus string

const (
	ParticipantRegistered ParticipantStatus = "registered"
	ParticipantAttended   ParticipantStatus = "attended"
	ParticipantCancelled  ParticipantStatus = "cancelled"
)

// EventParticipant is unique on (EventID, UserID).
type EventParticipant struct {
	EventID      string            `json:"event_id"`
	UserID       string            `json:"user_id"`
	Status       ParticipantStatus `json:"status"`
	RegisteredAt time.Time         `json:"registered_at"`
}
