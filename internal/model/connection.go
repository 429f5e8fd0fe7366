package model

import (
	"time"
)

// RequestStatus is the state of a directional request: pending -> accepted|rejected.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestAccepted RequestStatus = "accepted"
	RequestRejected RequestStatus = "rejected"
)

// Valid reports whether s is a known request status.
func (s RequestStatus) Valid() bool {
	return s == RequestPending || s == RequestAccepted || s == RequestRejected
}

// Responded returns the status that answers a pending request.
func Responded(accept bool) RequestStatus {
	if accept {
		return RequestAccepted
	}
	return RequestRejected
}

// RequestDirection selects incoming or outgoing requests.
type RequestDirection string

const (
	DirectionIncoming RequestDirection = "incoming"
	DirectionOutgoing RequestDirection = "outgoing"
	DirectionAll      RequestDirection = "all"
)

// PartnershipRequest is a request from one business to another. Only the
// target side may respond.
type PartnershipRequest struct {
	ID                  string        `json:"id"`
	RequesterBusinessID string        `json:"requester_business_id"`
	TargetBusinessID    string        `json:"target_business_id"`
	RequestedBy         string        `json:"requested_by"`
	TargetUserID        string        `json:"target_user_id"`
	CollaborationID     *string       `json:"collaboration_id,omitempty"`
	Message             string        `json:"message,omitempty"`
	Status              RequestStatus `json:"status"`
	CreatedAt           time.Time     `json:"created_at"`
	RespondedAt         *time.Time    `json:"responded_at,omitempty"`
}

// SendPartnershipRequest is the request to propose a partnership.
type SendPartnershipRequest struct {
	RequesterBusinessID string  `json:"requester_business_id"`
	TargetBusinessID    string  `json:"target_business_id"`
	TargetUserID        string  `json:"target_user_id"`
	CollaborationID     *string `json:"collaboration_id,omitempty"`
	Message             string  `json:"message,omitempty"`
}

// UserConnection is a connection request between two users.
type UserConnection struct {
	ID          string        `json:"id"`
	RequesterID string        `json:"requester_id"`
	AddresseeID string        `json:"addressee_id"`
	Message     string        `json:"message,omitempty"`
	Status      RequestStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	RespondedAt *time.Time    `json:"responded_at,omitempty"`
}

// Other returns the id of the party that is not userID.
func (c UserConnection) Other(userID string) string {
	if c.RequesterID == userID {
		return c.AddresseeID
	}
	return c.RequesterID
}

// RespondRequest answers a pending request.
type RespondRequest struct {
	Accept bool `json:"accept"`
}
