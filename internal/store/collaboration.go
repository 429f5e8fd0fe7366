package store

import (
	"context"

	"github.com/capitalize-ai/commerce-sync/internal/model"
	"github.com/capitalize-ai/commerce-sync/internal/optimistic"
	"github.com/capitalize-ai/commerce-sync/internal/service"
	"github.com/capitalize-ai/commerce-sync/internal/state"
	"github.com/capitalize-ai/commerce-sync/pkg/logger"
)

// Collaboration operations, as reported by Loading.
const (
	OpLoadCollaborations        = "loadCollaborations"
	OpCreateCollaboration       = "createCollaboration"
	OpUpdateCollaborationStatus = "updateCollaborationStatus"
	OpLoadRecommended           = "loadRecommended"
	OpLoadEvents                = "loadEvents"
	OpCreateEvent               = "createEvent"
	OpJoinEvent                 = "joinEvent"
	OpLeaveEvent                = "leaveEvent"
	OpLoadEventParticipants     = "loadEventParticipants"
	OpLoadPartnershipRequests   = "loadPartnershipRequests"
	OpSendPartnershipRequest    = "sendPartnershipRequest"
	OpRespondPartnership        = "respondToPartnershipRequest"
	OpLoadConnections           = "loadConnections"
	OpSendConnectionRequest     = "sendConnectionRequest"
	OpRespondConnection         = "respondToConnectionRequest"
	OpRemoveConnection          = "removeConnection"
)

// Collaboration is the state of the collaboration screens: collaborations,
// their events, partnership requests and connections.
type Collaboration struct {
	base
	svc *service.CollaborationService

	collaborations *state.List[model.BusinessCollaboration]
	recommended    *state.List[model.BusinessCollaboration]
	events         *state.List[model.CollaborativeEvent]
	registrations  *state.List[model.EventParticipant]
	participants   *state.List[model.EventParticipant]
	requests       *state.List[model.PartnershipRequest]
	connections    *state.List[model.UserConnection]
}

func NewCollaboration(svc *service.CollaborationService, log *logger.Logger) *Collaboration {
	collabID := func(c model.BusinessCollaboration) string { return c.ID }
	return &Collaboration{
		base:           newBase("collaboration_store", log),
		svc:            svc,
		collaborations: state.NewList(collabID),
		recommended:    state.NewList(collabID),
		events:         state.NewList(func(e model.CollaborativeEvent) string { return e.ID }),
		registrations:  state.NewList(func(p model.EventParticipant) string { return p.EventID }),
		participants:   state.NewList(func(p model.EventParticipant) string { return p.UserID }),
		requests:       state.NewList(func(r model.PartnershipRequest) string { return r.ID }),
		connections:    state.NewList(func(c model.UserConnection) string { return c.ID }),
	}
}

func (c *Collaboration) Collaborations() []model.BusinessCollaboration {
	return c.collaborations.Items()
}

func (c *Collaboration) Recommended() []model.BusinessCollaboration {
	return c.recommended.Items()
}

// Events returns the loaded events, soonest first. Events created here are
// at the front until the next load.
func (c *Collaboration) Events() []model.CollaborativeEvent {
	return c.events.Items()
}

// Event returns one loaded event.
func (c *Collaboration) Event(id string) (model.CollaborativeEvent, bool) {
	return c.events.Get(id)
}

// Joined reports whether the user joined the event through this store.
func (c *Collaboration) Joined(eventID string) bool {
	return c.registrations.Has(eventID)
}

// Participants returns the registrations of the last event whose
// participants were loaded.
func (c *Collaboration) Participants() []model.EventParticipant {
	return c.participants.Items()
}

func (c *Collaboration) PartnershipRequests() []model.PartnershipRequest {
	return c.requests.Items()
}

func (c *Collaboration) Connections() []model.UserConnection {
	return c.connections.Items()
}

// LoadCollaborations loads one page of collaborations matching filter.
func (c *Collaboration) LoadCollaborations(ctx context.Context, filter model.CollaborationFilter, limit, offset int) (err error) {
	done := c.action(OpLoadCollaborations)
	defer done(&err)

	return load(&c.base, c.collaborations, offset, func() ([]model.BusinessCollaboration, error) {
		return c.svc.ListCollaborations(ctx, filter, limit, offset)
	}, nil)
}

// CreateCollaboration creates a collaboration and puts it first in the list.
func (c *Collaboration) CreateCollaboration(ctx context.Context, req model.CreateCollaborationRequest) (collab *model.BusinessCollaboration, err error) {
	done := c.action(OpCreateCollaboration)
	defer done(&err)

	collab, err = c.svc.CreateCollaboration(ctx, req)
	if err != nil {
		return nil, err
	}
	created := *collab
	c.commit(func() { c.collaborations.Prepend(created) })
	return collab, nil
}

// UpdateCollaborationStatus moves a collaboration to status ahead of the call.
func (c *Collaboration) UpdateCollaborationStatus(ctx context.Context, id string, status model.CollaborationStatus) (err error) {
	done := c.action(OpUpdateCollaborationStatus)
	defer done(&err)

	return c.mutate(ctx, OpUpdateCollaborationStatus,
		func() optimistic.Undo {
			undo := c.collaborations.CheckpointItem(id)
			c.collaborations.Update(id, func(collab model.BusinessCollaboration) model.BusinessCollaboration {
				collab.Status = status
				return collab
			})
			return undo
		},
		func(ctx context.Context) error {
			_, err := c.svc.UpdateCollaborationStatus(ctx, id, status)
			return err
		},
	)
}

// LoadRecommended loads open collaborations from other users.
func (c *Collaboration) LoadRecommended(ctx context.Context, limit int) (err error) {
	done := c.action(OpLoadRecommended)
	defer done(&err)

	return load(&c.base, c.recommended, 0, func() ([]model.BusinessCollaboration, error) {
		return c.svc.Recommended(ctx, limit)
	}, nil)
}

// LoadEvents loads one page of events. An empty collaborationID loads every
// event.
func (c *Collaboration) LoadEvents(ctx context.Context, collaborationID string, limit, offset int) (err error) {
	done := c.action(OpLoadEvents)
	defer done(&err)

	return load(&c.base, c.events, offset, func() ([]model.CollaborativeEvent, error) {
		return c.svc.ListEvents(ctx, collaborationID, limit, offset)
	}, nil)
}

// CreateEvent schedules an event and puts it first in the list.
func (c *Collaboration) CreateEvent(ctx context.Context, req model.CreateEventRequest) (event *model.CollaborativeEvent, err error) {
	done := c.action(OpCreateEvent)
	defer done(&err)

	event, err = c.svc.CreateEvent(ctx, req)
	if err != nil {
		return nil, err
	}
	created := *event
	c.commit(func() { c.events.Prepend(created) })
	return event, nil
}

// JoinEvent registers the user. The event's participant count goes up at
// once and comes back down if the call fails.
func (c *Collaboration) JoinEvent(ctx context.Context, eventID string) (err error) {
	done := c.action(OpJoinEvent)
	defer done(&err)

	var registration *model.EventParticipant
	err = c.mutate(ctx, OpJoinEvent,
		func() optimistic.Undo {
			undo := optimistic.Undos(c.events.CheckpointItem(eventID), c.registrations.CheckpointItem(eventID))
			c.events.Update(eventID, func(e model.CollaborativeEvent) model.CollaborativeEvent {
				e.CurrentParticipants++
				return e
			})
			c.registrations.Prepend(model.EventParticipant{EventID: eventID, Status: model.ParticipantRegistered})
			return undo
		},
		func(ctx context.Context) (err error) {
			registration, err = c.svc.JoinEvent(ctx, eventID)
			return err
		},
	)
	if err != nil {
		return err
	}
	confirmed := *registration
	c.commit(func() {
		c.registrations.Update(eventID, func(model.EventParticipant) model.EventParticipant { return confirmed })
	})
	return nil
}

// LeaveEvent cancels the user's registration. The participant count drops
// at once, never below zero, and is restored if the call fails.
func (c *Collaboration) LeaveEvent(ctx context.Context, eventID string) (err error) {
	done := c.action(OpLeaveEvent)
	defer done(&err)

	return c.mutate(ctx, OpLeaveEvent,
		func() optimistic.Undo {
			undo := optimistic.Undos(c.events.CheckpointItem(eventID), c.registrations.CheckpointItem(eventID))
			c.events.Update(eventID, func(e model.CollaborativeEvent) model.CollaborativeEvent {
				e.CurrentParticipants = max(e.CurrentParticipants-1, 0)
				return e
			})
			c.registrations.Remove(eventID)
			return undo
		},
		func(ctx context.Context) error { return c.svc.LeaveEvent(ctx, eventID) },
	)
}

// LoadEventParticipants loads one page of an event's registrations.
func (c *Collaboration) LoadEventParticipants(ctx context.Context, eventID string, limit, offset int) (err error) {
	done := c.action(OpLoadEventParticipants)
	defer done(&err)

	return load(&c.base, c.participants, offset, func() ([]model.EventParticipant, error) {
		return c.svc.ListEventParticipants(ctx, eventID, limit, offset)
	}, nil)
}

// LoadPartnershipRequests loads one page of partnership requests.
func (c *Collaboration) LoadPartnershipRequests(ctx context.Context, direction model.RequestDirection, limit, offset int) (err error) {
	done := c.action(OpLoadPartnershipRequests)
	defer done(&err)

	return load(&c.base, c.requests, offset, func() ([]model.PartnershipRequest, error) {
		return c.svc.ListPartnershipRequests(ctx, direction, limit, offset)
	}, nil)
}

// SendPartnershipRequest sends a request and puts it first in the list.
func (c *Collaboration) SendPartnershipRequest(ctx context.Context, req model.SendPartnershipRequest) (pr *model.PartnershipRequest, err error) {
	done := c.action(OpSendPartnershipRequest)
	defer done(&err)

	pr, err = c.svc.SendPartnershipRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	sent := *pr
	c.commit(func() { c.requests.Prepend(sent) })
	return pr, nil
}

// RespondToPartnershipRequest answers a request, showing the new status
// ahead of the call.
func (c *Collaboration) RespondToPartnershipRequest(ctx context.Context, id string, accept bool) (err error) {
	done := c.action(OpRespondPartnership)
	defer done(&err)

	var answered *model.PartnershipRequest
	err = c.mutate(ctx, OpRespondPartnership,
		func() optimistic.Undo {
			undo := c.requests.CheckpointItem(id)
			c.requests.Update(id, func(r model.PartnershipRequest) model.PartnershipRequest {
				r.Status = model.Responded(accept)
				return r
			})
			return undo
		},
		func(ctx context.Context) (err error) {
			answered, err = c.svc.RespondToPartnershipRequest(ctx, id, accept)
			return err
		},
	)
	if err != nil {
		return err
	}
	confirmed := *answered
	c.commit(func() {
		c.requests.Update(id, func(model.PartnershipRequest) model.PartnershipRequest { return confirmed })
	})
	return nil
}

// LoadConnections loads one page of the user's connections. An empty
// status loads every status.
func (c *Collaboration) LoadConnections(ctx context.Context, status model.RequestStatus, limit, offset int) (err error) {
	done := c.action(OpLoadConnections)
	defer done(&err)

	return load(&c.base, c.connections, offset, func() ([]model.UserConnection, error) {
		return c.svc.ListConnections(ctx, status, limit, offset)
	}, nil)
}

// SendConnectionRequest asks another user to connect and puts the request
// first in the list.
func (c *Collaboration) SendConnectionRequest(ctx context.Context, targetUserID, message string) (conn *model.UserConnection, err error) {
	done := c.action(OpSendConnectionRequest)
	defer done(&err)

	conn, err = c.svc.SendConnectionRequest(ctx, targetUserID, message)
	if err != nil {
		return nil, err
	}
	sent := *conn
	c.commit(func() { c.connections.Prepend(sent) })
	return conn, nil
}

// RespondToConnectionRequest answers a connection request, showing the new
// status ahead of the call.
func (c *Collaboration) RespondToConnectionRequest(ctx context.Context, id string, accept bool) (err error) {
	done := c.action(OpRespondConnection)
	defer done(&err)

	var answered *model.UserConnection
	err = c.mutate(ctx, OpRespondConnection,
		func() optimistic.Undo {
			undo := c.connections.CheckpointItem(id)
			c.connections.Update(id, func(conn model.UserConnection) model.UserConnection {
				conn.Status = model.Responded(accept)
				return conn
			})
			return undo
		},
		func(ctx context.Context) (err error) {
			answered, err = c.svc.RespondToConnectionRequest(ctx, id, accept)
			return err
		},
	)
	if err != nil {
		return err
	}
	confirmed := *answered
	c.commit(func() {
		c.connections.Update(id, func(model.UserConnection) model.UserConnection { return confirmed })
	})
	return nil
}

// RemoveConnection removes a connection from the list ahead of the call
// and puts it back if the call fails.
func (c *Collaboration) RemoveConnection(ctx context.Context, id string) (err error) {
	done := c.action(OpRemoveConnection)
	defer done(&err)

	return c.mutate(ctx, OpRemoveConnection,
		func() optimistic.Undo {
			undo := c.connections.CheckpointItem(id)
			c.connections.Remove(id)
			return undo
		},
		func(ctx context.Context) error { return c.svc.RemoveConnection(ctx, id) },
	)
}

// Close releases the store. State stops changing once it returns.
func (c *Collaboration) Close() error {
	c.markClosed()
	return nil
}
