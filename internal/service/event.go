package service

import (
	"context"
	"strings"

	"github.com/capitalize-ai/commerce-sync/internal/backend"
	"github.com/capitalize-ai/commerce-sync/internal/model"
	"github.com/capitalize-ai/commerce-sync/pkg/apperror"
)

// ListEvents returns events ordered by date, soonest first. An empty
// collaborationID lists every event.
func (s *CollaborationService) ListEvents(ctx context.Context, collaborationID string, limit, offset int) (events []model.CollaborativeEvent, err error) {
	ctx, _, done, err := s.begin(ctx, "ListEvents")
	if err != nil {
		return nil, err
	}
	defer done(&err)

	limit, offset = page(limit, offset)
	var filters []backend.Filter
	if collaborationID != "" {
		filters = append(filters, backend.Eq("collaboration_id", collaborationID))
	}
	rows, err := s.store.Select(ctx, backend.TableEvents, backend.Query{
		Filters: filters,
		Order:   []backend.Order{{Column: "event_date"}},
		Offset:  offset,
		Limit:   limit,
	})
	if err != nil {
		return nil, err
	}
	return backend.DecodeAll[model.CollaborativeEvent](rows)
}

// CreateEvent schedules an event under an existing collaboration.
func (s *CollaborationService) CreateEvent(ctx context.Context, req model.CreateEventRequest) (event *model.CollaborativeEvent, err error) {
	const op = "collaboration.CreateEvent"
	ctx, userID, done, err := s.begin(ctx, "CreateEvent")
	if err != nil {
		return nil, err
	}
	defer done(&err)

	switch {
	case req.CollaborationID == "":
		return nil, apperror.Validation(op, "collaboration id is required")
	case strings.TrimSpace(req.Title) == "":
		return nil, apperror.Validation(op, "title is required")
	case req.EventDate.IsZero():
		return nil, apperror.Validation(op, "event date is required")
	case req.MaxParticipants < 0:
		return nil, apperror.Validation(op, "max participants cannot be negative")
	case req.RegistrationDeadline != nil && req.RegistrationDeadline.After(req.EventDate):
		return nil, apperror.Validation(op, "registration must close before the event")
	}

	row := backend.Row{
		"collaboration_id":     req.CollaborationID,
		"title":                strings.TrimSpace(req.Title),
		"description":          req.Description,
		"event_date":           backend.FormatTime(req.EventDate),
		"max_participants":     req.MaxParticipants,
		"current_participants": 0,
		"status":               string(model.EventPlanned),
		"created_by":           userID,
	}
	if req.RegistrationDeadline != nil {
		row["registration_deadline"] = backend.FormatTime(*req.RegistrationDeadline)
	}
	stored, err := s.store.Insert(ctx, backend.TableEvents, row)
	if err != nil {
		return nil, err
	}
	return decodeOne[model.CollaborativeEvent](stored)
}

// JoinEvent registers the user for an event. A full event is rejected with
// CapacityExceeded before anything is written; a second registration is a
// Conflict.
//
// Capacity is checked with a read followed by a write, so two concurrent
// joins for the last place can both succeed. The hosted schema has no
// atomic increment procedure to close that window.
func (s *CollaborationService) JoinEvent(ctx context.Context, eventID string) (participant *model.EventParticipant, err error) {
	ctx, userID, done, err := s.begin(ctx, "JoinEvent")
	if err != nil {
		return nil, err
	}
	defer done(&err)

	event, err := s.loadEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !event.Status.Joinable() {
		return nil, apperror.E(apperror.KindConflict, "", "registration is closed for this event")
	}
	if event.RegistrationDeadline != nil && s.now().After(*event.RegistrationDeadline) {
		return nil, apperror.E(apperror.KindConflict, "", "registration deadline has passed")
	}
	if event.Full() {
		return nil, apperror.E(apperror.KindCapacityExceeded, "", "")
	}

	row, err := s.store.Insert(ctx, backend.TableEventParticipants, backend.Row{
		"event_id": eventID,
		"user_id":  userID,
		"status":   string(model.ParticipantRegistered),
	})
	if backend.IsUniqueViolation(err) {
		return nil, &apperror.Error{Kind: apperror.KindConflict, Message: "already registered for this event", Err: err}
	}
	if err != nil {
		return nil, err
	}
	if _, err := s.store.Update(ctx, backend.TableEvents,
		backend.Row{"current_participants": event.CurrentParticipants + 1},
		backend.Eq("id", eventID),
	); err != nil {
		// Drop the registration so the count and the rows stay in step.
		if _, cleanupErr := s.store.Delete(ctx, backend.TableEventParticipants,
			backend.Eq("event_id", eventID), backend.Eq("user_id", userID),
		); cleanupErr != nil {
			s.logFailure("collaboration.JoinEvent", cleanupErr)
		}
		return nil, err
	}
	return decodeOne[model.EventParticipant](row)
}

// LeaveEvent cancels the user's registration. Leaving an event the user is
// not registered for is a no-op. The participant count never drops below zero.
func (s *CollaborationService) LeaveEvent(ctx context.Context, eventID string) (err error) {
	ctx, userID, done, err := s.begin(ctx, "LeaveEvent")
	if err != nil {
		return err
	}
	defer done(&err)

	n, err := s.store.Delete(ctx, backend.TableEventParticipants,
		backend.Eq("event_id", eventID), backend.Eq("user_id", userID))
	if err != nil || n == 0 {
		return err
	}

	event, err := s.loadEvent(ctx, eventID)
	if err != nil {
		return err
	}
	_, err = s.store.Update(ctx, backend.TableEvents,
		backend.Row{"current_participants": max(event.CurrentParticipants-1, 0)},
		backend.Eq("id", eventID),
	)
	return err
}

// ListEventParticipants returns an event's registrations in sign-up order.
func (s *CollaborationService) ListEventParticipants(ctx context.Context, eventID string, limit, offset int) (participants []model.EventParticipant, err error) {
	ctx, _, done, err := s.begin(ctx, "ListEventParticipants")
	if err != nil {
		return nil, err
	}
	defer done(&err)

	limit, offset = page(limit, offset)
	rows, err := s.store.Select(ctx, backend.TableEventParticipants, backend.Query{
		Filters: []backend.Filter{backend.Eq("event_id", eventID)},
		Order:   []backend.Order{{Column: "registered_at"}},
		Offset:  offset,
		Limit:   limit,
	})
	if err != nil {
		return nil, err
	}
	return backend.DecodeAll[model.EventParticipant](rows)
}

func (s *CollaborationService) loadEvent(ctx context.Context, eventID string) (*model.CollaborativeEvent, error) {
	row, err := s.single(ctx, backend.TableEvents, backend.Eq("id", eventID))
	if backend.IsNoRows(err) {
		return nil, apperror.E(apperror.KindNotFound, "", "event not found")
	}
	if err != nil {
		return nil, err
	}
	return decodeOne[model.CollaborativeEvent](row)
}
