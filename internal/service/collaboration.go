package service

import (
	"context"
	"strings"

	"github.com/capitalize-ai/commerce-sync/internal/backend"
	"github.com/capitalize-ai/commerce-sync/internal/model"
	"github.com/capitalize-ai/commerce-sync/internal/session"
	"github.com/capitalize-ai/commerce-sync/pkg/apperror"
	"github.com/capitalize-ai/commerce-sync/pkg/logger"
)

// CollaborationService handles business collaborations, their events,
// partnership requests and user connections.
type CollaborationService struct {
	base
}

// NewCollaborationService creates a new collaboration service.
func NewCollaborationService(store backend.Store, sessions session.Provider, log *logger.Logger, opts ...Option) *CollaborationService {
	return &CollaborationService{base: newBase("collaboration", store, sessions, log, opts)}
}

// ListCollaborations returns collaborations matching filter, newest first.
func (s *CollaborationService) ListCollaborations(ctx context.Context, filter model.CollaborationFilter, limit, offset int) (collabs []model.BusinessCollaboration, err error) {
	ctx, _, done, err := s.begin(ctx, "ListCollaborations")
	if err != nil {
		return nil, err
	}
	defer done(&err)

	limit, offset = page(limit, offset)
	var filters []backend.Filter
	if filter.BusinessID != "" {
		filters = append(filters, backend.Eq("business_id", filter.BusinessID))
	}
	if filter.Type != "" {
		filters = append(filters, backend.Eq("collaboration_type", string(filter.Type)))
	}
	if filter.Status != "" {
		filters = append(filters, backend.Eq("status", string(filter.Status)))
	}
	rows, err := s.store.Select(ctx, backend.TableCollaborations, backend.Query{
		Filters: filters,
		Order:   []backend.Order{{Column: "created_at", Desc: true}},
		Offset:  offset,
		Limit:   limit,
	})
	if err != nil {
		return nil, err
	}
	return backend.DecodeAll[model.BusinessCollaboration](rows)
}

// CreateCollaboration opens a new collaboration owned by the user.
func (s *CollaborationService) CreateCollaboration(ctx context.Context, req model.CreateCollaborationRequest) (collab *model.BusinessCollaboration, err error) {
	const op = "collaboration.CreateCollaboration"
	ctx, userID, done, err := s.begin(ctx, "CreateCollaboration")
	if err != nil {
		return nil, err
	}
	defer done(&err)

	switch {
	case req.BusinessID == "":
		return nil, apperror.Validation(op, "business id is required")
	case strings.TrimSpace(req.Title) == "":
		return nil, apperror.Validation(op, "title is required")
	case !req.Type.Valid():
		return nil, apperror.Validation(op, "unknown collaboration type %q", req.Type)
	case req.Budget != nil && *req.Budget < 0:
		return nil, apperror.Validation(op, "budget cannot be negative")
	}

	row := backend.Row{
		"business_id":        req.BusinessID,
		"title":              strings.TrimSpace(req.Title),
		"description":        req.Description,
		"collaboration_type": string(req.Type),
		"status":             string(model.CollaborationOpen),
		"created_by":         userID,
	}
	if req.Budget != nil {
		row["budget"] = *req.Budget
	}
	if req.Deadline != nil {
		row["deadline"] = backend.FormatTime(*req.Deadline)
	}
	stored, err := s.store.Insert(ctx, backend.TableCollaborations, row)
	if err != nil {
		return nil, err
	}
	return decodeOne[model.BusinessCollaboration](stored)
}

// UpdateCollaborationStatus moves a collaboration the user created along its
// lifecycle.
func (s *CollaborationService) UpdateCollaborationStatus(ctx context.Context, id string, status model.CollaborationStatus) (collab *model.BusinessCollaboration, err error) {
	ctx, userID, done, err := s.begin(ctx, "UpdateCollaborationStatus")
	if err != nil {
		return nil, err
	}
	defer done(&err)

	row, err := s.single(ctx, backend.TableCollaborations, backend.Eq("id", id))
	if err != nil {
		return nil, err
	}
	collab, err = decodeOne[model.BusinessCollaboration](row)
	if err != nil {
		return nil, err
	}
	if collab.CreatedBy != userID {
		return nil, apperror.E(apperror.KindForbidden, "", "only the creator can change this collaboration")
	}
	if !collab.Status.CanTransition(status) {
		return nil, apperror.E(apperror.KindConflict, "", "cannot move from "+string(collab.Status)+" to "+string(status))
	}

	n, err := s.store.Update(ctx, backend.TableCollaborations,
		backend.Row{"status": string(status)},
		backend.Eq("id", id), backend.Eq("status", string(collab.Status)),
	)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, apperror.E(apperror.KindConflict, "", "this collaboration was changed by someone else")
	}
	collab.Status = status
	return collab, nil
}

// Recommended returns open collaborations from other users, newest first.
func (s *CollaborationService) Recommended(ctx context.Context, limit int) (collabs []model.BusinessCollaboration, err error) {
	ctx, userID, done, err := s.begin(ctx, "Recommended")
	if err != nil {
		return nil, err
	}
	defer done(&err)

	limit, _ = page(limit, 0)
	return rpc[model.BusinessCollaboration](ctx, s.store, backend.RPCRecommendedCollaborations,
		backend.Row{"p_user_id": userID, "p_limit": limit})
}
