package handler

import (
	"net/http"
	"strconv"

	"github.com/capitalize-ai/commerce-sync/internal/middleware"
	"github.com/capitalize-ai/commerce-sync/internal/model"
	"github.com/capitalize-ai/commerce-sync/internal/service"
	"github.com/capitalize-ai/commerce-sync/pkg/logger"
)

// CollaborationHandler handles collaboration, event, partnership and
// connection endpoints.
type CollaborationHandler struct {
	service *service.CollaborationService
	logger  *logger.Logger
}

func NewCollaborationHandler(svc *service.CollaborationService, log *logger.Logger) *CollaborationHandler {
	return &CollaborationHandler{service: svc, logger: log}
}

type statusRequest struct {
	Status model.CollaborationStatus `json:"status"`
}

type connectionRequest struct {
	UserID  string `json:"user_id"`
	Message string `json:"message,omitempty"`
}

// List handles GET /api/v1/collaborations?business_id=&type=&status=
func (h *CollaborationHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.CollaborationFilter{
		BusinessID: q.Get("business_id"),
		Type:       model.CollaborationType(q.Get("type")),
		Status:     model.CollaborationStatus(q.Get("status")),
	}
	limit, offset := page(r)
	collabs, err := h.service.ListCollaborations(r.Context(), filter, limit, offset)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"collaborations": collabs,
		"has_more":       hasMore(len(collabs), limit),
	})
}

// Create handles POST /api/v1/collaborations
func (h *CollaborationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.CreateCollaborationRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if err := middleware.ValidateContent("description", req.Description); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	collab, err := h.service.CreateCollaboration(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, collab)
}

// UpdateStatus handles PUT /api/v1/collaborations/{id}/status
func (h *CollaborationHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id", "collaboration")
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	var req statusRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	collab, err := h.service.UpdateCollaborationStatus(r.Context(), id, req.Status)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, collab)
}

// Recommended handles GET /api/v1/collaborations/recommended
func (h *CollaborationHandler) Recommended(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	collabs, err := h.service.Recommended(r.Context(), limit)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"collaborations": collabs})
}

// ListEvents handles GET /api/v1/events?collaboration_id=
func (h *CollaborationHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	limit, offset := page(r)
	events, err := h.service.ListEvents(r.Context(), r.URL.Query().Get("collaboration_id"), limit, offset)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events":   events,
		"has_more": hasMore(len(events), limit),
	})
}

// CreateEvent handles POST /api/v1/events
func (h *CollaborationHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req model.CreateEventRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if err := middleware.ValidateContent("description", req.Description); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	event, err := h.service.CreateEvent(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

// JoinEvent handles POST /api/v1/events/{id}/participants
func (h *CollaborationHandler) JoinEvent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id", "event")
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	participant, err := h.service.JoinEvent(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, participant)
}

// LeaveEvent handles DELETE /api/v1/events/{id}/participants
func (h *CollaborationHandler) LeaveEvent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id", "event")
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if err := h.service.LeaveEvent(r.Context(), id); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// EventParticipants handles GET /api/v1/events/{id}/participants
func (h *CollaborationHandler) EventParticipants(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id", "event")
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	limit, offset := page(r)
	participants, err := h.service.ListEventParticipants(r.Context(), id, limit, offset)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"participants": participants,
		"has_more":     hasMore(len(participants), limit),
	})
}

// ListPartnershipRequests handles GET /api/v1/partnerships?direction=incoming
func (h *CollaborationHandler) ListPartnershipRequests(w http.ResponseWriter, r *http.Request) {
	limit, offset := page(r)
	direction := model.RequestDirection(r.URL.Query().Get("direction"))
	reqs, err := h.service.ListPartnershipRequests(r.Context(), direction, limit, offset)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"requests": reqs,
		"has_more": hasMore(len(reqs), limit),
	})
}

// SendPartnershipRequest handles POST /api/v1/partnerships
func (h *CollaborationHandler) SendPartnershipRequest(w http.ResponseWriter, r *http.Request) {
	var req model.SendPartnershipRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if err := middleware.ValidateContent("message", req.Message); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	pr, err := h.service.SendPartnershipRequest(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, pr)
}

// RespondToPartnershipRequest handles PUT /api/v1/partnerships/{id}
func (h *CollaborationHandler) RespondToPartnershipRequest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id", "partnership request")
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	var req model.RespondRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	pr, err := h.service.RespondToPartnershipRequest(r.Context(), id, req.Accept)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, pr)
}

// ListConnections handles GET /api/v1/connections?status=accepted
func (h *CollaborationHandler) ListConnections(w http.ResponseWriter, r *http.Request) {
	limit, offset := page(r)
	status := model.RequestStatus(r.URL.Query().Get("status"))
	conns, err := h.service.ListConnections(r.Context(), status, limit, offset)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"connections": conns,
		"has_more":    hasMore(len(conns), limit),
	})
}

// SendConnectionRequest handles POST /api/v1/connections
func (h *CollaborationHandler) SendConnectionRequest(w http.ResponseWriter, r *http.Request) {
	var req connectionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if err := middleware.ValidateContent("message", req.Message); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	conn, err := h.service.SendConnectionRequest(r.Context(), req.UserID, req.Message)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, conn)
}

// RespondToConnectionRequest handles PUT /api/v1/connections/{id}
func (h *CollaborationHandler) RespondToConnectionRequest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id", "connection")
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	var req model.RespondRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	conn, err := h.service.RespondToConnectionRequest(r.Context(), id, req.Accept)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

// RemoveConnection handles DELETE /api/v1/connections/{id}
func (h *CollaborationHandler) RemoveConnection(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id", "connection")
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if err := h.service.RemoveConnection(r.Context(), id); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
