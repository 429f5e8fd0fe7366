package handler

import (
	"net/http"

	"github.com/capitalize-ai/commerce-sync/internal/middleware"
	"github.com/capitalize-ai/commerce-sync/internal/model"
	"github.com/capitalize-ai/commerce-sync/internal/service"
	"github.com/capitalize-ai/commerce-sync/pkg/logger"
)

// ConversationHandler handles conversation endpoints.
type ConversationHandler struct {
	service *service.MessagingService
	logger  *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(svc *service.MessagingService, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		service: svc,
		logger:  log,
	}
}

type directConversationRequest struct {
	UserID string `json:"user_id"`
}

type muteRequest struct {
	Muted bool `json:"muted"`
}

type addParticipantsRequest struct {
	UserIDs []string `json:"user_ids"`
}

// List handles GET /api/v1/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := page(r)
	convs, err := h.service.ListConversations(r.Context(), limit, offset)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, &model.ListConversationsResponse{
		Conversations: convs,
		HasMore:       hasMore(len(convs), limit),
	})
}

// Create handles POST /api/v1/conversations
func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.CreateConversationRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if err := middleware.ValidateContent("title", req.Title); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	conv, err := h.service.CreateConversation(r.Context(), req.Type, req.Title, req.ParticipantIDs)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

// Direct handles POST /api/v1/conversations/direct
func (h *ConversationHandler) Direct(w http.ResponseWriter, r *http.Request) {
	var req directConversationRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	conv, err := h.service.GetOrCreateDirectConversation(r.Context(), req.UserID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// Get handles GET /api/v1/conversations/{id}
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id", "conversation")
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	conv, err := h.service.GetConversation(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// MarkRead handles POST /api/v1/conversations/{id}/read
func (h *ConversationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id", "conversation")
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if err := h.service.MarkAsRead(r.Context(), id); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Mute handles PUT /api/v1/conversations/{id}/mute
func (h *ConversationHandler) Mute(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id", "conversation")
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	var req muteRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if err := h.service.SetMuted(r.Context(), id, req.Muted); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Leave handles DELETE /api/v1/conversations/{id}/membership
func (h *ConversationHandler) Leave(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id", "conversation")
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if err := h.service.LeaveConversation(r.Context(), id); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddParticipants handles POST /api/v1/conversations/{id}/participants
func (h *ConversationHandler) AddParticipants(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id", "conversation")
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	var req addParticipantsRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	conv, err := h.service.AddParticipants(r.Context(), id, req.UserIDs)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// Unread handles GET /api/v1/unread
func (h *ConversationHandler) Unread(w http.ResponseWriter, r *http.Request) {
	counts, err := h.service.UnreadCounts(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	total := 0
	for _, c := range counts {
		total += c.UnreadCount
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversations": counts,
		"total":         total,
	})
}
