package handler

import (
	"net/http"

	"github.com/capitalize-ai/commerce-sync/internal/middleware"
	"github.com/capitalize-ai/commerce-sync/internal/model"
	"github.com/capitalize-ai/commerce-sync/internal/service"
	"github.com/capitalize-ai/commerce-sync/pkg/logger"
)

// MessageHandler handles message endpoints.
type MessageHandler struct {
	service *service.MessagingService
	logger  *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(svc *service.MessagingService, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		service: svc,
		logger:  log,
	}
}

// List handles GET /api/v1/conversations/{id}/messages
// The page is oldest first; offset counts back from the newest message.
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id", "conversation")
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	limit, offset := page(r)
	msgs, err := h.service.ListMessages(r.Context(), id, limit, offset)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, &model.ListMessagesResponse{
		Messages: msgs,
		HasMore:  hasMore(len(msgs), limit),
	})
}

// Send handles POST /api/v1/conversations/{id}/messages
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id", "conversation")
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	var req model.SendMessageRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if err := middleware.ValidateContent("message", req.Content); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	msg, err := h.service.SendMessage(r.Context(), id, req.Content, req.Type, req.ReplyToID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// Edit handles PUT /api/v1/messages/{messageID}
func (h *MessageHandler) Edit(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "messageID", "message")
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	var req model.EditMessageRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if err := middleware.ValidateContent("message", req.Content); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	msg, err := h.service.EditMessage(r.Context(), id, req.Content)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// Delete handles DELETE /api/v1/messages/{messageID}
func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "messageID", "message")
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if err := h.service.DeleteMessage(r.Context(), id); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
