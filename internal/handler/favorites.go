package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/commerce-sync/internal/middleware"
	"github.com/capitalize-ai/commerce-sync/internal/model"
	"github.com/capitalize-ai/commerce-sync/internal/service"
	"github.com/capitalize-ai/commerce-sync/pkg/logger"
)

// FavoritesHandler handles favorites endpoints.
type FavoritesHandler struct {
	service *service.FavoritesService
	logger  *logger.Logger
}

func NewFavoritesHandler(svc *service.FavoritesService, log *logger.Logger) *FavoritesHandler {
	return &FavoritesHandler{service: svc, logger: log}
}

// target reads the {type}/{favoriteID} path pair.
func target(r *http.Request) (model.FavoriteType, string) {
	return model.FavoriteType(chi.URLParam(r, "type")), chi.URLParam(r, "favoriteID")
}

// List handles GET /api/v1/favorites?type=program
func (h *FavoritesHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := page(r)
	favs, err := h.service.List(r.Context(), model.FavoriteType(r.URL.Query().Get("type")), limit, offset)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"favorites": favs,
		"has_more":  hasMore(len(favs), limit),
	})
}

// Add handles POST /api/v1/favorites
func (h *FavoritesHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req model.AddFavoriteRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if err := middleware.ValidateContent("notes", req.Notes); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	fav, err := h.service.Add(r.Context(), req.FavoriteType, req.FavoriteID, req.Notes, req.Tags)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, fav)
}

// Remove handles DELETE /api/v1/favorites/{type}/{favoriteID}
func (h *FavoritesHandler) Remove(w http.ResponseWriter, r *http.Request) {
	favType, favoriteID := target(r)
	if err := h.service.Remove(r.Context(), favType, favoriteID); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Check handles GET /api/v1/favorites/{type}/{favoriteID}
func (h *FavoritesHandler) Check(w http.ResponseWriter, r *http.Request) {
	favType, favoriteID := target(r)
	ok, err := h.service.IsFavorite(r.Context(), favType, favoriteID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"is_favorite": ok})
}

// Update handles PUT /api/v1/favorites/{id}
func (h *FavoritesHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id", "favorite")
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	var req model.UpdateFavoriteRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if err := middleware.ValidateContent("notes", req.Notes); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	fav, err := h.service.UpdateNotes(r.Context(), id, req.Notes, req.Tags)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, fav)
}

// Counts handles GET /api/v1/favorites/counts
func (h *FavoritesHandler) Counts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.service.Counts(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"counts": counts,
		"total":  counts.Total(),
	})
}

// Popular handles GET /api/v1/favorites/popular?type=program&limit=10
func (h *FavoritesHandler) Popular(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	popular, err := h.service.Popular(r.Context(), model.FavoriteType(r.URL.Query().Get("type")), limit)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"popular": popular})
}
