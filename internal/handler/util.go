// Package handler exposes the gateway over HTTP.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/commerce-sync/internal/middleware"
	"github.com/capitalize-ai/commerce-sync/internal/service"
	"github.com/capitalize-ai/commerce-sync/pkg/apperror"
	"github.com/capitalize-ai/commerce-sync/pkg/logger"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string, kind apperror.Kind) {
	writeJSON(w, status, map[string]string{
		"error": message,
		"kind":  string(kind),
	})
}

// writeServiceError renders a gateway error with the status of its kind.
// Unclassified errors are logged since the client only sees a generic
// message.
func writeServiceError(w http.ResponseWriter, r *http.Request, log *logger.Logger, err error) {
	kind := apperror.KindOf(err)
	if kind == apperror.KindUnknown {
		log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			zap.Error(err),
		)
	}
	writeError(w, apperror.HTTPStatus(err), apperror.UserMessage(err), kind)
}

// decodeBody reads a JSON request body into v. An empty body leaves v as is.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return apperror.Validation("handler.decode", "invalid request body")
	}
	return nil
}

// pathID returns a UUID path parameter.
func pathID(r *http.Request, param, what string) (string, error) {
	id := chi.URLParam(r, param)
	if err := middleware.ValidateID(what, id); err != nil {
		return "", err
	}
	return id, nil
}

func page(r *http.Request) (int, int) {
	q := r.URL.Query()
	return middleware.ParsePage(q.Get("limit"), q.Get("offset"))
}

// hasMore reports whether a full page came back, so another may follow.
func hasMore(n, limit int) bool {
	if limit <= 0 {
		limit = service.DefaultPageSize
	}
	return n >= min(limit, service.MaxPageSize)
}
