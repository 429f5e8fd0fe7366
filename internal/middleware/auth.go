// Package middleware provides HTTP middleware for the API server.
package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/capitalize-ai/commerce-sync/internal/session"
	"github.com/capitalize-ai/commerce-sync/pkg/apperror"
)

// accessTokenParam carries the token for clients that cannot set headers,
// such as browser EventSource streams.
const accessTokenParam = "access_token"

// Auth validates the bearer access token and places its subject into the
// request context with session.WithUser.
func Auth(verifier *session.TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, "missing authorization header", apperror.KindUnauthenticated)
				return
			}

			claims, err := verifier.Verify(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, apperror.UserMessage(err), apperror.KindUnauthenticated)
				return
			}

			noteUser(r.Context(), claims.Subject)
			next.ServeHTTP(w, r.WithContext(session.WithUser(r.Context(), claims.Subject)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			return "", false
		}
		return parts[1], true
	}
	if token := r.URL.Query().Get(accessTokenParam); token != "" {
		return token, true
	}
	return "", false
}

// GetUserID gets the authenticated user id from context.
func GetUserID(r *http.Request) string {
	return session.UserFromContext(r.Context())
}

func writeError(w http.ResponseWriter, status int, msg string, kind apperror.Kind) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg, "kind": string(kind)})
}
