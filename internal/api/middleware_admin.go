package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"rbt/internal/models"

	"github.com/gorilla/mux"
)

type contextKey string

const editorContextKey contextKey = "editor"

// bearerToken returns the token of an "Authorization: Bearer" header.
func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(prefix):])
}

// keyMatches compares token against every key in constant time.
func keyMatches(token string, keys []string) bool {
	if token == "" {
		return false
	}
	matched := 0
	for _, k := range keys {
		if k == "" {
			continue
		}
		matched |= subtle.ConstantTimeCompare([]byte(token), []byte(k))
	}
	return matched == 1
}

// editorMiddleware marks requests carrying an editor or admin key. Invalid
// or missing keys pass through unmarked.
func editorMiddleware(cfg models.SecurityConfig) mux.MiddlewareFunc {
	keys := append(append([]string{}, cfg.EditorKeys...), cfg.AdminKeys...)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(keys) > 0 && keyMatches(bearerToken(r), keys) {
				r = r.WithContext(context.WithValue(r.Context(), editorContextKey, true))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// isEditor reports whether editorMiddleware authenticated the request.
func isEditor(r *http.Request) bool {
	ok, _ := r.Context().Value(editorContextKey).(bool)
	return ok
}

// requireAdminKey rejects requests without a configured admin key. With no
// admin keys configured the admin endpoints are closed.
func requireAdminKey(cfg models.SecurityConfig) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			switch {
			case len(cfg.AdminKeys) == 0:
				writeAuthError(w, http.StatusForbidden, "Admin access is not configured", models.ErrorCodeForbidden)
			case r.Header.Get("Authorization") == "":
				writeAuthError(w, http.StatusUnauthorized, "Authorization required", models.ErrorCodeUnauthorized)
			case !keyMatches(token, cfg.AdminKeys):
				writeAuthError(w, http.StatusForbidden, "Insufficient permissions for this operation", models.ErrorCodeForbidden)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func writeAuthError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(models.NewErrorResponse(message, code))
}
