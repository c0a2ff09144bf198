package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// contextKey is an unexported type used for context keys in this package, so
// no other package can read or shadow the values stored under it.
type contextKey string

const runIDKey contextKey = "runID"

// RequireRunToken guards routes that carry a run id in the URL parameter
// param. The token comes from an "Authorization: Bearer" header or, because
// EventSource cannot set headers, a "token" query parameter.
//
// A missing or invalid token is 401; a valid token for another run is 403.
func RequireRunToken(tokens *TokenService, param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := tokenFromRequest(r)
			if raw == "" {
				http.Error(w, `{"error":"unauthorized","message":"run token required"}`, http.StatusUnauthorized)
				return
			}
			runID, err := tokens.Validate(raw)
			if err != nil {
				http.Error(w, `{"error":"unauthorized","message":"valid run token required"}`, http.StatusUnauthorized)
				return
			}
			if runID != chi.URLParam(r, param) {
				http.Error(w, `{"error":"forbidden","message":"token was issued for another run"}`, http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), runIDKey, runID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RunIDFromContext returns the run id a request was authorized for.
func RunIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(runIDKey).(string)
	return id, ok && id != ""
}

func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}
