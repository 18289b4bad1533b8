package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// CookieName is the HttpOnly cookie the session token travels in.
const CookieName = "token"

// contextKey is unexported so no other package can read or overwrite the
// user ID stored by this middleware.
type contextKey string

const userIDKey contextKey = "userID"

var errNoToken = errors.New("auth: no token presented")

// RequireAuth rejects requests without a valid session token with 401 and
// stores the user ID in the request context for the rest.
//
// TOKEN SOURCES, IN ORDER:
//  1. the "token" cookie (browsers; set by the login handler)
//  2. Authorization: Bearer <jwt> (API clients and tests)
//
// onAuth, when non-nil, runs after a successful check with the request's
// context and user ID. The server uses it to bump last_seen.
func RequireAuth(tokens *TokenService, onAuth func(ctx context.Context, userID string)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := extractUserID(r, tokens)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"unauthorized","message":"valid authentication required"}`))
				return
			}

			ctx := ContextWithUserID(r.Context(), userID)
			if onAuth != nil {
				onAuth(ctx, userID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuth identifies the caller when a valid token is present and lets
// anonymous requests through untouched. Profile pages use it to fill in
// "is the viewer following this user".
func OptionalAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if userID, err := extractUserID(r, tokens); err == nil {
				r = r.WithContext(ContextWithUserID(r.Context(), userID))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ContextWithUserID returns ctx carrying userID, as RequireAuth would set it.
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext returns ("", false) for anonymous requests.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

func extractUserID(r *http.Request, tokens *TokenService) (string, error) {
	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		return tokens.Validate(cookie.Value)
	}

	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok && token != "" {
		return tokens.Validate(strings.TrimSpace(token))
	}

	return "", errNoToken
}
