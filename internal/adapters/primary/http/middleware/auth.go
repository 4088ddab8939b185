package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/lorrc/workspace-realtime/internal/core/domain"
	"github.com/lorrc/workspace-realtime/internal/core/ports"
	"github.com/lorrc/workspace-realtime/internal/infrastructure/logging"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// UserIdentityKey is the key used to store the caller's identity in the request context.
const UserIdentityKey contextKey = "userIdentity"

// BearerToken extracts the token from an "Authorization: Bearer {token}" header.
// ok is false when the header is present but malformed.
func BearerToken(r *http.Request) (token string, ok bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", true
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// JWTMiddleware validates the bearer token from the Authorization header.
func JWTMiddleware(tokens ports.TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := BearerToken(r)
			if !ok {
				writeUnauthorized(w, "Authorization header format must be Bearer {token}")
				return
			}
			if tokenString == "" {
				writeUnauthorized(w, "Authorization header is required")
				return
			}

			identity, err := tokens.Validate(tokenString)
			if err != nil {
				writeUnauthorized(w, "Invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), UserIdentityKey, identity)
			ctx = logging.WithUserID(ctx, identity.UserID)
			if identity.OrgID != "" {
				ctx = logging.WithOrgID(ctx, identity.OrgID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFromContext returns the identity stored by JWTMiddleware.
func IdentityFromContext(ctx context.Context) (*domain.UserIdentity, bool) {
	identity, ok := ctx.Value(UserIdentityKey).(*domain.UserIdentity)
	return identity, ok && identity != nil
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + message + `","code":"UNAUTHORIZED"}`))
}
