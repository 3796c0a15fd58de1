package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"llm_relay/internal/auth"
	"llm_relay/internal/utils"
)

// ContextKey defines the type for context keys to avoid conflicts
type ContextKey string

// Context keys for storing authentication data
const (
	AccountIDKey ContextKey = "accountID"
	RoleKey      ContextKey = "role"
)

// AccessTokenMiddleware requires a valid Bearer access token and stores the
// account id and role in the request context.
func AccessTokenMiddleware(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			tokenString, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || tokenString == "" {
				utils.RespondWithError(w, http.StatusUnauthorized, "Missing authentication token")
				return
			}

			claims, err := auth.ValidateAccessToken(tokenString, secret)
			if err != nil {
				utils.RespondWithError(w, http.StatusUnauthorized, "Invalid or expired token")
				return
			}
			accountID, _ := claims.AccountID()

			ctx := context.WithValue(r.Context(), AccountIDKey, accountID)
			ctx = context.WithValue(ctx, RoleKey, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAccountID retrieves the authenticated account id from the request context
func GetAccountID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(AccountIDKey).(uuid.UUID)
	return id, ok
}

// GetRole retrieves the authenticated role from the request context
func GetRole(ctx context.Context) (auth.Role, bool) {
	role, ok := ctx.Value(RoleKey).(auth.Role)
	return role, ok
}
