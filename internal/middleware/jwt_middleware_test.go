package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm_relay/internal/auth"
)

var testSecret = []byte("middleware-secret")

func TestAccessTokenMiddleware(t *testing.T) {
	accountID := uuid.New()
	valid, _, err := auth.GenerateAccessToken(accountID, auth.RoleAdmin, testSecret, time.Minute)
	require.NoError(t, err)
	expired, _, err := auth.GenerateAccessToken(accountID, auth.RoleAdmin, testSecret, -time.Minute)
	require.NoError(t, err)

	var gotID uuid.UUID
	var gotRole auth.Role
	handler := AccessTokenMiddleware(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ok bool
		gotID, ok = GetAccountID(r.Context())
		require.True(t, ok)
		gotRole, ok = GetRole(r.Context())
		require.True(t, ok)
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid token", "Bearer " + valid, http.StatusNoContent},
		{"missing header", "", http.StatusUnauthorized},
		{"missing bearer prefix", valid, http.StatusUnauthorized},
		{"expired token", "Bearer " + expired, http.StatusUnauthorized},
		{"garbage", "Bearer abc", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/chat/stream", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}

	assert.Equal(t, accountID, gotID)
	assert.Equal(t, auth.RoleAdmin, gotRole)
}

func TestContextGettersWithoutAuth(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := GetAccountID(req.Context())
	assert.False(t, ok)
	_, ok = GetRole(req.Context())
	assert.False(t, ok)
}
