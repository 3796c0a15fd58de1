package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret-key-for-testing")

func TestAccessToken_RoundTrip(t *testing.T) {
	accountID := uuid.New()
	token, exp, err := GenerateAccessToken(accountID, RoleAdmin, testSecret, 15*time.Minute)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), exp, 5*time.Second)

	claims, err := ValidateAccessToken(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, claims.Role)

	id, err := claims.AccountID()
	require.NoError(t, err)
	assert.Equal(t, accountID, id)
}

func TestValidateAccessToken_Rejects(t *testing.T) {
	accountID := uuid.New()

	expired, _, err := GenerateAccessToken(accountID, RoleUser, testSecret, -time.Minute)
	require.NoError(t, err)

	otherKey, _, err := GenerateAccessToken(accountID, RoleUser, []byte("another-secret"), time.Minute)
	require.NoError(t, err)

	badSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, AccessClaims{
		UserID: "not-a-uuid",
		Role:   RoleUser,
	}).SignedString(testSecret)
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, AccessClaims{
		UserID: accountID.String(),
		Role:   RoleAdmin,
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := map[string]string{
		"expired":        expired,
		"wrong secret":   otherKey,
		"bad user id":    badSubject,
		"none algorithm": unsigned,
		"garbage":        "not.a.token",
		"empty":          "",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ValidateAccessToken(token, testSecret)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestRole(t *testing.T) {
	assert.True(t, RoleAdmin.IsValid())
	assert.True(t, RoleUser.IsValid())
	assert.False(t, Role("viewer").IsValid())

	assert.True(t, RoleAdmin.HasPermission(RoleUser))
	assert.True(t, RoleUser.HasPermission(RoleUser))
	assert.False(t, RoleUser.HasPermission(RoleAdmin))
	assert.Equal(t, "ADMIN", RoleAdmin.String())
}
