package auth

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echosphere/backend/internal/models"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse", hash)
	assert.True(t, CheckPassword("correct horse", hash))
	assert.False(t, CheckPassword("battery staple", hash))
}

func TestJWTRoundTrip(t *testing.T) {
	svc := NewJWTService("secret", 1)
	u := &models.User{ID: uuid.New(), Email: "ana@example.com", Role: models.RoleAdmin}

	token, err := svc.Generate(u)
	require.NoError(t, err)
	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, claims.UserID)
	assert.Equal(t, models.RoleAdmin, claims.Role)
}

func TestJWTRejectsForeignAndExpiredTokens(t *testing.T) {
	u := &models.User{ID: uuid.New(), Role: models.RoleUser}
	other, err := NewJWTService("other", 1).Generate(u)
	require.NoError(t, err)
	_, err = NewJWTService("secret", 1).Validate(other)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := NewJWTService("secret", -1).Generate(u)
	require.NoError(t, err)
	_, err = NewJWTService("secret", 1).Validate(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestHashPasswordRejectsTruncation(t *testing.T) {
	_, err := HashPassword(strings.Repeat("a", 73))
	assert.ErrorIs(t, err, ErrPasswordTooLong)
}
