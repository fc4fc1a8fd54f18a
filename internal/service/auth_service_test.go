package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Giuseph66/Avaliacoes-seguras/internal/config"
	"github.com/Giuseph66/Avaliacoes-seguras/internal/model"
)

func newAuthService(expiry time.Duration) *AuthService {
	return NewAuthService(&config.Config{
		JWTSecret:  "test-secret",
		JWTExpiry:  expiry,
		BcryptCost: 4,
	}, nil)
}

func TestPasswordHashRoundTrip(t *testing.T) {
	svc := newAuthService(time.Hour)

	hash, err := svc.HashPassword("senha-secreta")
	require.NoError(t, err)
	assert.NotEqual(t, "senha-secreta", hash)

	assert.NoError(t, svc.CheckPassword(hash, "senha-secreta"))
	assert.ErrorIs(t, svc.CheckPassword(hash, "senha-errada"), ErrInvalidCredentials)
}

func TestTokenRoundTrip(t *testing.T) {
	svc := newAuthService(time.Hour)
	user := model.User{
		ID:   "user-1",
		Name: "Maria Souza",
		Role: model.RoleStudent,
	}

	token, err := svc.GenerateToken(user)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "Maria Souza", claims.Name)
	assert.Equal(t, TokenTypeStudent, claims.TokenType)
}

func TestValidateTokenRejectsBadInput(t *testing.T) {
	svc := newAuthService(time.Hour)

	_, err := svc.ValidateToken("not-a-token")
	assert.Error(t, err)

	// A token signed with another secret must not validate.
	other := NewAuthService(&config.Config{JWTSecret: "other-secret", JWTExpiry: time.Hour}, nil)
	token, err := other.GenerateToken(model.User{ID: "user-1", Role: model.RoleProfessor})
	require.NoError(t, err)
	_, err = svc.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	svc := newAuthService(-time.Minute)
	token, err := svc.GenerateToken(model.User{ID: "user-1", Role: model.RoleProfessor})
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.Error(t, err)
}
