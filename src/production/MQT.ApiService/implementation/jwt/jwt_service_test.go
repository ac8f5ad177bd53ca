package jwt

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndValidate(t *testing.T) {
	svc := NewService(Config{SecretKey: "secret", Issuer: "mpt-auth-service"})

	token, err := svc.Issue("user-1", "viewer", time.Minute)
	require.NoError(t, err)

	claims, err := svc.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "viewer", claims.Role)
	assert.NotEmpty(t, claims.TokenID)
}

func TestValidate_Rejects(t *testing.T) {
	svc := NewService(Config{SecretKey: "secret", Issuer: "mpt-auth-service"})

	expired, err := svc.Issue("user-1", "viewer", -time.Minute)
	require.NoError(t, err)
	_, err = svc.ValidateAccessToken(expired)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	foreign, err := NewService(Config{SecretKey: "other", Issuer: "mpt-auth-service"}).Issue("user-1", "viewer", time.Minute)
	require.NoError(t, err)
	_, err = svc.ValidateAccessToken(foreign)
	assert.Error(t, err)

	wrongIssuer, err := NewService(Config{SecretKey: "secret", Issuer: "someone-else"}).Issue("user-1", "viewer", time.Minute)
	require.NoError(t, err)
	_, err = svc.ValidateAccessToken(wrongIssuer)
	assert.ErrorIs(t, err, jwt.ErrTokenInvalidIssuer)

	_, err = svc.ValidateAccessToken("not-a-token")
	assert.Error(t, err)
}
