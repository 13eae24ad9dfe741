package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"divgate/internal/platform/config"
)

func TestTokenService_RoundTrip(t *testing.T) {
	svc := NewTokenService(config.JWTConfig{Secret: "s3cret", AccessTokenTTL: time.Hour})

	token, expires, err := svc.GenerateAccessToken("ops", RoleAdmin)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, time.Minute)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Username)
	assert.Equal(t, RoleAdmin, claims.Role)
}

func TestTokenService_Rejects(t *testing.T) {
	svc := NewTokenService(config.JWTConfig{Secret: "s3cret", AccessTokenTTL: time.Hour})
	token, _, err := svc.GenerateAccessToken("ops", RoleAdmin)
	require.NoError(t, err)

	other := NewTokenService(config.JWTConfig{Secret: "different", AccessTokenTTL: time.Hour})
	_, err = other.ValidateToken(token)
	assert.Error(t, err, "wrong secret")

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Role: RoleAdmin})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = svc.ValidateToken(unsigned)
	assert.Error(t, err)
}

func TestCheckAdmin(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)

	assert.True(t, CheckAdmin("ops", hash, "ops", "hunter2"))
	assert.False(t, CheckAdmin("ops", hash, "ops", "wrong"))
	assert.False(t, CheckAdmin("ops", hash, "root", "hunter2"))
	assert.False(t, CheckAdmin("ops", "", "ops", ""))
}
