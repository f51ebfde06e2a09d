package session

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("unrelated-key"))
	require.NoError(t, err)
	return tok
}

func TestTokenExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	assert.False(t, tokenExpired("opaque-token", now))
	assert.False(t, tokenExpired("a.b.c", now))
	assert.False(t, tokenExpired(signed(t, jwt.MapClaims{"sub": "u1"}), now))
	assert.False(t, tokenExpired(signed(t, jwt.MapClaims{"exp": now.Add(time.Hour).Unix()}), now))
	assert.True(t, tokenExpired(signed(t, jwt.MapClaims{"exp": now.Add(-time.Minute).Unix()}), now))
	assert.True(t, tokenExpired(signed(t, jwt.MapClaims{"exp": now.Unix()}), now))
}
