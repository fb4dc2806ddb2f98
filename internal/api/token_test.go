// ABOUTME: Tests for JWT verification
// ABOUTME: Round-trip, expiry, wrong secret, claim handling, header parsing

package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyRoundTrip(t *testing.T) {
	v := NewJWTVerifier([]byte("test-secret"))

	token, err := v.Generate("platform-service", time.Hour)
	require.NoError(t, err)

	caller, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "platform-service", caller)
}

func TestVerifyExpiredToken(t *testing.T) {
	v := NewJWTVerifier([]byte("test-secret"))

	token, err := v.Generate("platform-service", -time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestVerifyWrongSecret(t *testing.T) {
	token, err := NewJWTVerifier([]byte("right-secret")).Generate("platform-service", time.Hour)
	require.NoError(t, err)

	_, err = NewJWTVerifier([]byte("wrong-secret")).Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyGarbageToken(t *testing.T) {
	_, err := NewJWTVerifier([]byte("test-secret")).Verify("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyMissingSubClaim(t *testing.T) {
	secret := []byte("test-secret")
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(secret)
	require.NoError(t, err)

	_, err = NewJWTVerifier(secret).Verify(signed)
	assert.ErrorIs(t, err, ErrMissingClaim)
}

func TestVerifyRejectsUnsignedToken(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "intruder"})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewJWTVerifier([]byte("test-secret")).Verify(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestBearerToken(t *testing.T) {
	newRequest := func(header string) *http.Request {
		r, err := http.NewRequest(http.MethodGet, "/api/rooms", nil)
		require.NoError(t, err)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		return r
	}

	token, ok := bearerToken(newRequest("Bearer abc123"))
	assert.True(t, ok)
	assert.Equal(t, "abc123", token)

	_, ok = bearerToken(newRequest(""))
	assert.False(t, ok)

	_, ok = bearerToken(newRequest("Basic abc123"))
	assert.False(t, ok)

	_, ok = bearerToken(newRequest("Bearer "))
	assert.False(t, ok)
}
