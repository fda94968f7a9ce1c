package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, c claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func validClaims() claims {
	return claims{
		Role: RoleEnumerator,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "enum-1",
			Issuer:    "fieldwork",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func TestJWTAuthenticate(t *testing.T) {
	a := NewJWTAuthenticator(JWTConfig{Secret: testSecret})

	p, err := a.Authenticate(context.Background(), signToken(t, testSecret, validClaims()))
	require.NoError(t, err)
	assert.Equal(t, "enum-1", p.ID)
	assert.Equal(t, RoleEnumerator, p.Role)
	assert.False(t, p.IsAdmin())
}

func TestJWTAuthenticate_AdminRole(t *testing.T) {
	a := NewJWTAuthenticator(JWTConfig{Secret: testSecret})

	c := validClaims()
	c.Role = RoleAdmin
	p, err := a.Authenticate(context.Background(), signToken(t, testSecret, c))
	require.NoError(t, err)
	assert.True(t, p.IsAdmin())
}

func TestJWTAuthenticate_DefaultRole(t *testing.T) {
	a := NewJWTAuthenticator(JWTConfig{Secret: testSecret})

	c := validClaims()
	c.Role = ""
	p, err := a.Authenticate(context.Background(), signToken(t, testSecret, c))
	require.NoError(t, err)
	assert.Equal(t, RoleEnumerator, p.Role)
}

func TestJWTAuthenticate_UnknownRole(t *testing.T) {
	a := NewJWTAuthenticator(JWTConfig{Secret: testSecret})

	c := validClaims()
	c.Role = "supervisor"
	_, err := a.Authenticate(context.Background(), signToken(t, testSecret, c))
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestJWTAuthenticate_WrongSecret(t *testing.T) {
	a := NewJWTAuthenticator(JWTConfig{Secret: testSecret})

	_, err := a.Authenticate(context.Background(), signToken(t, "other-secret", validClaims()))
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestJWTAuthenticate_Expired(t *testing.T) {
	a := NewJWTAuthenticator(JWTConfig{Secret: testSecret})

	c := validClaims()
	c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	_, err := a.Authenticate(context.Background(), signToken(t, testSecret, c))
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestJWTAuthenticate_MissingSubject(t *testing.T) {
	a := NewJWTAuthenticator(JWTConfig{Secret: testSecret})

	c := validClaims()
	c.Subject = ""
	_, err := a.Authenticate(context.Background(), signToken(t, testSecret, c))
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestJWTAuthenticate_IssuerEnforced(t *testing.T) {
	a := NewJWTAuthenticator(JWTConfig{Secret: testSecret, Issuer: "fieldwork"})

	p, err := a.Authenticate(context.Background(), signToken(t, testSecret, validClaims()))
	require.NoError(t, err)
	assert.Equal(t, "enum-1", p.ID)

	c := validClaims()
	c.Issuer = "someone-else"
	_, err = a.Authenticate(context.Background(), signToken(t, testSecret, c))
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestJWTAuthenticate_Garbage(t *testing.T) {
	a := NewJWTAuthenticator(JWTConfig{Secret: testSecret})

	_, err := a.Authenticate(context.Background(), "not-a-token")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}
