package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func hashKey(t *testing.T, key string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func TestAPIKeyAuthenticate(t *testing.T) {
	a := NewAPIKeyAuthenticator(APIKeyConfig{Keys: []APIKey{
		{Hash: hashKey(t, "device-key-1"), PrincipalID: "enum-1", Role: RoleEnumerator},
		{Hash: hashKey(t, "admin-key"), PrincipalID: "admin-1", Role: RoleAdmin},
	}})

	p, err := a.Authenticate(context.Background(), "device-key-1")
	require.NoError(t, err)
	assert.Equal(t, "enum-1", p.ID)
	assert.Equal(t, RoleEnumerator, p.Role)

	p, err = a.Authenticate(context.Background(), "admin-key")
	require.NoError(t, err)
	assert.Equal(t, "admin-1", p.ID)
	assert.True(t, p.IsAdmin())
}

func TestAPIKeyAuthenticate_UnknownKey(t *testing.T) {
	a := NewAPIKeyAuthenticator(APIKeyConfig{Keys: []APIKey{
		{Hash: hashKey(t, "device-key-1"), PrincipalID: "enum-1"},
	}})

	_, err := a.Authenticate(context.Background(), "wrong-key")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestAPIKeyAuthenticate_NoKeysConfigured(t *testing.T) {
	a := NewAPIKeyAuthenticator(APIKeyConfig{})

	_, err := a.Authenticate(context.Background(), "anything")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestAPIKeyAuthenticate_DefaultRole(t *testing.T) {
	a := NewAPIKeyAuthenticator(APIKeyConfig{Keys: []APIKey{
		{Hash: hashKey(t, "device-key-1"), PrincipalID: "enum-1"},
	}})

	p, err := a.Authenticate(context.Background(), "device-key-1")
	require.NoError(t, err)
	assert.Equal(t, RoleEnumerator, p.Role)
}
