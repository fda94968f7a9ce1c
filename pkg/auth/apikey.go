package auth

import (
	"context"

	"golang.org/x/crypto/bcrypt"
)

// APIKey is one configured device key. The key itself is never stored; only
// its bcrypt hash appears in configuration.
type APIKey struct {
	// Hash is the bcrypt hash of the key value.
	Hash string `yaml:"hash"`

	// PrincipalID is the enumerator or admin this key authenticates as.
	PrincipalID string `yaml:"principal_id"`

	// Role is RoleAdmin or RoleEnumerator.
	Role string `yaml:"role"`
}

// APIKeyConfig configures the API key authenticator.
type APIKeyConfig struct {
	Keys []APIKey `yaml:"keys"`
}

// APIKeyAuthenticator authenticates field devices by pre-shared keys.
type APIKeyAuthenticator struct {
	keys []APIKey
}

// NewAPIKeyAuthenticator creates an API key authenticator.
func NewAPIKeyAuthenticator(cfg APIKeyConfig) *APIKeyAuthenticator {
	return &APIKeyAuthenticator{keys: cfg.Keys}
}

// Authenticate compares the credential against every configured hash. bcrypt
// comparison is constant-time per candidate.
func (a *APIKeyAuthenticator) Authenticate(_ context.Context, credential string) (*Principal, error) {
	for i := range a.keys {
		key := &a.keys[i]
		if bcrypt.CompareHashAndPassword([]byte(key.Hash), []byte(credential)) == nil {
			role := key.Role
			if role == "" {
				role = RoleEnumerator
			}
			return &Principal{ID: key.PrincipalID, Role: role}, nil
		}
	}
	return nil, ErrUnauthenticated
}

// Verify interface compliance.
var _ Authenticator = (*APIKeyAuthenticator)(nil)
