// Package auth resolves request credentials to a Principal. The session core
// treats the result as an external identity oracle; it never inspects
// credentials itself.
package auth

import (
	"context"
	"errors"
)

// Roles known to the service.
const (
	RoleAdmin      = "admin"
	RoleEnumerator = "enumerator"
)

// ErrUnauthenticated is returned when no authenticator accepts the credential.
var ErrUnauthenticated = errors.New("unauthenticated")

// Principal is the authenticated caller.
type Principal struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

// IsAdmin reports whether the principal holds the admin role.
func (p *Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// Authenticator validates a presented credential.
type Authenticator interface {
	// Authenticate resolves the credential to a Principal, or returns
	// ErrUnauthenticated when the credential is not recognized.
	Authenticate(ctx context.Context, credential string) (*Principal, error)
}

// contextKey is a private type for context keys.
type contextKey int

const principalKey contextKey = iota

// WithPrincipal adds the principal to the context.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFrom retrieves the principal from the context, or nil.
func PrincipalFrom(ctx context.Context) *Principal {
	if p, ok := ctx.Value(principalKey).(*Principal); ok {
		return p
	}
	return nil
}
