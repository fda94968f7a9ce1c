package auth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig configures the JWT authenticator.
type JWTConfig struct {
	// Secret is the HMAC signing key.
	Secret string

	// Issuer, if set, is required to match the token's iss claim.
	Issuer string
}

// JWTAuthenticator validates HS256 bearer tokens. The subject claim becomes
// the principal ID and the role claim the principal role.
type JWTAuthenticator struct {
	secret []byte
	issuer string
}

// NewJWTAuthenticator creates a JWT authenticator.
func NewJWTAuthenticator(cfg JWTConfig) *JWTAuthenticator {
	return &JWTAuthenticator{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
	}
}

// claims is the expected token payload.
type claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticate parses and validates the token.
func (a *JWTAuthenticator) Authenticate(_ context.Context, credential string) (*Principal, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	var c claims
	token, err := jwt.ParseWithClaims(credential, &c, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, ErrUnauthenticated
	}

	if c.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}
	role := c.Role
	if role == "" {
		role = RoleEnumerator
	}
	if role != RoleAdmin && role != RoleEnumerator {
		return nil, fmt.Errorf("%w: unknown role %q", ErrUnauthenticated, c.Role)
	}

	return &Principal{ID: c.Subject, Role: role}, nil
}

// Verify interface compliance.
var _ Authenticator = (*JWTAuthenticator)(nil)
