package auth

import (
	"context"
	"errors"
	"fmt"
)

// Authenticator turns a bearer token into an Identity.
type Authenticator struct {
	secret   []byte
	resolver ScopeResolver
}

// NewAuthenticator constructs an authenticator.
func NewAuthenticator(secret []byte, resolver ScopeResolver) (*Authenticator, error) {
	if len(secret) == 0 {
		return nil, errors.New("authenticator: empty secret")
	}
	if resolver == nil {
		resolver = ClaimsScopeResolver{}
	}
	return &Authenticator{secret: secret, resolver: resolver}, nil
}

// Authenticate verifies the token and resolves its scope. Every failure
// wraps ErrUnauthorized, including an identity whose scope is empty.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (Identity, error) {
	claims, err := ParseJWT(token, a.secret)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	scope, err := a.resolver.ResolveScope(ctx, claims)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: resolve scope: %w", ErrUnauthorized, err)
	}
	if scope.IsEmpty() {
		return Identity{}, fmt.Errorf("%w: no access scope for %s", ErrUnauthorized, claims.Subject)
	}
	role, _ := NormalizeRole(claims.Role)
	return Identity{Subject: claims.Subject, Role: role, Scope: scope}, nil
}
