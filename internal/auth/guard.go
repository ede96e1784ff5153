package auth

import (
	"context"
	"errors"
	"strings"
)

const bearerScheme = "Bearer "

// Principal is the authenticated caller as carried by a verified access
// token. Roles are the snapshot embedded at issuance.
type Principal struct {
	UserID string
	Email  string
	Roles  []string
}

// HasRole reports whether the principal's role snapshot contains the role.
func (p Principal) HasRole(role string) bool {
	return hasRole(p.Roles, strings.TrimSpace(strings.ToLower(role)))
}

// Guard verifies incoming credentials. It performs no persistence writes so
// it can run on every request.
type Guard struct {
	tokens   *TokenService
	resolver *Resolver
}

func NewGuard(tokens *TokenService, resolver *Resolver) (*Guard, error) {
	if tokens == nil || resolver == nil {
		return nil, errors.New("auth: token service and resolver are required")
	}
	return &Guard{tokens: tokens, resolver: resolver}, nil
}

// Authenticate parses a bearer-style Authorization header and verifies the
// access token. A missing header, malformed scheme and failed verification
// all collapse into ErrUnauthorized; callers learn nothing else.
func (g *Guard) Authenticate(rawHeader string) (Principal, error) {
	token, err := BearerToken(rawHeader)
	if err != nil {
		return Principal{}, ErrUnauthorized
	}
	claims, err := g.tokens.VerifyAccessToken(token)
	if err != nil {
		return Principal{}, ErrUnauthorized
	}
	return Principal{
		UserID: claims.Subject,
		Email:  claims.Email,
		Roles:  claims.Roles,
	}, nil
}

// Authorize authenticates and then checks the required permission against
// the caller's effective permission set, resolved fresh from the stores.
// Insufficient permissions yield ErrForbidden.
func (g *Guard) Authorize(ctx context.Context, rawHeader, requiredPermission string) (Principal, error) {
	principal, err := g.Authenticate(rawHeader)
	if err != nil {
		return Principal{}, err
	}
	access, err := g.resolver.EffectivePermissions(ctx, principal.UserID)
	if err != nil {
		return Principal{}, err
	}
	if !Satisfies(access.Permissions, requiredPermission) {
		return Principal{}, ErrForbidden
	}
	return principal, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearerScheme)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearerScheme):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
