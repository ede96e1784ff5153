package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"gatekit.org/internal/ids"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 14 * 24 * time.Hour
)

// AccessClaims is the fixed wire shape of an access token. Roles are a
// snapshot taken at issuance; fine-grained permission checks re-resolve
// server-side per request.
type AccessClaims struct {
	Email string   `json:"email"`
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// TokenService issues and verifies stateless access tokens and manages the
// stateful refresh token lifecycle.
type TokenService struct {
	tokens     RefreshTokenStore
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// TokenOption configures TokenService behavior.
type TokenOption func(*TokenService)

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) TokenOption {
	return func(s *TokenService) { s.issuer = strings.TrimSpace(issuer) }
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) {
		if ttl > 0 {
			s.accessTTL = ttl
		}
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) TokenOption {
	return func(s *TokenService) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewTokenService constructs a TokenService signing with HS256.
func NewTokenService(tokens RefreshTokenStore, secret string, opts ...TokenOption) (*TokenService, error) {
	if tokens == nil {
		return nil, errors.New("auth: refresh token store is required")
	}
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: signing secret is required")
	}
	svc := &TokenService{
		tokens:     tokens,
		secret:     []byte(secret),
		issuer:     "gatekit",
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// AccessTTL reports the configured access token lifetime.
func (s *TokenService) AccessTTL() time.Duration { return s.accessTTL }

// IssueAccessToken signs a short-lived access token for the user. No side
// effects; the claim set is deterministic apart from jti.
func (s *TokenService) IssueAccessToken(user *User, roles []string) (string, time.Time, error) {
	if user == nil || strings.TrimSpace(user.ID) == "" {
		return "", time.Time{}, fmt.Errorf("%w: user is required", ErrInvalidInput)
	}
	now := s.now().UTC()
	exp := now.Add(s.accessTTL)
	claims := AccessClaims{
		Email: user.Email,
		Roles: normalizeRoles(roles),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// VerifyAccessToken validates signature, issuer and expiry. It fails closed:
// every malformed, forged or expired input yields ErrInvalidToken.
func (s *TokenService) VerifyAccessToken(token string) (*AccessClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &AccessClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithIssuer(s.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	claims.Roles = normalizeRoles(claims.Roles)
	return claims, nil
}

// IssueRefreshToken persists a new refresh token record and returns the raw
// "id.secret" credential. Only the secret's hash is stored; the raw form is
// never recoverable afterwards.
func (s *TokenService) IssueRefreshToken(ctx context.Context, userID string, meta ClientMeta) (string, *RefreshToken, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", nil, err
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	now := s.now().UTC()
	rec := &RefreshToken{
		ID:        ids.New(),
		UserID:    userID,
		TokenHash: hashRefreshSecret(secret),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.refreshTTL),
		UserAgent: meta.UserAgent,
		IPAddress: meta.IPAddress,
	}
	if err := s.tokens.Create(ctx, rec); err != nil {
		return "", nil, err
	}
	return rec.ID + "." + secret, rec, nil
}

// ConsumeRefreshToken verifies a presented refresh credential and revokes it
// so the caller can issue a replacement (rotation). Presenting a stale,
// revoked or expired credential fails with ErrInvalidToken; a hash mismatch
// for a known id additionally revokes the record, since it signals a
// guessed or replayed secret. The revocation is the claim: when a concurrent
// RevokeAllForUser flips the record first, MarkRevoked reports ErrNotFound
// and the consume fails instead of silently outliving the revoke.
func (s *TokenService) ConsumeRefreshToken(ctx context.Context, raw string) (string, error) {
	id, secret, err := splitRefreshToken(raw)
	if err != nil {
		return "", ErrInvalidToken
	}
	rec, err := s.tokens.Find(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", ErrInvalidToken
		}
		return "", err
	}
	if rec.Revoked || s.now().After(rec.ExpiresAt) {
		return "", ErrInvalidToken
	}
	if !refreshSecretMatches(rec.TokenHash, secret) {
		_ = s.tokens.MarkRevoked(ctx, rec.ID)
		return "", ErrInvalidToken
	}
	if err := s.tokens.MarkRevoked(ctx, rec.ID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", ErrInvalidToken
		}
		return "", err
	}
	return rec.UserID, nil
}

// RevokeAllForUser invalidates every outstanding refresh token for the user.
// Idempotent; returns the number of tokens newly revoked.
func (s *TokenService) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return s.tokens.RevokeAllForUser(ctx, userID)
}

func splitRefreshToken(raw string) (id, secret string, err error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("invalid refresh token format")
	}
	return parts[0], parts[1], nil
}

func hashRefreshSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func refreshSecretMatches(expectedHash, secret string) bool {
	actual := hashRefreshSecret(secret)
	if len(actual) != len(expectedHash) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expectedHash), []byte(actual)) == 1
}
