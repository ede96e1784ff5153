package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"gatekit.org/internal/ids"
)

// TokenPair is the result of a successful authentication: a short-lived
// access token plus the raw refresh credential.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// ProfileUpdate carries optional profile mutations; nil fields are left
// untouched.
type ProfileUpdate struct {
	Email       *string
	DisplayName *string
}

// AccountService orchestrates registration, sign-in, session refresh and the
// security-sensitive account lifecycle transitions.
type AccountService struct {
	store     Store
	tokens    *TokenService
	resolver  *Resolver
	hasher    Hasher
	providers ExchangerRegistry
	log       *zap.Logger
	now       func() time.Time
}

// AccountOption configures AccountService behavior.
type AccountOption func(*AccountService)

// WithProviderRegistry enables OAuth sign-in through the given registry.
func WithProviderRegistry(reg ExchangerRegistry) AccountOption {
	return func(s *AccountService) { s.providers = reg }
}

// WithLogger sets the logger used for best-effort failure signals.
func WithLogger(log *zap.Logger) AccountOption {
	return func(s *AccountService) {
		if log != nil {
			s.log = log
		}
	}
}

// WithAccountClock overrides the time source (useful for tests).
func WithAccountClock(fn func() time.Time) AccountOption {
	return func(s *AccountService) {
		if fn != nil {
			s.now = fn
		}
	}
}

func NewAccountService(store Store, tokens *TokenService, resolver *Resolver, hasher Hasher, opts ...AccountOption) (*AccountService, error) {
	if store == nil || tokens == nil || resolver == nil || hasher == nil {
		return nil, errors.New("auth: store, token service, resolver and hasher are required")
	}
	svc := &AccountService{
		store:    store,
		tokens:   tokens,
		resolver: resolver,
		hasher:   hasher,
		log:      zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Register creates a password-based account and signs it in.
func (s *AccountService) Register(ctx context.Context, email, password string, meta ClientMeta) (*User, TokenPair, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, TokenPair{}, err
	}
	if strings.TrimSpace(password) == "" {
		return nil, TokenPair{}, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	users := s.store.Users(ctx)
	if _, err := users.FindByEmail(ctx, email); err == nil {
		return nil, TokenPair{}, fmt.Errorf("%w: email already registered", ErrConflict)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, TokenPair{}, err
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, TokenPair{}, err
	}
	now := s.now().UTC()
	user := &User{
		ID:           ids.New(),
		Email:        email,
		PasswordHash: hash,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, TokenPair{}, fmt.Errorf("%w: email already registered", ErrConflict)
		}
		return nil, TokenPair{}, err
	}
	pair, err := s.mintPair(ctx, user, meta)
	if err != nil {
		return nil, TokenPair{}, err
	}
	return user, pair, nil
}

// Login authenticates email/password credentials. Unknown users, inactive
// users, passwordless accounts and wrong passwords all collapse into
// ErrInvalidCredentials.
func (s *AccountService) Login(ctx context.Context, email, password string, meta ClientMeta) (*User, TokenPair, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, TokenPair{}, ErrInvalidCredentials
	}
	user, err := s.store.Users(ctx).FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, TokenPair{}, ErrInvalidCredentials
		}
		return nil, TokenPair{}, err
	}
	if !user.Active {
		return nil, TokenPair{}, ErrInvalidCredentials
	}
	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		return nil, TokenPair{}, ErrInvalidCredentials
	}
	pair, err := s.mintPair(ctx, user, meta)
	if err != nil {
		return nil, TokenPair{}, err
	}
	return user, pair, nil
}

// Refresh consumes a refresh credential (rotating it) and issues a fresh
// pair with the user's current role snapshot.
func (s *AccountService) Refresh(ctx context.Context, raw string, meta ClientMeta) (*User, TokenPair, error) {
	userID, err := s.tokens.ConsumeRefreshToken(ctx, raw)
	if err != nil {
		return nil, TokenPair{}, err
	}
	user, err := s.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, TokenPair{}, ErrInvalidToken
		}
		return nil, TokenPair{}, err
	}
	if !user.Active {
		return nil, TokenPair{}, ErrInvalidToken
	}
	pair, err := s.mintPair(ctx, user, meta)
	if err != nil {
		return nil, TokenPair{}, err
	}
	return user, pair, nil
}

// OAuthSignIn authenticates via an external provider: an already linked
// identity signs in its user; an unknown identity signs in the account with
// the matching email, or creates a passwordless account, and links itself.
func (s *AccountService) OAuthSignIn(ctx context.Context, provider, code, codeVerifier string, meta ClientMeta) (*User, TokenPair, error) {
	if s.providers == nil {
		return nil, TokenPair{}, fmt.Errorf("%w: oauth sign-in is not configured", ErrInvalidInput)
	}
	provider = strings.TrimSpace(strings.ToLower(provider))
	if provider == "" || strings.TrimSpace(code) == "" {
		return nil, TokenPair{}, fmt.Errorf("%w: provider and code are required", ErrInvalidInput)
	}
	ident, err := exchangeIdentity(ctx, s.providers, provider, code, codeVerifier)
	if err != nil {
		return nil, TokenPair{}, err
	}

	conns := s.store.Connections(ctx)
	users := s.store.Users(ctx)

	conn, err := conns.FindByProviderIdentity(ctx, provider, ident.ProviderUserID)
	switch {
	case err == nil:
		user, err := users.Find(ctx, conn.UserID)
		if err != nil {
			return nil, TokenPair{}, err
		}
		if !user.Active {
			return nil, TokenPair{}, ErrInvalidCredentials
		}
		pair, err := s.mintPair(ctx, user, meta)
		if err != nil {
			return nil, TokenPair{}, err
		}
		return user, pair, nil
	case !errors.Is(err, ErrNotFound):
		return nil, TokenPair{}, err
	}

	user, err := s.userForIdentity(ctx, ident)
	if err != nil {
		return nil, TokenPair{}, err
	}
	if !user.Active {
		return nil, TokenPair{}, ErrInvalidCredentials
	}
	newConn := &OAuthConnection{
		UserID:         user.ID,
		Provider:       provider,
		ProviderUserID: ident.ProviderUserID,
		Email:          ident.Email,
		DisplayName:    ident.DisplayName,
		AvatarURL:      ident.AvatarURL,
		LinkedAt:       s.now().UTC(),
	}
	if err := conns.Create(ctx, newConn); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, TokenPair{}, ErrLinkedToOtherAccount
		}
		return nil, TokenPair{}, err
	}
	pair, err := s.mintPair(ctx, user, meta)
	if err != nil {
		return nil, TokenPair{}, err
	}
	return user, pair, nil
}

// LogoutAll revokes every outstanding refresh token for the user. Unlike
// the lifecycle transitions, a store failure here is the operation failing.
func (s *AccountService) LogoutAll(ctx context.Context, userID string) (int, error) {
	return s.tokens.RevokeAllForUser(ctx, userID)
}

// ChangePassword verifies the current password, persists the new hash and
// best-effort revokes outstanding sessions. An OAuth-only account has no
// password to change; that path fails with ErrInvalidCredentials.
func (s *AccountService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if strings.TrimSpace(newPassword) == "" {
		return fmt.Errorf("%w: new password is required", ErrInvalidInput)
	}
	users := s.store.Users(ctx)
	user, err := users.Find(ctx, userID)
	if err != nil {
		return err
	}
	if !user.HasPassword() {
		return ErrInvalidCredentials
	}
	if err := s.hasher.Compare(user.PasswordHash, currentPassword); err != nil {
		return ErrInvalidCredentials
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	user.PasswordHash = hash
	user.UpdatedAt = s.now().UTC()
	if err := users.Update(ctx, user); err != nil {
		return err
	}
	s.revokeBestEffort(ctx, user.ID, "password_change")
	return nil
}

// Profile fetches the account.
func (s *AccountService) Profile(ctx context.Context, userID string) (*User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return s.store.Users(ctx).Find(ctx, userID)
}

// UpdateProfile applies the requested profile changes.
func (s *AccountService) UpdateProfile(ctx context.Context, userID string, upd ProfileUpdate) (*User, error) {
	users := s.store.Users(ctx)
	user, err := users.Find(ctx, userID)
	if err != nil {
		return nil, err
	}
	if upd.Email != nil {
		email, err := normalizeEmail(*upd.Email)
		if err != nil {
			return nil, err
		}
		if email != user.Email {
			if other, err := users.FindByEmail(ctx, email); err == nil && other.ID != user.ID {
				return nil, fmt.Errorf("%w: email already registered", ErrConflict)
			} else if err != nil && !errors.Is(err, ErrNotFound) {
				return nil, err
			}
			user.Email = email
		}
	}
	if upd.DisplayName != nil {
		user.DisplayName = strings.TrimSpace(*upd.DisplayName)
	}
	user.UpdatedAt = s.now().UTC()
	if err := users.Update(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Deactivate soft-deletes the account after password verification. The
// state change is mandatory; the session cleanup afterwards is best-effort,
// because a deactivated account must not stay active just because
// revocation failed. There is no self-service path back to active.
func (s *AccountService) Deactivate(ctx context.Context, userID, password string) error {
	if strings.TrimSpace(password) == "" {
		return fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	users := s.store.Users(ctx)
	user, err := users.Find(ctx, userID)
	if err != nil {
		return err
	}
	if !user.Active {
		return fmt.Errorf("%w: account is not active", ErrInvalidInput)
	}
	// An OAuth-only account has no stored password and cannot pass this
	// check; deactivating such accounts is an administrative operation.
	if !user.HasPassword() {
		return ErrInvalidCredentials
	}
	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		return ErrInvalidCredentials
	}
	user.Active = false
	user.UpdatedAt = s.now().UTC()
	if err := users.Update(ctx, user); err != nil {
		return err
	}
	s.revokeBestEffort(ctx, user.ID, "deactivation")
	s.log.Info("account deactivated", zap.String("user_id", user.ID))
	return nil
}

func (s *AccountService) mintPair(ctx context.Context, user *User, meta ClientMeta) (TokenPair, error) {
	roles, err := s.resolver.Roles(ctx, user.ID)
	if err != nil {
		return TokenPair{}, err
	}
	access, accessExp, err := s.tokens.IssueAccessToken(user, roles)
	if err != nil {
		return TokenPair{}, err
	}
	raw, rec, err := s.tokens.IssueRefreshToken(ctx, user.ID, meta)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     raw,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: rec.ExpiresAt,
	}, nil
}

func (s *AccountService) userForIdentity(ctx context.Context, ident ExternalIdentity) (*User, error) {
	users := s.store.Users(ctx)
	email, err := normalizeEmail(ident.Email)
	if err != nil {
		return nil, fmt.Errorf("%w: provider returned no usable email", ErrUnauthorized)
	}
	user, err := users.FindByEmail(ctx, email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	now := s.now().UTC()
	user = &User{
		ID:          ids.New(),
		Email:       email,
		DisplayName: strings.TrimSpace(ident.DisplayName),
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrConflict) {
			// Lost a race with a concurrent registration for the same email.
			return users.FindByEmail(ctx, email)
		}
		return nil, err
	}
	return user, nil
}

func (s *AccountService) revokeBestEffort(ctx context.Context, userID, reason string) {
	count, err := s.tokens.RevokeAllForUser(ctx, userID)
	if err != nil {
		s.log.Warn("refresh token revocation failed",
			zap.String("user_id", userID),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return
	}
	s.log.Debug("refresh tokens revoked",
		zap.String("user_id", userID),
		zap.String("reason", reason),
		zap.Int("count", count),
	)
}

func normalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return "", fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	return email, nil
}
