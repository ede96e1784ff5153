package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Exchanger trades an authorization code (plus optional PKCE verifier) for a
// verified external identity. Implementations live outside the core and are
// expected to honor context deadlines.
type Exchanger interface {
	Exchange(ctx context.Context, code, codeVerifier string) (ExternalIdentity, error)
}

// ExchangerRegistry resolves the Exchanger for a provider name.
type ExchangerRegistry interface {
	Exchanger(provider string) (Exchanger, bool)
}

// LinkingService orchestrates linking and unlinking external identities
// while holding the invariant that an account always keeps at least one
// usable sign-in method.
type LinkingService struct {
	store     Store
	providers ExchangerRegistry
	log       *zap.Logger
	now       func() time.Time
}

func NewLinkingService(store Store, providers ExchangerRegistry, log *zap.Logger) (*LinkingService, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if providers == nil {
		return nil, errors.New("auth: provider registry is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &LinkingService{store: store, providers: providers, log: log, now: time.Now}, nil
}

// Link exchanges the authorization code and attaches the resulting identity
// to the user. Linking only ever increases the method count, so no
// last-method check applies here.
func (s *LinkingService) Link(ctx context.Context, userID, provider, code, codeVerifier string) (*OAuthConnection, error) {
	userID = strings.TrimSpace(userID)
	provider = strings.TrimSpace(strings.ToLower(provider))
	if userID == "" || provider == "" {
		return nil, fmt.Errorf("%w: user id and provider are required", ErrInvalidInput)
	}
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("%w: authorization code is required", ErrInvalidInput)
	}
	ident, err := s.exchange(ctx, provider, code, codeVerifier)
	if err != nil {
		return nil, err
	}

	conns := s.store.Connections(ctx)
	existing, err := conns.FindByProviderIdentity(ctx, provider, ident.ProviderUserID)
	switch {
	case err == nil:
		if existing.UserID == userID {
			return nil, ErrDuplicateLink
		}
		return nil, ErrLinkedToOtherAccount
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	conn := &OAuthConnection{
		UserID:         userID,
		Provider:       provider,
		ProviderUserID: ident.ProviderUserID,
		Email:          ident.Email,
		DisplayName:    ident.DisplayName,
		AvatarURL:      ident.AvatarURL,
		LinkedAt:       s.now().UTC(),
	}
	if err := conns.Create(ctx, conn); err != nil {
		// The store's uniqueness constraint closes the race between two
		// concurrent link attempts for the same identity.
		if errors.Is(err, ErrConflict) {
			return nil, ErrLinkedToOtherAccount
		}
		return nil, err
	}
	s.log.Info("external identity linked",
		zap.String("user_id", userID),
		zap.String("provider", provider),
	)
	return conn, nil
}

// Unlink removes a linked identity. Not idempotent: a second call for the
// same provider fails with ErrProviderNotLinked.
func (s *LinkingService) Unlink(ctx context.Context, userID, provider string) error {
	userID = strings.TrimSpace(userID)
	provider = strings.TrimSpace(strings.ToLower(provider))
	if userID == "" || provider == "" {
		return fmt.Errorf("%w: user id and provider are required", ErrInvalidInput)
	}
	user, err := s.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return err
	}
	conns, err := s.store.Connections(ctx).ListByUser(ctx, userID)
	if err != nil {
		return err
	}
	var found bool
	for _, c := range conns {
		if c.Provider == provider {
			found = true
			break
		}
	}
	if !found {
		return ErrProviderNotLinked
	}
	if !CanRemoveMethod(user, conns) {
		return ErrLastAuthMethod
	}
	if err := s.store.Connections(ctx).Delete(ctx, userID, provider); err != nil {
		return err
	}
	s.log.Info("external identity unlinked",
		zap.String("user_id", userID),
		zap.String("provider", provider),
	)
	return nil
}

// Connections lists the user's linked identities, most recently linked
// first.
func (s *LinkingService) Connections(ctx context.Context, userID string) ([]*OAuthConnection, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return s.store.Connections(ctx).ListByUser(ctx, userID)
}

func (s *LinkingService) exchange(ctx context.Context, provider, code, codeVerifier string) (ExternalIdentity, error) {
	return exchangeIdentity(ctx, s.providers, provider, code, codeVerifier)
}

// exchangeIdentity runs the provider exchange shared by linking and OAuth
// sign-in.
func exchangeIdentity(ctx context.Context, providers ExchangerRegistry, provider, code, codeVerifier string) (ExternalIdentity, error) {
	ex, ok := providers.Exchanger(provider)
	if !ok {
		return ExternalIdentity{}, fmt.Errorf("%w: unsupported provider %q", ErrInvalidInput, provider)
	}
	ident, err := ex.Exchange(ctx, code, codeVerifier)
	if err != nil {
		// Provider failures and timeouts are retryable auth failures, never
		// silently treated as "not linked".
		return ExternalIdentity{}, fmt.Errorf("%w: provider exchange failed: %v", ErrUnauthorized, err)
	}
	if strings.TrimSpace(ident.ProviderUserID) == "" {
		return ExternalIdentity{}, fmt.Errorf("%w: provider returned no subject", ErrUnauthorized)
	}
	ident.Provider = provider
	return ident, nil
}
