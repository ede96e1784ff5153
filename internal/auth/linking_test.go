package auth

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"
)

func newLinkingService(t *testing.T, e *env, providers ExchangerRegistry) *LinkingService {
	t.Helper()
	svc, err := NewLinkingService(e.store, providers, zap.NewNop())
	if err != nil {
		t.Fatalf("NewLinkingService: %v", err)
	}
	return svc
}

func TestLink(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	user := e.register(t, "ada@example.com", "hunter2!")
	providers := stubRegistry{
		"google": staticExchanger{ident: ExternalIdentity{ProviderUserID: "g-ada", Email: "ada@gmail.example"}},
	}
	links := newLinkingService(t, e, providers)

	conn, err := links.Link(ctx, user.ID, "google", "code-1", "")
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	if conn.UserID != user.ID || conn.Provider != "google" || conn.ProviderUserID != "g-ada" {
		t.Fatalf("connection = %+v", conn)
	}

	// Not idempotent: linking the same identity again is a conflict.
	if _, err := links.Link(ctx, user.ID, "google", "code-2", ""); !errors.Is(err, ErrDuplicateLink) {
		t.Fatalf("expected ErrDuplicateLink, got %v", err)
	}

	// The same identity cannot attach to a second account.
	other := e.register(t, "bob@example.com", "hunter2!")
	if _, err := links.Link(ctx, other.ID, "google", "code-3", ""); !errors.Is(err, ErrLinkedToOtherAccount) {
		t.Fatalf("expected ErrLinkedToOtherAccount, got %v", err)
	}
	// Both derived kinds still read as conflicts at the transport layer.
	if _, err := links.Link(ctx, other.ID, "google", "code-4", ""); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict kind, got %v", err)
	}
}

func TestLinkValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	user := e.register(t, "ada@example.com", "hunter2!")

	t.Run("unsupported provider", func(t *testing.T) {
		links := newLinkingService(t, e, stubRegistry{})
		if _, err := links.Link(ctx, user.ID, "myspace", "code", ""); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput, got %v", err)
		}
	})
	t.Run("exchange failure", func(t *testing.T) {
		links := newLinkingService(t, e, stubRegistry{
			"google": staticExchanger{err: errors.New("upstream 502")},
		})
		if _, err := links.Link(ctx, user.ID, "google", "code", ""); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
	})
	t.Run("empty subject", func(t *testing.T) {
		links := newLinkingService(t, e, stubRegistry{
			"google": staticExchanger{ident: ExternalIdentity{Email: "no-subject@example.com"}},
		})
		if _, err := links.Link(ctx, user.ID, "google", "code", ""); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
	})
	t.Run("missing code", func(t *testing.T) {
		links := newLinkingService(t, e, stubRegistry{})
		if _, err := links.Link(ctx, user.ID, "google", "  ", ""); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestUnlink(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	user := e.register(t, "ada@example.com", "hunter2!")
	providers := stubRegistry{
		"google": staticExchanger{ident: ExternalIdentity{ProviderUserID: "g-ada"}},
		"github": staticExchanger{ident: ExternalIdentity{ProviderUserID: "gh-ada"}},
	}
	links := newLinkingService(t, e, providers)
	if _, err := links.Link(ctx, user.ID, "google", "code", ""); err != nil {
		t.Fatalf("Link: %v", err)
	}

	if err := links.Unlink(ctx, user.ID, "google"); err != nil {
		t.Fatalf("Unlink: %v", err)
	}
	// Not idempotent: the second unlink reports the provider as not linked.
	if err := links.Unlink(ctx, user.ID, "google"); !errors.Is(err, ErrProviderNotLinked) {
		t.Fatalf("expected ErrProviderNotLinked, got %v", err)
	}
	if err := links.Unlink(ctx, user.ID, "github"); !errors.Is(err, ErrProviderNotLinked) {
		t.Fatalf("expected ErrProviderNotLinked, got %v", err)
	}
}

func TestUnlinkKeepsLastMethod(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	providers := stubRegistry{
		"google": staticExchanger{ident: ExternalIdentity{ProviderUserID: "g-solo", Email: "solo@example.com"}},
		"github": staticExchanger{ident: ExternalIdentity{ProviderUserID: "gh-solo"}},
	}
	links := newLinkingService(t, e, providers)

	// An OAuth-only account: the provider link is its only sign-in method.
	accounts, err := NewAccountService(e.store, e.tokens, e.resolver, BcryptHasher{Cost: 4},
		WithAccountClock(e.clock.Now), WithProviderRegistry(providers))
	if err != nil {
		t.Fatalf("NewAccountService: %v", err)
	}
	user, _, err := accounts.OAuthSignIn(ctx, "google", "code", "", ClientMeta{})
	if err != nil {
		t.Fatalf("OAuthSignIn: %v", err)
	}
	if user.HasPassword() {
		t.Fatal("oauth-created account should be passwordless")
	}

	if err := links.Unlink(ctx, user.ID, "google"); !errors.Is(err, ErrLastAuthMethod) {
		t.Fatalf("expected ErrLastAuthMethod, got %v", err)
	}

	// A second linked identity lifts the restriction.
	if _, err := links.Link(ctx, user.ID, "github", "code", ""); err != nil {
		t.Fatalf("Link github: %v", err)
	}
	if err := links.Unlink(ctx, user.ID, "google"); err != nil {
		t.Fatalf("Unlink after adding second method: %v", err)
	}
	if err := links.Unlink(ctx, user.ID, "github"); !errors.Is(err, ErrLastAuthMethod) {
		t.Fatalf("expected ErrLastAuthMethod for the remaining method, got %v", err)
	}
}

func TestConcurrentLinkSameIdentity(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.register(t, "a@example.com", "hunter2!")
	b := e.register(t, "b@example.com", "hunter2!")
	providers := stubRegistry{
		"google": staticExchanger{ident: ExternalIdentity{ProviderUserID: "g-contested"}},
	}
	links := newLinkingService(t, e, providers)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, userID := range []string{a.ID, b.ID} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = links.Link(ctx, userID, "google", "code", "")
		}()
	}
	wg.Wait()

	var wins, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || conflicts != 1 {
		t.Fatalf("wins=%d conflicts=%d, want exactly one of each", wins, conflicts)
	}
	conn, err := e.store.Connections(ctx).FindByProviderIdentity(ctx, "google", "g-contested")
	if err != nil {
		t.Fatalf("FindByProviderIdentity: %v", err)
	}
	if conn.UserID != a.ID && conn.UserID != b.ID {
		t.Fatalf("identity linked to unknown user %q", conn.UserID)
	}
}

func TestConnectionsOrder(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	user := e.register(t, "ada@example.com", "hunter2!")
	providers := stubRegistry{
		"google": staticExchanger{ident: ExternalIdentity{ProviderUserID: "g-ada"}},
		"github": staticExchanger{ident: ExternalIdentity{ProviderUserID: "gh-ada"}},
	}
	links := newLinkingService(t, e, providers)
	if _, err := links.Link(ctx, user.ID, "google", "code", ""); err != nil {
		t.Fatalf("Link google: %v", err)
	}
	if _, err := links.Link(ctx, user.ID, "github", "code", ""); err != nil {
		t.Fatalf("Link github: %v", err)
	}

	conns, err := links.Connections(ctx, user.ID)
	if err != nil {
		t.Fatalf("Connections: %v", err)
	}
	if len(conns) != 2 || conns[0].Provider != "github" || conns[1].Provider != "google" {
		t.Fatalf("expected most recent first, got %+v", conns)
	}
}
