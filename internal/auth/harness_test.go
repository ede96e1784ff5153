package auth

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeClock is a mutable time source shared by the services under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// staticExchanger returns a fixed identity or error for any code.
type staticExchanger struct {
	ident ExternalIdentity
	err   error
}

func (e staticExchanger) Exchange(context.Context, string, string) (ExternalIdentity, error) {
	return e.ident, e.err
}

type stubRegistry map[string]Exchanger

func (r stubRegistry) Exchanger(provider string) (Exchanger, bool) {
	ex, ok := r[provider]
	return ex, ok
}

type env struct {
	store    *MemoryStore
	clock    *fakeClock
	tokens   *TokenService
	resolver *Resolver
	accounts *AccountService
	admin    *AdminService
}

func newEnv(t *testing.T, opts ...AccountOption) *env {
	t.Helper()
	store := NewMemoryStore()
	clock := newFakeClock()
	tokens, err := NewTokenService(store.RefreshTokens(context.Background()), "test-secret", WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	resolver, err := NewResolver(store)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	opts = append([]AccountOption{WithAccountClock(clock.Now)}, opts...)
	accounts, err := NewAccountService(store, tokens, resolver, BcryptHasher{Cost: 4}, opts...)
	if err != nil {
		t.Fatalf("NewAccountService: %v", err)
	}
	admin, err := NewAdminService(store)
	if err != nil {
		t.Fatalf("NewAdminService: %v", err)
	}
	if err := admin.EnsureBuiltins(context.Background()); err != nil {
		t.Fatalf("EnsureBuiltins: %v", err)
	}
	return &env{
		store:    store,
		clock:    clock,
		tokens:   tokens,
		resolver: resolver,
		accounts: accounts,
		admin:    admin,
	}
}

func (e *env) register(t *testing.T, email, password string) *User {
	t.Helper()
	user, _, err := e.accounts.Register(context.Background(), email, password, ClientMeta{})
	if err != nil {
		t.Fatalf("Register(%s): %v", email, err)
	}
	return user
}
