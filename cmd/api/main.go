package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"gatekit.org/internal/auth"
	"gatekit.org/internal/httpapi"
	"gatekit.org/internal/obs"
	"gatekit.org/internal/provider"
	"gatekit.org/internal/store/pg"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)
	log := obs.Logger()
	defer obs.Sync()

	secret := os.Getenv("GATEKIT_AUTH_SECRET")
	if secret == "" {
		log.Fatal("GATEKIT_AUTH_SECRET is required")
	}

	ctx := context.Background()

	// Storage: Postgres when a DSN is configured, in-memory otherwise.
	var (
		store auth.Store
		probe httpapi.ReadyProbe
	)
	if dsn := os.Getenv("GATEKIT_PG_DSN"); dsn != "" {
		pgStore, err := pg.Open(dsn)
		if err != nil {
			log.Fatal("open postgres", zap.Error(err))
		}
		defer pgStore.Close()
		store = pgStore
		probe = httpapi.ReadyProbe{DB: pgStore.DB()}
		log.Info("storage: postgres")
	} else {
		store = auth.NewMemoryStore()
		log.Warn("storage: in-memory, data will not survive restarts")
	}

	tokenOpts := []auth.TokenOption{}
	if issuer := os.Getenv("GATEKIT_ISSUER"); issuer != "" {
		tokenOpts = append(tokenOpts, auth.WithIssuer(issuer))
	}
	if ttl := durationEnv(log, "GATEKIT_ACCESS_TTL"); ttl > 0 {
		tokenOpts = append(tokenOpts, auth.WithAccessTTL(ttl))
	}
	if ttl := durationEnv(log, "GATEKIT_REFRESH_TTL"); ttl > 0 {
		tokenOpts = append(tokenOpts, auth.WithRefreshTTL(ttl))
	}

	tokens, err := auth.NewTokenService(store.RefreshTokens(ctx), secret, tokenOpts...)
	if err != nil {
		log.Fatal("token service", zap.Error(err))
	}
	resolver, err := auth.NewResolver(store)
	if err != nil {
		log.Fatal("resolver", zap.Error(err))
	}
	guard, err := auth.NewGuard(tokens, resolver)
	if err != nil {
		log.Fatal("guard", zap.Error(err))
	}

	providers := buildProviders(ctx, log)

	accounts, err := auth.NewAccountService(store, tokens, resolver, auth.BcryptHasher{},
		auth.WithProviderRegistry(providers),
		auth.WithLogger(log),
	)
	if err != nil {
		log.Fatal("account service", zap.Error(err))
	}
	linking, err := auth.NewLinkingService(store, providers, log)
	if err != nil {
		log.Fatal("linking service", zap.Error(err))
	}
	admin, err := auth.NewAdminService(store)
	if err != nil {
		log.Fatal("admin service", zap.Error(err))
	}
	if err := admin.EnsureBuiltins(ctx); err != nil {
		log.Fatal("ensure builtin roles and permissions", zap.Error(err))
	}

	api := httpapi.New(probe, version, httpapi.Services{
		Guard:    guard,
		Accounts: accounts,
		Linking:  linking,
		Admin:    admin,
		Resolver: resolver,
	})

	addr := os.Getenv("GATEKIT_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Info("starting gatekit-api", zap.String("version", version), zap.String("addr", srv.Addr))

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info("stopped")
}

// buildProviders registers the OAuth providers that have credentials
// configured. Google goes through OIDC discovery; GitHub uses plain OAuth2
// endpoints because it does not issue ID tokens.
func buildProviders(ctx context.Context, log *zap.Logger) *provider.Registry {
	reg := provider.NewRegistry()

	if id := os.Getenv("GATEKIT_GOOGLE_CLIENT_ID"); id != "" {
		ex, err := provider.NewOIDCExchanger(ctx, provider.Config{
			Name:         "google",
			ClientID:     id,
			ClientSecret: os.Getenv("GATEKIT_GOOGLE_CLIENT_SECRET"),
			RedirectURL:  os.Getenv("GATEKIT_GOOGLE_REDIRECT_URL"),
			IssuerURL:    "https://accounts.google.com",
			Scopes:       []string{"openid", "email", "profile"},
		})
		if err != nil {
			log.Fatal("configure google provider", zap.Error(err))
		}
		reg.Register("google", ex)
		log.Info("oauth provider enabled", zap.String("provider", "google"))
	}

	if id := os.Getenv("GATEKIT_GITHUB_CLIENT_ID"); id != "" {
		ex, err := provider.NewOAuth2Exchanger(provider.Config{
			Name:         "github",
			ClientID:     id,
			ClientSecret: os.Getenv("GATEKIT_GITHUB_CLIENT_SECRET"),
			RedirectURL:  os.Getenv("GATEKIT_GITHUB_REDIRECT_URL"),
			AuthURL:      "https://github.com/login/oauth/authorize",
			TokenURL:     "https://github.com/login/oauth/access_token",
			UserInfoURL:  "https://api.github.com/user",
			Scopes:       []string{"read:user", "user:email"},
		})
		if err != nil {
			log.Fatal("configure github provider", zap.Error(err))
		}
		reg.Register("github", ex)
		log.Info("oauth provider enabled", zap.String("provider", "github"))
	}

	return reg
}

func durationEnv(log *zap.Logger, key string) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return 0
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Fatal("invalid duration", zap.String("env", key), zap.String("value", raw))
	}
	return d
}
