package provider

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"gatekit.org/internal/auth"
)

// OIDCExchanger trades an authorization code for an identity using OpenID
// Connect: the id_token from the exchange response is verified against the
// issuer's keys, so no extra userinfo round trip is needed.
type OIDCExchanger struct {
	name     string
	conf     *oauth2.Config
	verifier *oidc.IDTokenVerifier
}

// NewOIDCExchanger discovers the issuer's endpoints and keys. The context
// bounds the discovery request only.
func NewOIDCExchanger(ctx context.Context, cfg Config) (*OIDCExchanger, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.IssuerURL == "" {
		return nil, fmt.Errorf("provider %s: issuer url is required for oidc", cfg.Name)
	}
	issuer, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("provider %s: discover issuer: %w", cfg.Name, err)
	}
	scopes := cfg.Scopes
	if !containsScope(scopes, oidc.ScopeOpenID) {
		scopes = append([]string{oidc.ScopeOpenID}, scopes...)
	}
	return &OIDCExchanger{
		name: cfg.Name,
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     issuer.Endpoint(),
		},
		verifier: issuer.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
	}, nil
}

// AuthCodeURL builds the authorization redirect for the given state.
func (e *OIDCExchanger) AuthCodeURL(state string) string {
	return e.conf.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange implements auth.Exchanger.
func (e *OIDCExchanger) Exchange(ctx context.Context, code, codeVerifier string) (auth.ExternalIdentity, error) {
	var opts []oauth2.AuthCodeOption
	if codeVerifier != "" {
		opts = append(opts, oauth2.SetAuthURLParam("code_verifier", codeVerifier))
	}
	token, err := e.conf.Exchange(ctx, code, opts...)
	if err != nil {
		return auth.ExternalIdentity{}, fmt.Errorf("exchange code: %w", err)
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return auth.ExternalIdentity{}, fmt.Errorf("missing id_token in token response")
	}
	idToken, err := e.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return auth.ExternalIdentity{}, fmt.Errorf("verify id token: %w", err)
	}
	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return auth.ExternalIdentity{}, fmt.Errorf("parse id token claims: %w", err)
	}
	ident := identityFromClaims(e.name, claims)
	if ident.ProviderUserID == "" {
		ident.ProviderUserID = idToken.Subject
	}
	return ident, nil
}

func containsScope(scopes []string, want string) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}
	return false
}
