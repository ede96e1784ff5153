package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"

	"gatekit.org/internal/auth"
)

// OAuth2Exchanger trades an authorization code for an identity using a plain
// OAuth2 provider: code exchange at the token endpoint followed by a userinfo
// request with the resulting access token.
type OAuth2Exchanger struct {
	name        string
	conf        *oauth2.Config
	userInfoURL string
}

func NewOAuth2Exchanger(cfg Config) (*OAuth2Exchanger, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &OAuth2Exchanger{
		name: cfg.Name,
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
		},
		userInfoURL: cfg.UserInfoURL,
	}, nil
}

// AuthCodeURL builds the authorization redirect for the given state.
func (e *OAuth2Exchanger) AuthCodeURL(state string) string {
	return e.conf.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange implements auth.Exchanger.
func (e *OAuth2Exchanger) Exchange(ctx context.Context, code, codeVerifier string) (auth.ExternalIdentity, error) {
	var opts []oauth2.AuthCodeOption
	if codeVerifier != "" {
		opts = append(opts, oauth2.SetAuthURLParam("code_verifier", codeVerifier))
	}
	token, err := e.conf.Exchange(ctx, code, opts...)
	if err != nil {
		return auth.ExternalIdentity{}, fmt.Errorf("exchange code: %w", err)
	}
	info, err := e.fetchUserInfo(ctx, token)
	if err != nil {
		return auth.ExternalIdentity{}, err
	}
	return identityFromClaims(e.name, info), nil
}

func (e *OAuth2Exchanger) fetchUserInfo(ctx context.Context, token *oauth2.Token) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := e.conf.Client(ctx, token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch user info: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("user info request failed with status %d: %s", resp.StatusCode, body)
	}
	var info map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode user info: %w", err)
	}
	return info, nil
}

// identityFromClaims maps the common claim names providers use onto an
// ExternalIdentity. "sub" wins over "id" for the subject.
func identityFromClaims(provider string, claims map[string]any) auth.ExternalIdentity {
	ident := auth.ExternalIdentity{Provider: provider}
	ident.ProviderUserID = firstString(claims, "sub", "id", "user_id")
	ident.Email = firstString(claims, "email")
	ident.DisplayName = firstString(claims, "name", "login", "preferred_username")
	ident.AvatarURL = firstString(claims, "picture", "avatar_url")
	return ident
}

func firstString(claims map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := claims[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case json.Number:
			return v.String()
		case float64:
			// Some providers return numeric ids.
			return fmt.Sprintf("%.0f", v)
		}
	}
	return ""
}
