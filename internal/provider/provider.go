// Package provider implements OAuth2 and OpenID Connect code exchange against
// external identity providers. Each provider satisfies auth.Exchanger; the
// Registry wires them into the auth services by name.
package provider

import (
	"fmt"
	"strings"

	"gatekit.org/internal/auth"
)

// Config describes one external identity provider. OAuth2 fields are always
// required; IssuerURL switches the provider to OIDC discovery, in which case
// AuthURL/TokenURL/UserInfoURL come from the issuer's metadata.
type Config struct {
	Name         string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	// Plain OAuth2 endpoints.
	AuthURL     string
	TokenURL    string
	UserInfoURL string

	// OIDC discovery. When set, the plain endpoints are ignored.
	IssuerURL string
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("provider: name is required")
	}
	if c.ClientID == "" {
		return fmt.Errorf("provider %s: client id is required", c.Name)
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("provider %s: client secret is required", c.Name)
	}
	if c.RedirectURL == "" {
		return fmt.Errorf("provider %s: redirect url is required", c.Name)
	}
	if c.IssuerURL != "" {
		return nil
	}
	if c.AuthURL == "" || c.TokenURL == "" {
		return fmt.Errorf("provider %s: auth url and token url are required", c.Name)
	}
	if c.UserInfoURL == "" {
		return fmt.Errorf("provider %s: user info url is required", c.Name)
	}
	return nil
}

// Registry maps provider names to exchangers.
type Registry struct {
	exchangers map[string]auth.Exchanger
}

func NewRegistry() *Registry {
	return &Registry{exchangers: make(map[string]auth.Exchanger)}
}

// Register adds an exchanger under the given name, lower-cased. Registering
// the same name twice replaces the previous entry.
func (r *Registry) Register(name string, ex auth.Exchanger) {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" || ex == nil {
		return
	}
	r.exchangers[name] = ex
}

// Exchanger implements auth.ExchangerRegistry.
func (r *Registry) Exchanger(name string) (auth.Exchanger, bool) {
	ex, ok := r.exchangers[strings.TrimSpace(strings.ToLower(name))]
	return ex, ok
}

// Names lists the registered provider names.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.exchangers))
	for name := range r.exchangers {
		out = append(out, name)
	}
	return out
}
