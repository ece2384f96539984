package idp

import (
	"fmt"
	"slices"

	"golang.org/x/oauth2"
)

// Provider builds authorization URLs for the implicit id_token flow. The
// identity token comes back in the redirect fragment, so no code exchange or
// userinfo call is ever made.
type Provider interface {
	// Type returns the provider type identifier ("google" or "oidc").
	Type() string

	// AuthURL returns the URL that starts sign-in. nonce is embedded so the
	// returned identity token is bound to the caller's ephemeral key pair.
	AuthURL(state, nonce string) string
}

var defaultScopes = []string{"openid", "email", "profile"}

// implicitAuthURL reuses oauth2's URL builder but requests an id_token in
// the fragment instead of an authorization code.
func implicitAuthURL(cfg *oauth2.Config, state, nonce string) string {
	return cfg.AuthCodeURL(state,
		oauth2.SetAuthURLParam("response_type", "id_token"),
		oauth2.SetAuthURLParam("response_mode", "fragment"),
		oauth2.SetAuthURLParam("nonce", nonce),
		oauth2.SetAuthURLParam("prompt", "select_account"),
	)
}

// ValidateDomain checks if the domain is in the allowed list.
// Returns nil if allowedDomains is empty (no restriction) or domain is allowed.
func ValidateDomain(domain string, allowedDomains []string) error {
	if len(allowedDomains) == 0 {
		return nil
	}
	if !slices.Contains(allowedDomains, domain) {
		return fmt.Errorf("domain '%s' is not allowed", domain)
	}
	return nil
}
