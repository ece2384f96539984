package idp

import (
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// GoogleIssuer is the iss claim of Google identity tokens.
const GoogleIssuer = "https://accounts.google.com"

// GoogleProvider signs users in with Google accounts.
type GoogleProvider struct {
	config oauth2.Config
}

// NewGoogleProvider creates a Google provider. GOOGLE_OAUTH_AUTH_URL
// overrides the authorization endpoint for local testing.
func NewGoogleProvider(clientID, redirectURI string) *GoogleProvider {
	endpoint := google.Endpoint
	if authURL := os.Getenv("GOOGLE_OAUTH_AUTH_URL"); authURL != "" {
		endpoint.AuthURL = authURL
	}
	return &GoogleProvider{
		config: oauth2.Config{
			ClientID:    clientID,
			RedirectURL: redirectURI,
			Scopes:      defaultScopes,
			Endpoint:    endpoint,
		},
	}
}

func (p *GoogleProvider) Type() string {
	return "google"
}

func (p *GoogleProvider) AuthURL(state, nonce string) string {
	return implicitAuthURL(&p.config, state, nonce)
}
