package idp

import (
	"context"
	"fmt"
	"net/http"

	"github.com/aptospilot/aptospilot/internal/config"
)

// NewProvider creates a Provider from the auth configuration.
func NewProvider(ctx context.Context, cfg config.AuthConfig, httpClient *http.Client) (Provider, error) {
	switch cfg.Provider {
	case "google", "":
		return NewGoogleProvider(cfg.ClientID, cfg.RedirectURI), nil
	case "oidc":
		return NewOIDCProvider(ctx, OIDCConfig{
			DiscoveryURL:     cfg.DiscoveryURL,
			AuthorizationURL: cfg.AuthorizationURL,
			ClientID:         cfg.ClientID,
			RedirectURI:      cfg.RedirectURI,
			Scopes:           cfg.Scopes,
		}, httpClient)
	default:
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Provider)
	}
}
