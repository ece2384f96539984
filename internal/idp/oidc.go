package idp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/aptospilot/aptospilot/internal/ioutil"
	"golang.org/x/oauth2"
)

// OIDCConfig configures a generic OIDC provider.
type OIDCConfig struct {
	// ProviderType identifies this provider in logs; defaults to "oidc".
	ProviderType string

	// DiscoveryURL points at .well-known/openid-configuration. When empty,
	// AuthorizationURL must be set.
	DiscoveryURL     string
	AuthorizationURL string

	ClientID    string
	RedirectURI string
	Scopes      []string
}

// OIDCProvider works with any provider that supports the implicit id_token flow.
type OIDCProvider struct {
	providerType string
	config       oauth2.Config
}

type oidcDiscoveryDocument struct {
	Issuer                 string   `json:"issuer"`
	AuthorizationEndpoint  string   `json:"authorization_endpoint"`
	ResponseTypesSupported []string `json:"response_types_supported"`
}

// NewOIDCProvider creates a provider, fetching the discovery document if configured.
func NewOIDCProvider(ctx context.Context, cfg OIDCConfig, httpClient *http.Client) (*OIDCProvider, error) {
	authURL := cfg.AuthorizationURL
	if cfg.DiscoveryURL != "" {
		discovery, err := fetchOIDCDiscovery(ctx, cfg.DiscoveryURL, httpClient)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch OIDC discovery: %w", err)
		}
		authURL = discovery.AuthorizationEndpoint
	}
	if authURL == "" {
		return nil, fmt.Errorf("either discoveryUrl or authorizationUrl must be provided")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("clientId is required")
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = defaultScopes
	}
	providerType := cfg.ProviderType
	if providerType == "" {
		providerType = "oidc"
	}

	return &OIDCProvider{
		providerType: providerType,
		config: oauth2.Config{
			ClientID:    cfg.ClientID,
			RedirectURL: cfg.RedirectURI,
			Scopes:      scopes,
			Endpoint:    oauth2.Endpoint{AuthURL: authURL},
		},
	}, nil
}

func fetchOIDCDiscovery(ctx context.Context, discoveryURL string, httpClient *http.Client) (*oidcDiscoveryDocument, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch discovery document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, ioutil.StatusError("discovery endpoint", resp)
	}

	var discovery oidcDiscoveryDocument
	if err := json.NewDecoder(resp.Body).Decode(&discovery); err != nil {
		return nil, fmt.Errorf("failed to decode discovery document: %w", err)
	}
	if discovery.AuthorizationEndpoint == "" {
		return nil, fmt.Errorf("discovery document missing authorization_endpoint")
	}
	if len(discovery.ResponseTypesSupported) > 0 && !slices.Contains(discovery.ResponseTypesSupported, "id_token") {
		return nil, fmt.Errorf("provider does not support response_type id_token")
	}
	return &discovery, nil
}

func (p *OIDCProvider) Type() string {
	return p.providerType
}

func (p *OIDCProvider) AuthURL(state, nonce string) string {
	return implicitAuthURL(&p.config, state, nonce)
}
