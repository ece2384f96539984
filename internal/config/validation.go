package config

import (
	"fmt"
	"net/url"
	"slices"

	"github.com/aptospilot/aptospilot/internal/log"
)

// secretPaths must be given as {"$env": "VAR"} references, never inline.
var secretPaths = [][2]string{
	{"server", "cookieSecret"},
	{"storage", "encryptionKey"},
	{"assistant", "apiKey"},
}

// validateRawConfig validates the config structure before environment resolution
func validateRawConfig(rawConfig map[string]any) error {
	for _, p := range secretPaths {
		section, ok := rawConfig[p[0]].(map[string]any)
		if !ok {
			continue
		}
		value, exists := section[p[1]]
		if !exists {
			continue
		}
		name := p[0] + "." + p[1]
		if _, isString := value.(string); isString {
			return fmt.Errorf("%s must use environment variable reference for security", name)
		}
		refMap, isMap := value.(map[string]any)
		if !isMap {
			return fmt.Errorf("%s must use {\"$env\": \"VAR_NAME\"} format", name)
		}
		if _, hasEnv := refMap["$env"]; !hasEnv {
			return fmt.Errorf("%s must use {\"$env\": \"VAR_NAME\"} format", name)
		}
	}
	return nil
}

// ValidateConfig validates the resolved configuration
func ValidateConfig(config *Config) error {
	if config.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if config.Server.BaseURL == "" {
		return fmt.Errorf("server.baseURL is required")
	}
	if err := validateURL("server.baseURL", config.Server.BaseURL); err != nil {
		return err
	}
	if len(config.Server.CookieSecret) < 32 {
		return fmt.Errorf("server.cookieSecret must be at least 32 bytes")
	}
	if config.Server.ProfileTTL < 0 {
		return fmt.Errorf("server.profileTtl cannot be negative")
	}
	if _, err := config.Server.TrustedPrefixes(); err != nil {
		return err
	}

	if err := validateAuth(&config.Auth); err != nil {
		return fmt.Errorf("auth config: %w", err)
	}

	if config.Keyless.PepperURL != "" {
		if err := validateURL("keyless.pepperUrl", config.Keyless.PepperURL); err != nil {
			return err
		}
	}
	if config.Keyless.ProverURL != "" {
		if err := validateURL("keyless.proverUrl", config.Keyless.ProverURL); err != nil {
			return err
		}
	}

	if err := validateStorage(&config.Storage); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}

	for name, n := range config.Networks {
		if err := validateURL("networks."+name+".nodeUrl", n.NodeURL); err != nil {
			return err
		}
	}
	if _, ok := config.Networks[config.DefaultNetwork]; !ok {
		return fmt.Errorf("defaultNetwork %q is not a configured network", config.DefaultNetwork)
	}

	if config.Assistant.RequestsPerMinute < 0 {
		return fmt.Errorf("assistant.requestsPerMinute cannot be negative")
	}
	if config.Assistant.MaxMessageLength < 0 {
		return fmt.Errorf("assistant.maxMessageLength cannot be negative")
	}
	if config.Assistant.APIKey == "" {
		log.LogWarn("assistant.apiKey is not set; /api/ai/chat will report a configuration error")
	}
	return nil
}

func validateAuth(auth *AuthConfig) error {
	if auth.ClientID == "" {
		return fmt.Errorf("clientId is required")
	}
	switch auth.Provider {
	case "google":
	case "oidc":
		if auth.DiscoveryURL == "" && auth.AuthorizationURL == "" {
			return fmt.Errorf("oidc provider requires discoveryUrl or authorizationUrl")
		}
	default:
		return fmt.Errorf("unknown provider %q", auth.Provider)
	}
	if auth.RedirectURI == "" {
		return fmt.Errorf("redirectUri is required")
	}
	if err := validateURL("redirectUri", auth.RedirectURI); err != nil {
		return err
	}
	if auth.EphemeralTTL < 0 || auth.SweepInterval < 0 {
		return fmt.Errorf("durations cannot be negative")
	}
	if auth.SweepInterval > auth.EphemeralTTL {
		log.LogWarn("Sweep interval is greater than the ephemeral key TTL")
	}
	return nil
}

func validateStorage(s *StorageConfig) error {
	kinds := []string{StorageMemory, StorageSQLite, StorageFirestore}
	if !slices.Contains(kinds, s.Kind) {
		return fmt.Errorf("unknown kind %q", s.Kind)
	}
	if s.Kind == StorageFirestore && s.GCPProject == "" {
		return fmt.Errorf("gcpProject is required for firestore storage")
	}
	if s.Kind != StorageMemory && s.EncryptionKey == "" {
		return fmt.Errorf("encryptionKey is required when using %s storage", s.Kind)
	}
	return nil
}

func validateURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%s must be an absolute http(s) URL", field)
	}
	return nil
}
