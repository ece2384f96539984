package config

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"
)

// Secret is a string type that redacts itself when printed
type Secret string

// String implements fmt.Stringer to redact the secret
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "***"
}

// MarshalJSON implements json.Marshaler to prevent secrets in JSON logs
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("***")
}

// Storage backends
const (
	StorageMemory    = "memory"
	StorageSQLite    = "sqlite"
	StorageFirestore = "firestore"
)

// ServerConfig configures the HTTP listener and the profile cookie.
type ServerConfig struct {
	Addr           string        `json:"addr"`
	BaseURL        string        `json:"baseURL"`
	AllowedOrigins []string      `json:"allowedOrigins,omitempty"`
	CookieSecret   Secret        `json:"cookieSecret"`
	ProfileTTL     time.Duration `json:"profileTtl"`
	// TrustedProxies lists the peers (IPs or CIDRs) whose forwarding
	// headers are believed. Empty means the socket peer is the client.
	TrustedProxies []string `json:"trustedProxies,omitempty"`
}

// TrustedPrefixes parses TrustedProxies. A bare address becomes a
// single-host prefix.
func (s ServerConfig) TrustedPrefixes() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(s.TrustedProxies))
	for _, entry := range s.TrustedProxies {
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("server.trustedProxies: %w", err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("server.trustedProxies: %w", err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// AuthConfig configures the identity provider and ephemeral credentials.
type AuthConfig struct {
	Provider         string        `json:"provider"` // "google" or "oidc"
	ClientID         string        `json:"clientId"`
	RedirectURI      string        `json:"redirectUri"`
	DiscoveryURL     string        `json:"discoveryUrl,omitempty"`
	AuthorizationURL string        `json:"authorizationUrl,omitempty"`
	Scopes           []string      `json:"scopes,omitempty"`
	AllowedDomains   []string      `json:"allowedDomains,omitempty"`
	EphemeralTTL     time.Duration `json:"ephemeralTtl"`
	SweepInterval    time.Duration `json:"sweepInterval"`
}

// KeylessConfig points at the pepper and prover services.
type KeylessConfig struct {
	PepperURL string        `json:"pepperUrl"`
	ProverURL string        `json:"proverUrl"`
	Timeout   time.Duration `json:"timeout"`
}

// StorageConfig selects and configures the profile store backend.
type StorageConfig struct {
	Kind                string `json:"kind"`
	Path                string `json:"path,omitempty"`
	GCPProject          string `json:"gcpProject,omitempty"`
	FirestoreDatabase   string `json:"firestoreDatabase,omitempty"`
	FirestoreCollection string `json:"firestoreCollection,omitempty"`
	EncryptionKey       Secret `json:"encryptionKey,omitempty"`
}

// NetworkConfig is one chain network the dashboard can read from.
type NetworkConfig struct {
	NodeURL string `json:"nodeUrl"`
}

// AssistantConfig configures the Gemini-backed chat proxy.
type AssistantConfig struct {
	Model             string `json:"model"`
	BaseURL           string `json:"baseUrl"`
	APIKey            Secret `json:"apiKey,omitempty"`
	RequestsPerMinute int    `json:"requestsPerMinute"`
	MaxMessageLength  int    `json:"maxMessageLength"`
}

// TelemetryConfig enables OTLP trace export when Endpoint is set.
type TelemetryConfig struct {
	Endpoint    string `json:"endpoint,omitempty"`
	ServiceName string `json:"serviceName"`
}

// Config represents the config structure with resolved values
type Config struct {
	Version        string                   `json:"version"`
	Server         ServerConfig             `json:"server"`
	Auth           AuthConfig               `json:"auth"`
	Keyless        KeylessConfig            `json:"keyless"`
	Storage        StorageConfig            `json:"storage"`
	Networks       map[string]NetworkConfig `json:"networks"`
	DefaultNetwork string                   `json:"defaultNetwork"`
	Assistant      AssistantConfig          `json:"assistant"`
	Telemetry      TelemetryConfig          `json:"telemetry"`
}

// ParseConfigValue resolves a JSON value that is either a plain string or
// an {"$env": "VAR"} reference. A missing value resolves to "".
func ParseConfigValue(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}

	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str, nil
	}

	var ref map[string]string
	if err := json.Unmarshal(raw, &ref); err != nil {
		return "", fmt.Errorf("config value must be string or reference object")
	}

	envVar, ok := ref["$env"]
	if !ok {
		return "", fmt.Errorf("unknown reference type in config value")
	}
	value := os.Getenv(envVar)
	if value == "" {
		return "", fmt.Errorf("environment variable %s not set", envVar)
	}
	// Strip one matching pair of surrounding quotes
	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') ||
			(value[0] == '\'' && value[len(value)-1] == '\'') {
			value = value[1 : len(value)-1]
		}
	}
	return value, nil
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", field, err)
	}
	return d, nil
}
