package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

const minimalJSON = `{
	"version": "v1",
	"server": {
		"baseURL": "https://pilot.example.com/",
		"cookieSecret": {"$env": "TEST_COOKIE_SECRET"}
	},
	"auth": {"clientId": "client-123.apps.googleusercontent.com"}
}`

func TestParseAppliesDefaults(t *testing.T) {
	t.Setenv("TEST_COOKIE_SECRET", testSecret)

	cfg, err := Parse([]byte(minimalJSON), ".json")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "https://pilot.example.com", cfg.Server.BaseURL)
	assert.Equal(t, Secret(testSecret), cfg.Server.CookieSecret)
	assert.Equal(t, "google", cfg.Auth.Provider)
	assert.Equal(t, "https://pilot.example.com/auth/callback", cfg.Auth.RedirectURI)
	assert.Equal(t, 24*time.Hour, cfg.Auth.EphemeralTTL)
	assert.Equal(t, 10*time.Minute, cfg.Auth.SweepInterval)
	assert.Equal(t, StorageMemory, cfg.Storage.Kind)
	assert.Equal(t, "mainnet", cfg.DefaultNetwork)
	assert.Equal(t, "https://api.testnet.aptoslabs.com/v1", cfg.Networks["testnet"].NodeURL)
	assert.Len(t, cfg.Networks, 3)
	assert.Equal(t, "gemini-1.5-flash", cfg.Assistant.Model)
	assert.Equal(t, 10, cfg.Assistant.RequestsPerMinute)
	assert.Equal(t, 1000, cfg.Assistant.MaxMessageLength)
	assert.Equal(t, "aptospilot", cfg.Telemetry.ServiceName)
}

func TestParseYAML(t *testing.T) {
	t.Setenv("TEST_COOKIE_SECRET", testSecret)
	t.Setenv("TEST_ENC_KEY", testSecret)

	doc := `
version: v1
server:
  baseURL: https://pilot.example.com
  cookieSecret: {$env: TEST_COOKIE_SECRET}
auth:
  clientId: client-123
  ephemeralTtl: 2h
storage:
  kind: sqlite
  encryptionKey: {$env: TEST_ENC_KEY}
networks:
  local:
    nodeUrl: http://127.0.0.1:8080/v1
defaultNetwork: local
`
	cfg, err := Parse([]byte(doc), ".yaml")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, cfg.Auth.EphemeralTTL)
	assert.Equal(t, StorageSQLite, cfg.Storage.Kind)
	assert.Equal(t, "aptospilot.db", cfg.Storage.Path)
	assert.Equal(t, "local", cfg.DefaultNetwork)
	assert.Len(t, cfg.Networks, 1)
}

func TestParseEnvOverrides(t *testing.T) {
	t.Setenv("TEST_COOKIE_SECRET", testSecret)
	t.Setenv("APTOSPILOT_ADDR", ":9999")
	t.Setenv("APTOSPILOT_BASE_URL", "http://localhost:9999")
	t.Setenv("APTOSPILOT_NETWORK", "devnet")

	cfg, err := Parse([]byte(minimalJSON), ".json")
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, "http://localhost:9999", cfg.Server.BaseURL)
	assert.Equal(t, "http://localhost:9999/auth/callback", cfg.Auth.RedirectURI)
	assert.Equal(t, "devnet", cfg.DefaultNetwork)
}

func TestParseErrors(t *testing.T) {
	t.Setenv("TEST_COOKIE_SECRET", testSecret)

	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{
			name:    "missing version",
			doc:     `{"server": {}}`,
			wantErr: "config version is required",
		},
		{
			name:    "wrong version",
			doc:     `{"version": "v0.0.1-DEV_EDITION"}`,
			wantErr: "unsupported config version",
		},
		{
			name:    "inline secret",
			doc:     `{"version": "v1", "server": {"baseURL": "https://x.example", "cookieSecret": "inline"}}`,
			wantErr: "server.cookieSecret must use environment variable reference",
		},
		{
			name:    "unset env var",
			doc:     `{"version": "v1", "server": {"baseURL": "https://x.example", "cookieSecret": {"$env": "TEST_NOT_SET_ANYWHERE"}}}`,
			wantErr: "environment variable TEST_NOT_SET_ANYWHERE not set",
		},
		{
			name:    "missing client id",
			doc:     `{"version": "v1", "server": {"baseURL": "https://x.example", "cookieSecret": {"$env": "TEST_COOKIE_SECRET"}}}`,
			wantErr: "clientId is required",
		},
		{
			name: "sqlite without encryption key",
			doc: `{"version": "v1", "server": {"baseURL": "https://x.example", "cookieSecret": {"$env": "TEST_COOKIE_SECRET"}},
				"auth": {"clientId": "c"}, "storage": {"kind": "sqlite"}}`,
			wantErr: "encryptionKey is required when using sqlite storage",
		},
		{
			name: "unknown default network",
			doc: `{"version": "v1", "server": {"baseURL": "https://x.example", "cookieSecret": {"$env": "TEST_COOKIE_SECRET"}},
				"auth": {"clientId": "c"}, "defaultNetwork": "moonnet"}`,
			wantErr: `defaultNetwork "moonnet" is not a configured network`,
		},
		{
			name: "bad duration",
			doc: `{"version": "v1", "server": {"baseURL": "https://x.example", "cookieSecret": {"$env": "TEST_COOKIE_SECRET"}},
				"auth": {"clientId": "c", "ephemeralTtl": "soon"}}`,
			wantErr: "parsing ephemeralTtl",
		},
		{
			name: "bad trusted proxy",
			doc: `{"version": "v1", "server": {"baseURL": "https://x.example", "cookieSecret": {"$env": "TEST_COOKIE_SECRET"},
				"trustedProxies": ["10.0.0.0/33"]}, "auth": {"clientId": "c"}}`,
			wantErr: "server.trustedProxies",
		},
		{
			name: "oidc without endpoints",
			doc: `{"version": "v1", "server": {"baseURL": "https://x.example", "cookieSecret": {"$env": "TEST_COOKIE_SECRET"}},
				"auth": {"clientId": "c", "provider": "oidc"}}`,
			wantErr: "oidc provider requires discoveryUrl or authorizationUrl",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc), ".json")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestTrustedPrefixes(t *testing.T) {
	t.Setenv("TEST_COOKIE_SECRET", testSecret)

	doc := `{"version": "v1", "server": {"baseURL": "https://x.example", "cookieSecret": {"$env": "TEST_COOKIE_SECRET"},
		"trustedProxies": ["10.1.2.3/8", "192.0.2.7", "::1"]}, "auth": {"clientId": "c"}}`
	cfg, err := Parse([]byte(doc), ".json")
	require.NoError(t, err)

	prefixes, err := cfg.Server.TrustedPrefixes()
	require.NoError(t, err)
	require.Len(t, prefixes, 3)
	assert.Equal(t, "10.0.0.0/8", prefixes[0].String())
	assert.Equal(t, "192.0.2.7/32", prefixes[1].String())
	assert.Equal(t, "::1/128", prefixes[2].String())

	none, err := ServerConfig{}.TrustedPrefixes()
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestParseConfigValueStripsQuotes(t *testing.T) {
	t.Setenv("TEST_QUOTED", `"quoted-value"`)
	v, err := ParseConfigValue([]byte(`{"$env": "TEST_QUOTED"}`))
	require.NoError(t, err)
	assert.Equal(t, "quoted-value", v)

	_, err = ParseConfigValue([]byte(`{"$file": "x"}`))
	assert.Error(t, err)

	v, err = ParseConfigValue(nil)
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestLoadFromFile(t *testing.T) {
	t.Setenv("TEST_COOKIE_SECRET", testSecret)

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(minimalJSON), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "client-123.apps.googleusercontent.com", cfg.Auth.ClientID)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorContains(t, err, "reading config file")
}

func TestDefaultIsLoadable(t *testing.T) {
	t.Setenv("APTOSPILOT_BASE_URL", "https://pilot.example.com")
	t.Setenv("APTOSPILOT_COOKIE_SECRET", testSecret)
	t.Setenv("GOOGLE_CLIENT_ID", "client-123")
	t.Setenv("GEMINI_API_KEY", "AIza-test")

	data, err := json.Marshal(Default())
	require.NoError(t, err)

	cfg, err := Parse(data, ".json")
	require.NoError(t, err)
	assert.Equal(t, Secret("AIza-test"), cfg.Assistant.APIKey)
	assert.Equal(t, 30*time.Second, cfg.Keyless.Timeout)
}
