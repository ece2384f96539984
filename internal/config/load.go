package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// CurrentVersion is the only config version this build accepts.
const CurrentVersion = "v1"

// Default network endpoints.
var defaultNetworks = map[string]NetworkConfig{
	"mainnet": {NodeURL: "https://api.mainnet.aptoslabs.com/v1"},
	"testnet": {NodeURL: "https://api.testnet.aptoslabs.com/v1"},
	"devnet":  {NodeURL: "https://api.devnet.aptoslabs.com/v1"},
}

// envOverrides are deployment knobs that win over the config file.
type envOverrides struct {
	Addr    string `env:"APTOSPILOT_ADDR"`
	BaseURL string `env:"APTOSPILOT_BASE_URL"`
	Storage string `env:"APTOSPILOT_STORAGE"`
	Network string `env:"APTOSPILOT_NETWORK"`
}

// Load loads and processes the config with immediate env var resolution
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data, filepath.Ext(path))
}

// Parse processes raw config bytes. ext selects YAML (".yaml", ".yml");
// anything else is read as JSON.
func Parse(data []byte, ext string) (Config, error) {
	if ext == ".yaml" || ext == ".yml" {
		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return Config{}, fmt.Errorf("parsing config YAML: %w", err)
		}
		converted, err := json.Marshal(doc)
		if err != nil {
			return Config{}, fmt.Errorf("converting config YAML: %w", err)
		}
		data = converted
	}

	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		return Config{}, fmt.Errorf("parsing config JSON: %w", err)
	}

	version, ok := rawConfig["version"].(string)
	if !ok {
		return Config{}, fmt.Errorf("config version is required")
	}
	if version != CurrentVersion {
		return Config{}, fmt.Errorf("unsupported config version: %s", version)
	}

	if err := validateRawConfig(rawConfig); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	// The custom UnmarshalJSON methods resolve env refs immediately
	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}

	if err := applyEnvOverrides(&config); err != nil {
		return Config{}, err
	}
	applyDefaults(&config)

	if err := ValidateConfig(&config); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}

func applyEnvOverrides(config *Config) error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	if o.Addr != "" {
		config.Server.Addr = o.Addr
	}
	if o.BaseURL != "" {
		config.Server.BaseURL = o.BaseURL
	}
	if o.Storage != "" {
		config.Storage.Kind = o.Storage
	}
	if o.Network != "" {
		config.DefaultNetwork = o.Network
	}
	return nil
}

func applyDefaults(config *Config) {
	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}
	config.Server.BaseURL = strings.TrimRight(config.Server.BaseURL, "/")
	if config.Server.ProfileTTL == 0 {
		config.Server.ProfileTTL = 30 * 24 * time.Hour
	}

	if config.Auth.Provider == "" {
		config.Auth.Provider = "google"
	}
	if config.Auth.RedirectURI == "" && config.Server.BaseURL != "" {
		config.Auth.RedirectURI = config.Server.BaseURL + "/auth/callback"
	}
	if config.Auth.EphemeralTTL == 0 {
		config.Auth.EphemeralTTL = 24 * time.Hour
	}
	if config.Auth.SweepInterval == 0 {
		config.Auth.SweepInterval = 10 * time.Minute
	}

	if config.Keyless.Timeout == 0 {
		config.Keyless.Timeout = 30 * time.Second
	}

	if config.Storage.Kind == "" {
		config.Storage.Kind = StorageMemory
	}
	if config.Storage.Kind == StorageSQLite && config.Storage.Path == "" {
		config.Storage.Path = "aptospilot.db"
	}
	if config.Storage.FirestoreCollection == "" {
		config.Storage.FirestoreCollection = "aptospilot_profile_values"
	}

	if len(config.Networks) == 0 {
		config.Networks = make(map[string]NetworkConfig, len(defaultNetworks))
		for name, n := range defaultNetworks {
			config.Networks[name] = n
		}
	}
	if config.DefaultNetwork == "" {
		config.DefaultNetwork = "mainnet"
	}

	if config.Assistant.Model == "" {
		config.Assistant.Model = "gemini-1.5-flash"
	}
	if config.Assistant.BaseURL == "" {
		config.Assistant.BaseURL = "https://generativelanguage.googleapis.com"
	}
	if config.Assistant.RequestsPerMinute == 0 {
		config.Assistant.RequestsPerMinute = 10
	}
	if config.Assistant.MaxMessageLength == 0 {
		config.Assistant.MaxMessageLength = 1000
	}

	if config.Telemetry.ServiceName == "" {
		config.Telemetry.ServiceName = "aptospilot"
	}
}

// Default returns the starter config written by -config-init.
func Default() map[string]any {
	return map[string]any{
		"version": CurrentVersion,
		"server": map[string]any{
			"addr":         ":8080",
			"baseURL":      map[string]string{"$env": "APTOSPILOT_BASE_URL"},
			"cookieSecret": map[string]string{"$env": "APTOSPILOT_COOKIE_SECRET"},
			"profileTtl":   "720h",
		},
		"auth": map[string]any{
			"provider":      "google",
			"clientId":      map[string]string{"$env": "GOOGLE_CLIENT_ID"},
			"ephemeralTtl":  "24h",
			"sweepInterval": "10m",
		},
		"keyless": map[string]any{
			"pepperUrl": "https://api.mainnet.aptoslabs.com/keyless/pepper",
			"proverUrl": "https://api.mainnet.aptoslabs.com/keyless/prover",
			"timeout":   "30s",
		},
		"storage": map[string]any{
			"kind": StorageMemory,
		},
		"defaultNetwork": "mainnet",
		"assistant": map[string]any{
			"model":  "gemini-1.5-flash",
			"apiKey": map[string]string{"$env": "GEMINI_API_KEY"},
		},
	}
}
