package config

import (
	"encoding/json"
	"fmt"
)

type resolvable struct {
	raw json.RawMessage
	dst *string
}

// resolveAll resolves each raw value into its destination, stopping at the
// first error.
func resolveAll(fields map[string]resolvable) error {
	for name, f := range fields {
		v, err := ParseConfigValue(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", name, err)
		}
		*f.dst = v
	}
	return nil
}

// UnmarshalJSON implements custom unmarshaling for ServerConfig
func (s *ServerConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		Addr           json.RawMessage `json:"addr"`
		BaseURL        json.RawMessage `json:"baseURL"`
		AllowedOrigins []string        `json:"allowedOrigins"`
		CookieSecret   json.RawMessage `json:"cookieSecret"`
		ProfileTTL     string          `json:"profileTtl"`
		TrustedProxies []string        `json:"trustedProxies"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var secret string
	if err := resolveAll(map[string]resolvable{
		"addr":         {raw.Addr, &s.Addr},
		"baseURL":      {raw.BaseURL, &s.BaseURL},
		"cookieSecret": {raw.CookieSecret, &secret},
	}); err != nil {
		return err
	}
	s.CookieSecret = Secret(secret)
	s.AllowedOrigins = raw.AllowedOrigins
	s.TrustedProxies = raw.TrustedProxies

	ttl, err := parseDuration("profileTtl", raw.ProfileTTL)
	if err != nil {
		return err
	}
	s.ProfileTTL = ttl
	return nil
}

// UnmarshalJSON implements custom unmarshaling for AuthConfig
func (a *AuthConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		Provider         string          `json:"provider"`
		ClientID         json.RawMessage `json:"clientId"`
		RedirectURI      json.RawMessage `json:"redirectUri"`
		DiscoveryURL     json.RawMessage `json:"discoveryUrl"`
		AuthorizationURL json.RawMessage `json:"authorizationUrl"`
		Scopes           []string        `json:"scopes"`
		AllowedDomains   []string        `json:"allowedDomains"`
		EphemeralTTL     string          `json:"ephemeralTtl"`
		SweepInterval    string          `json:"sweepInterval"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if err := resolveAll(map[string]resolvable{
		"clientId":         {raw.ClientID, &a.ClientID},
		"redirectUri":      {raw.RedirectURI, &a.RedirectURI},
		"discoveryUrl":     {raw.DiscoveryURL, &a.DiscoveryURL},
		"authorizationUrl": {raw.AuthorizationURL, &a.AuthorizationURL},
	}); err != nil {
		return err
	}
	a.Provider = raw.Provider
	a.Scopes = raw.Scopes
	a.AllowedDomains = raw.AllowedDomains

	var err error
	if a.EphemeralTTL, err = parseDuration("ephemeralTtl", raw.EphemeralTTL); err != nil {
		return err
	}
	if a.SweepInterval, err = parseDuration("sweepInterval", raw.SweepInterval); err != nil {
		return err
	}
	return nil
}

// UnmarshalJSON implements custom unmarshaling for KeylessConfig
func (k *KeylessConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		PepperURL json.RawMessage `json:"pepperUrl"`
		ProverURL json.RawMessage `json:"proverUrl"`
		Timeout   string          `json:"timeout"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if err := resolveAll(map[string]resolvable{
		"pepperUrl": {raw.PepperURL, &k.PepperURL},
		"proverUrl": {raw.ProverURL, &k.ProverURL},
	}); err != nil {
		return err
	}
	timeout, err := parseDuration("timeout", raw.Timeout)
	if err != nil {
		return err
	}
	k.Timeout = timeout
	return nil
}

// UnmarshalJSON implements custom unmarshaling for StorageConfig
func (s *StorageConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		Kind                string          `json:"kind"`
		Path                json.RawMessage `json:"path"`
		GCPProject          json.RawMessage `json:"gcpProject"`
		FirestoreDatabase   string          `json:"firestoreDatabase"`
		FirestoreCollection string          `json:"firestoreCollection"`
		EncryptionKey       json.RawMessage `json:"encryptionKey"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var key string
	if err := resolveAll(map[string]resolvable{
		"path":          {raw.Path, &s.Path},
		"gcpProject":    {raw.GCPProject, &s.GCPProject},
		"encryptionKey": {raw.EncryptionKey, &key},
	}); err != nil {
		return err
	}
	s.Kind = raw.Kind
	s.FirestoreDatabase = raw.FirestoreDatabase
	s.FirestoreCollection = raw.FirestoreCollection
	s.EncryptionKey = Secret(key)
	return nil
}

// UnmarshalJSON implements custom unmarshaling for NetworkConfig
func (n *NetworkConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		NodeURL json.RawMessage `json:"nodeUrl"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v, err := ParseConfigValue(raw.NodeURL)
	if err != nil {
		return fmt.Errorf("parsing nodeUrl: %w", err)
	}
	n.NodeURL = v
	return nil
}

// UnmarshalJSON implements custom unmarshaling for AssistantConfig
func (a *AssistantConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		Model             string          `json:"model"`
		BaseURL           json.RawMessage `json:"baseUrl"`
		APIKey            json.RawMessage `json:"apiKey"`
		RequestsPerMinute int             `json:"requestsPerMinute"`
		MaxMessageLength  int             `json:"maxMessageLength"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var key string
	if err := resolveAll(map[string]resolvable{
		"baseUrl": {raw.BaseURL, &a.BaseURL},
		"apiKey":  {raw.APIKey, &key},
	}); err != nil {
		return err
	}
	a.Model = raw.Model
	a.APIKey = Secret(key)
	a.RequestsPerMinute = raw.RequestsPerMinute
	a.MaxMessageLength = raw.MaxMessageLength
	return nil
}
