package crypto

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidToken covers malformed tokens and signature mismatches.
	ErrInvalidToken = errors.New("invalid signed token")
	// ErrTokenExpired is returned by Verify for well-formed tokens past their expiry.
	ErrTokenExpired = errors.New("signed token expired")
)

// TokenSigner provides HMAC-signed JSON tokens with optional expiry.
// The profile cookie is one of these.
type TokenSigner struct {
	signingKey []byte
	ttl        time.Duration
	now        func() time.Time
}

// NewTokenSigner creates a new token signer. A zero ttl disables expiry.
func NewTokenSigner(signingKey []byte, ttl time.Duration) TokenSigner {
	return TokenSigner{
		signingKey: signingKey,
		ttl:        ttl,
		now:        time.Now,
	}
}

type envelope struct {
	Data      json.RawMessage `json:"data"`
	ExpiresAt int64           `json:"exp,omitempty"`
}

// Sign marshals v, wraps it with an expiry, and returns "payload.signature".
func (ts TokenSigner) Sign(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal data: %w", err)
	}

	env := envelope{Data: data}
	if ts.ttl > 0 {
		env.ExpiresAt = ts.now().Add(ts.ttl).Unix()
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to marshal token envelope: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + SignData(encoded, ts.signingKey), nil
}

// Verify checks the signature and expiry, then unmarshals the payload into v.
func (ts TokenSigner) Verify(token string, v any) error {
	encoded, signature, ok := strings.Cut(token, ".")
	if !ok || encoded == "" || signature == "" {
		return ErrInvalidToken
	}
	if !ValidateSignedData(encoded, signature, ts.signingKey) {
		return ErrInvalidToken
	}

	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if env.ExpiresAt != 0 && ts.now().Unix() > env.ExpiresAt {
		return ErrTokenExpired
	}

	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("failed to unmarshal token data: %w", err)
	}
	return nil
}
