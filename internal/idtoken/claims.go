package idtoken

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var ErrMalformed = errors.New("identity token is malformed")

// Claims are the identity token claims the session module relies on.
type Claims struct {
	jwt.RegisteredClaims
	Nonce         string `json:"nonce"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified,omitempty"`
	Name          string `json:"name,omitempty"`
	Picture       string `json:"picture,omitempty"`
}

// Parse decodes the token payload without verifying its signature. The
// signature is checked by the pepper service during account derivation,
// which is the only consumer that trusts the token.
func Parse(raw string) (*Claims, error) {
	var claims Claims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(raw, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	claims.Email = strings.ToLower(strings.TrimSpace(claims.Email))
	return &claims, nil
}

// ClientID returns the first aud entry, which is the OAuth client ID for the
// providers this service supports.
func (c *Claims) ClientID() string {
	if len(c.RegisteredClaims.Audience) == 0 {
		return ""
	}
	return c.RegisteredClaims.Audience[0]
}

// Domain returns the part of the email address after '@'.
func (c *Claims) Domain() string {
	_, domain, ok := strings.Cut(c.Email, "@")
	if !ok {
		return ""
	}
	return domain
}
