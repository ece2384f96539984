// Package keyless holds the durable account handle derived from an identity
// token, its persistence, and the client for the services that derive it.
package keyless

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/aptospilot/aptospilot/internal/bcs"
	"github.com/aptospilot/aptospilot/internal/ephemeral"
	"golang.org/x/crypto/sha3"
)

const AddressLength = 32

var ErrInvalidAccount = errors.New("invalid keyless account")

// Account is the long-lived handle produced by a successful sign-in. It is
// opaque to the rest of the service: the fields exist so the handle can be
// persisted and handed back to signing services unchanged.
type Account struct {
	Address   [AddressLength]byte
	Ephemeral *ephemeral.KeyPair
	Issuer    string
	Audience  string
	UIDKey    string
	UIDVal    string
	Pepper    []byte
	// Proof is the prover's response, kept verbatim.
	Proof []byte
	JWT   string
}

// AddressHex renders the address as 0x-prefixed lowercase hex.
func (a *Account) AddressHex() string {
	return "0x" + hex.EncodeToString(a.Address[:])
}

// IdentityCommitment binds the account to (pepper, aud, uid) without
// revealing them. It is reduced to 248 bits like the ephemeral nonce.
func (a *Account) IdentityCommitment() *big.Int {
	h := sha3.New256()
	var w bcs.Writer
	w.ByteString(a.Pepper)
	w.String(a.Audience)
	w.String(a.UIDKey)
	w.String(a.UIDVal)
	h.Write(w.Bytes())
	digest := h.Sum(nil)
	return new(big.Int).SetBytes(digest[:31])
}

// PublicKey is the canonical keyless public key: issuer and identity commitment.
func (a *Account) PublicKey() []byte {
	var w bcs.Writer
	w.String(a.Issuer)
	if err := w.BigInt(a.IdentityCommitment()); err != nil {
		// The commitment is built from an unsigned digest.
		panic(fmt.Sprintf("keyless: encoding identity commitment: %v", err))
	}
	return w.Bytes()
}

func (a *Account) PublicKeyHex() string {
	return "0x" + hex.EncodeToString(a.PublicKey())
}

func (a *Account) TypeName() string { return "KeylessAccount" }

func (a *Account) MarshalCanonical() ([]byte, error) {
	if a.Ephemeral == nil {
		return nil, fmt.Errorf("%w: missing ephemeral key pair", ErrInvalidAccount)
	}
	var w bcs.Writer
	w.Fixed(a.Address[:])
	a.Ephemeral.WriteTo(&w)
	w.String(a.Issuer)
	w.String(a.Audience)
	w.String(a.UIDKey)
	w.String(a.UIDVal)
	w.ByteString(a.Pepper)
	w.ByteString(a.Proof)
	w.String(a.JWT)
	return w.Bytes(), nil
}

func (a *Account) UnmarshalCanonical(b []byte) error {
	r := bcs.NewReader(b)
	var out Account
	copy(out.Address[:], r.Fixed(AddressLength))
	if err := r.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAccount, err)
	}
	kp, err := ephemeral.ReadFrom(r)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAccount, err)
	}
	out.Ephemeral = kp
	out.Issuer = r.String()
	out.Audience = r.String()
	out.UIDKey = r.String()
	out.UIDVal = r.String()
	out.Pepper = r.ByteString()
	out.Proof = r.ByteString()
	out.JWT = r.String()
	if err := r.Done(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAccount, err)
	}
	*a = out
	return nil
}

// ParseAddress accepts 0x-prefixed or bare hex, left-padding short forms
// such as "0x1" to the full 32 bytes.
func ParseAddress(s string) ([AddressLength]byte, error) {
	var out [AddressLength]byte
	h := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	if h == "" || len(h) > AddressLength*2 {
		return out, fmt.Errorf("invalid address %q", s)
	}
	if len(h)%2 == 1 {
		h = "0" + h
	}
	raw, err := hex.DecodeString(h)
	if err != nil {
		return out, fmt.Errorf("invalid address %q: %w", s, err)
	}
	copy(out[AddressLength-len(raw):], raw)
	return out, nil
}
