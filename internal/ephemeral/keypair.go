// Package ephemeral manages the short-lived Ed25519 key pair whose nonce is
// embedded in the identity provider request. The key pair binds an identity
// token to this sign-in attempt: the token's nonce claim must equal Nonce().
package ephemeral

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"time"

	"filippo.io/edwards25519"
	"github.com/aptospilot/aptospilot/internal/bcs"
	"golang.org/x/crypto/sha3"
)

const (
	// BlinderSize matches the field-element width of the upstream protocol.
	BlinderSize = 31

	schemeEd25519 = 0
)

var ErrInvalidKeyPair = errors.New("invalid ephemeral key pair")

// KeyPair is an ephemeral signing key with an expiry and a blinder. Its nonce
// is a pure function of (public key, expiry, blinder).
type KeyPair struct {
	privateKey ed25519.PrivateKey
	expiry     uint64
	blinder    []byte
	nonce      string
}

// Generate creates a fresh key pair that expires at expiresAt.
func Generate(expiresAt time.Time) (*KeyPair, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating ephemeral key: %w", err)
	}
	blinder := make([]byte, BlinderSize)
	if _, err := rand.Read(blinder); err != nil {
		return nil, fmt.Errorf("generating blinder: %w", err)
	}
	return New(priv.Seed(), uint64(expiresAt.Unix()), blinder)
}

// New rebuilds a key pair from its seed, expiry (unix seconds) and blinder.
func New(seed []byte, expirySecs uint64, blinder []byte) (*KeyPair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: seed must be %d bytes, got %d", ErrInvalidKeyPair, ed25519.SeedSize, len(seed))
	}
	if len(blinder) != BlinderSize {
		return nil, fmt.Errorf("%w: blinder must be %d bytes, got %d", ErrInvalidKeyPair, BlinderSize, len(blinder))
	}

	pub, err := derivePublicKey(seed)
	if err != nil {
		return nil, err
	}
	priv := make(ed25519.PrivateKey, 0, ed25519.PrivateKeySize)
	priv = append(append(priv, seed...), pub...)

	kp := &KeyPair{
		privateKey: priv,
		expiry:     expirySecs,
		blinder:    append([]byte(nil), blinder...),
	}
	kp.nonce = deriveNonce(pub, expirySecs, kp.blinder)
	return kp, nil
}

// derivePublicKey computes the Ed25519 public point for seed: the clamped
// low half of SHA-512(seed) times the base point.
func derivePublicKey(seed []byte) (ed25519.PublicKey, error) {
	h := sha512.Sum512(seed)
	s, err := edwards25519.NewScalar().SetBytesWithClamping(h[:32])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyPair, err)
	}
	return new(edwards25519.Point).ScalarBaseMult(s).Bytes(), nil
}

// deriveNonce hashes the scheme, public key, expiry and blinder and reduces
// the digest to 248 bits, rendered as a decimal integer.
func deriveNonce(pub ed25519.PublicKey, expiry uint64, blinder []byte) string {
	h := sha3.New256()
	h.Write([]byte{schemeEd25519})
	h.Write(pub)
	h.Write(binary.LittleEndian.AppendUint64(nil, expiry))
	h.Write(blinder)
	digest := h.Sum(nil)
	return new(big.Int).SetBytes(digest[:BlinderSize]).String()
}

func (k *KeyPair) PublicKey() ed25519.PublicKey {
	return k.privateKey.Public().(ed25519.PublicKey)
}

func (k *KeyPair) Seed() []byte {
	return k.privateKey.Seed()
}

func (k *KeyPair) Nonce() string { return k.nonce }

func (k *KeyPair) Blinder() []byte { return append([]byte(nil), k.blinder...) }

func (k *KeyPair) ExpirySecs() uint64 { return k.expiry }

func (k *KeyPair) ExpiresAt() time.Time {
	return time.Unix(int64(k.expiry), 0)
}

// Expired reports whether now is strictly after the expiry.
func (k *KeyPair) Expired(now time.Time) bool {
	return now.Unix() > int64(k.expiry)
}

// Sign signs msg with the ephemeral private key.
func (k *KeyPair) Sign(msg []byte) []byte {
	return ed25519.Sign(k.privateKey, msg)
}

// Equal compares key material, expiry and blinder.
func (k *KeyPair) Equal(o *KeyPair) bool {
	if k == nil || o == nil {
		return k == o
	}
	return k.privateKey.Equal(o.privateKey) && k.expiry == o.expiry && string(k.blinder) == string(o.blinder)
}

func (k *KeyPair) TypeName() string { return "EphemeralKeyPair" }

// MarshalCanonical writes the scheme tag, seed, expiry and blinder.
func (k *KeyPair) MarshalCanonical() ([]byte, error) {
	var w bcs.Writer
	k.writeTo(&w)
	return w.Bytes(), nil
}

func (k *KeyPair) writeTo(w *bcs.Writer) {
	w.Uleb128(schemeEd25519)
	w.ByteString(k.privateKey.Seed())
	w.U64(k.expiry)
	w.ByteString(k.blinder)
}

func (k *KeyPair) UnmarshalCanonical(b []byte) error {
	r := bcs.NewReader(b)
	decoded, err := ReadFrom(r)
	if err != nil {
		return err
	}
	if err := r.Done(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKeyPair, err)
	}
	*k = *decoded
	return nil
}

// WriteTo appends the canonical form to w, for embedding in larger objects.
func (k *KeyPair) WriteTo(w *bcs.Writer) {
	k.writeTo(w)
}

// ReadFrom decodes a key pair embedded in a larger canonical object.
func ReadFrom(r *bcs.Reader) (*KeyPair, error) {
	scheme := r.Uleb128()
	seed := r.ByteString()
	expiry := r.U64()
	blinder := r.ByteString()
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyPair, err)
	}
	if scheme != schemeEd25519 {
		return nil, fmt.Errorf("%w: unsupported scheme %d", ErrInvalidKeyPair, scheme)
	}
	return New(seed, expiry, blinder)
}
