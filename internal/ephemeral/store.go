package ephemeral

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aptospilot/aptospilot/internal/log"
	"github.com/aptospilot/aptospilot/internal/storage"
	"github.com/aptospilot/aptospilot/internal/tagged"
)

// StorageKey is where a profile's live key pair is persisted.
const StorageKey = "@aptos/ephemeral-key-pair"

// DefaultTTL is how long a freshly created key pair stays valid.
const DefaultTTL = 24 * time.Hour

// record is the persisted layout. Integers and byte strings use the tagged
// encoding so the value survives a plain JSON round trip.
type record struct {
	PrivateKey tagged.Bytes  `json:"privateKey"`
	Expiry     tagged.BigInt `json:"expiryDateSecs"`
	PublicKey  tagged.Bytes  `json:"publicKey"`
	Blinder    tagged.Bytes  `json:"blinder"`
	Nonce      string        `json:"nonce"`
}

// Store persists at most one key pair for a profile.
type Store struct {
	kv  storage.KV
	ttl time.Duration
	now func() time.Time
}

func NewStore(kv storage.KV, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{kv: kv, ttl: ttl, now: time.Now}
}

// WithClock replaces the time source used for expiry.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Create generates a key pair expiring ttl from now and persists it,
// replacing any previous one.
func (s *Store) Create(ctx context.Context) (*KeyPair, error) {
	kp, err := Generate(s.now().Add(s.ttl))
	if err != nil {
		return nil, err
	}
	if err := s.save(ctx, kp); err != nil {
		return nil, err
	}
	log.LogDebugCtx(ctx, "ephemeral", "Ephemeral key pair created", map[string]any{
		"expires_at": kp.ExpiresAt().UTC().Format(time.RFC3339),
	})
	return kp, nil
}

func (s *Store) save(ctx context.Context, kp *KeyPair) error {
	data, err := Encode(kp)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, StorageKey, string(data)); err != nil {
		return fmt.Errorf("persisting ephemeral key pair: %w", err)
	}
	return nil
}

// Load returns the stored key pair. A missing or undecodable value reports
// absence; decode failures are logged and never returned.
func (s *Store) Load(ctx context.Context) (*KeyPair, bool) {
	raw, err := s.kv.Get(ctx, StorageKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false
	}
	if err != nil {
		log.LogWarnCtx(ctx, "ephemeral", "Reading ephemeral key pair failed", map[string]any{"error": err.Error()})
		return nil, false
	}
	kp, err := Decode([]byte(raw))
	if err != nil {
		log.LogWarnCtx(ctx, "ephemeral", "Discarding undecodable ephemeral key pair", map[string]any{"error": err.Error()})
		return nil, false
	}
	return kp, true
}

// Clear removes the stored key pair. Clearing an empty store is a no-op.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.kv.Delete(ctx, StorageKey); err != nil {
		return fmt.Errorf("clearing ephemeral key pair: %w", err)
	}
	return nil
}

// Encode renders kp in the persisted tagged JSON layout.
func Encode(kp *KeyPair) ([]byte, error) {
	return json.Marshal(record{
		PrivateKey: tagged.Bytes(kp.Seed()),
		Expiry:     tagged.Uint64(kp.expiry),
		PublicKey:  tagged.Bytes(kp.PublicKey()),
		Blinder:    tagged.Bytes(kp.blinder),
		Nonce:      kp.nonce,
	})
}

// Decode parses the persisted layout and checks the stored public key and
// nonce against the ones recomputed from the seed.
func Decode(data []byte) (*KeyPair, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding ephemeral key pair: %w", err)
	}
	expiry, ok := rec.Expiry.Uint64()
	if !ok {
		return nil, fmt.Errorf("%w: expiry out of range", ErrInvalidKeyPair)
	}
	kp, err := New(rec.PrivateKey, expiry, rec.Blinder)
	if err != nil {
		return nil, err
	}
	if len(rec.PublicKey) > 0 && !bytes.Equal(rec.PublicKey, kp.PublicKey()) {
		return nil, fmt.Errorf("%w: stored public key does not match seed", ErrInvalidKeyPair)
	}
	if rec.Nonce != "" && rec.Nonce != kp.nonce {
		return nil, fmt.Errorf("%w: stored nonce does not match key material", ErrInvalidKeyPair)
	}
	return kp, nil
}
