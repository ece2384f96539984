package keyless

import (
	"context"
	"errors"
	"fmt"

	"github.com/aptospilot/aptospilot/internal/log"
	"github.com/aptospilot/aptospilot/internal/storage"
	"github.com/aptospilot/aptospilot/internal/tagged"
)

// StorageKey is where a profile's account handle is persisted.
const StorageKey = "@aptos/account"

// Store persists a profile's single account handle.
type Store struct {
	kv storage.KV
}

func NewStore(kv storage.KV) *Store {
	return &Store{kv: kv}
}

// Save writes the account as a tagged opaque value, replacing any previous one.
func (s *Store) Save(ctx context.Context, acct *Account) error {
	data, err := tagged.MarshalOpaque(acct)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, StorageKey, string(data)); err != nil {
		return fmt.Errorf("persisting account: %w", err)
	}
	return nil
}

// Load returns the stored account. Missing and undecodable values both
// report absence; decode failures are logged.
func (s *Store) Load(ctx context.Context) (*Account, bool) {
	raw, err := s.kv.Get(ctx, StorageKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false
	}
	if err != nil {
		log.LogWarnCtx(ctx, "keyless", "Reading account failed", map[string]any{"error": err.Error()})
		return nil, false
	}
	var acct Account
	if err := tagged.UnmarshalOpaque([]byte(raw), &acct); err != nil {
		log.LogWarnCtx(ctx, "keyless", "Discarding undecodable account", map[string]any{"error": err.Error()})
		return nil, false
	}
	return &acct, true
}

// Clear removes the stored account; clearing an empty store is a no-op.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.kv.Delete(ctx, StorageKey); err != nil {
		return fmt.Errorf("clearing account: %w", err)
	}
	return nil
}
