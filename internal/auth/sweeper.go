package auth

import (
	"context"
	"errors"
	"time"

	"github.com/aptospilot/aptospilot/internal/ephemeral"
	"github.com/aptospilot/aptospilot/internal/log"
	"github.com/aptospilot/aptospilot/internal/storage"
)

// Sweeper removes expired or undecodable ephemeral key pairs across all
// profiles. Sweep matches storage.SweepFunc.
type Sweeper struct {
	store storage.Store
	now   func() time.Time
}

func NewSweeper(store storage.Store) *Sweeper {
	return &Sweeper{store: store, now: time.Now}
}

func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	profiles, err := s.store.ProfilesWithKey(ctx, ephemeral.StorageKey)
	if err != nil {
		return 0, err
	}

	now := s.now()
	removed := 0
	for _, profile := range profiles {
		kv := storage.ForProfile(s.store, profile)
		raw, err := kv.Get(ctx, ephemeral.StorageKey)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			log.LogWarnCtx(ctx, "auth", "Sweeper read failed", map[string]any{"error": err.Error()})
			continue
		}
		kp, err := ephemeral.Decode([]byte(raw))
		if err == nil && !kp.Expired(now) {
			continue
		}
		if err := kv.Delete(ctx, ephemeral.StorageKey); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
