package auth

import (
	"context"
	"testing"
	"time"

	"github.com/aptospilot/aptospilot/internal/ephemeral"
	"github.com/aptospilot/aptospilot/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeperRemovesExpiredAndCorrupt(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	live := ephemeral.NewStore(storage.ForProfile(store, "live"), time.Hour).WithClock(func() time.Time { return now })
	_, err := live.Create(ctx)
	require.NoError(t, err)

	stale := ephemeral.NewStore(storage.ForProfile(store, "stale"), time.Hour).WithClock(func() time.Time { return now.Add(-2 * time.Hour) })
	_, err = stale.Create(ctx)
	require.NoError(t, err)

	require.NoError(t, store.Set(ctx, "corrupt", ephemeral.StorageKey, `{"privateKey":42}`))
	require.NoError(t, store.Set(ctx, "other", "aptos_user_email", "a@x.com"))

	s := NewSweeper(store)
	s.now = func() time.Time { return now }

	removed, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	profiles, err := store.ProfilesWithKey(ctx, ephemeral.StorageKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"live"}, profiles)

	removed, err = s.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)
}
