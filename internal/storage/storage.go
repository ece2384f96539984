package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the profile has no value under the key.
var ErrNotFound = errors.New("storage: key not found")

// Store is the durable profile-scoped key-value store backing the session
// module. Each browser profile owns an independent namespace; values are
// opaque strings written last-writer-wins.
type Store interface {
	Get(ctx context.Context, profile, key string) (string, error)
	Set(ctx context.Context, profile, key, value string) error
	// Delete is idempotent: removing an absent key is not an error.
	Delete(ctx context.Context, profile, key string) error
	// ProfilesWithKey lists profiles that currently hold a value under key.
	ProfilesWithKey(ctx context.Context, key string) ([]string, error)
	Close() error
}

// KV is a single profile's view of a Store. It is what the session
// components are handed; they never see other profiles.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

type profileKV struct {
	store   Store
	profile string
}

// ForProfile scopes s to a single profile.
func ForProfile(s Store, profile string) KV {
	return profileKV{store: s, profile: profile}
}

func (p profileKV) Get(ctx context.Context, key string) (string, error) {
	return p.store.Get(ctx, p.profile, key)
}

func (p profileKV) Set(ctx context.Context, key, value string) error {
	return p.store.Set(ctx, p.profile, key, value)
}

func (p profileKV) Delete(ctx context.Context, key string) error {
	return p.store.Delete(ctx, p.profile, key)
}
