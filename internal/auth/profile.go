package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/aptospilot/aptospilot/internal/idtoken"
	"github.com/aptospilot/aptospilot/internal/log"
	"github.com/aptospilot/aptospilot/internal/storage"
)

// Display keys kept alongside the account.
const (
	EmailKey    = "aptos_user_email"
	NameKey     = "aptos_user_name"
	AvatarKey   = "aptos_user_avatar"
	SignedInKey = "aptos_google_signed_in"
)

var profileKeys = []string{EmailKey, NameKey, AvatarKey, SignedInKey}

// Profile is the display identity recorded at sign-in.
type Profile struct {
	Email  string `json:"email"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

func profileFromClaims(c *idtoken.Claims) Profile {
	return Profile{Email: c.Email, Name: c.Name, Avatar: c.Picture}
}

func writeProfile(ctx context.Context, kv storage.KV, p Profile) error {
	values := map[string]string{
		EmailKey:    p.Email,
		NameKey:     p.Name,
		AvatarKey:   p.Avatar,
		SignedInKey: "true",
	}
	for key, v := range values {
		var err error
		if v == "" {
			err = kv.Delete(ctx, key)
		} else {
			err = kv.Set(ctx, key, v)
		}
		if err != nil {
			return fmt.Errorf("writing %s: %w", key, err)
		}
	}
	return nil
}

func readProfile(ctx context.Context, kv storage.KV) Profile {
	get := func(key string) string {
		v, err := kv.Get(ctx, key)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			log.LogWarnCtx(ctx, "auth", "Reading profile value failed", map[string]any{"key": key, "error": err.Error()})
		}
		return v
	}
	return Profile{Email: get(EmailKey), Name: get(NameKey), Avatar: get(AvatarKey)}
}

func clearProfile(ctx context.Context, kv storage.KV) error {
	var errs []error
	for _, key := range profileKeys {
		if err := kv.Delete(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("clearing %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}
