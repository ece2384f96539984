package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aptospilot/aptospilot/internal/aptos"
	"github.com/aptospilot/aptospilot/internal/crypto"
	"github.com/aptospilot/aptospilot/internal/ephemeral"
	"github.com/aptospilot/aptospilot/internal/idp"
	"github.com/aptospilot/aptospilot/internal/idtoken"
	"github.com/aptospilot/aptospilot/internal/keyless"
	"github.com/aptospilot/aptospilot/internal/log"
	"github.com/aptospilot/aptospilot/internal/storage"
)

// BalanceFunc reads an account's APT balance in octas on the named network.
// An empty network selects the default.
type BalanceFunc func(ctx context.Context, network, address string) (uint64, error)

// SessionInfo describes a signed-in account.
type SessionInfo struct {
	Address    string `json:"address"`
	PublicKey  string `json:"publicKey"`
	Balance    string `json:"balance"`
	BalanceAPT string `json:"balanceApt"`
	Network    string `json:"network,omitempty"`
	Profile
}

// Options configures a Manager.
type Options struct {
	Provider       idp.Provider
	Deriver        keyless.Deriver
	Balance        BalanceFunc
	EphemeralTTL   time.Duration
	AllowedDomains []string
	Now            func() time.Time
}

// Manager runs the sign-in lifecycle against one profile's storage at a
// time. It holds no per-profile state of its own.
type Manager struct {
	provider       idp.Provider
	deriver        keyless.Deriver
	balance        BalanceFunc
	ttl            time.Duration
	allowedDomains []string
	now            func() time.Time
}

func NewManager(opts Options) *Manager {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		provider:       opts.Provider,
		deriver:        opts.Deriver,
		balance:        opts.Balance,
		ttl:            opts.EphemeralTTL,
		allowedDomains: opts.AllowedDomains,
		now:            now,
	}
}

func (m *Manager) ephemeralStore(kv storage.KV) *ephemeral.Store {
	return ephemeral.NewStore(kv, m.ttl).WithClock(m.now)
}

// Start creates a fresh ephemeral key pair, replacing any earlier one, and
// returns the identity provider URL bound to its nonce.
func (m *Manager) Start(ctx context.Context, kv storage.KV) (string, error) {
	kp, err := m.ephemeralStore(kv).Create(ctx)
	if err != nil {
		return "", fmt.Errorf("creating ephemeral key pair: %w", err)
	}
	state, err := crypto.GenerateSecureToken()
	if err != nil {
		return "", fmt.Errorf("generating state: %w", err)
	}

	log.LogInfoCtx(ctx, "auth", "Sign-in started", map[string]any{
		"provider":   m.provider.Type(),
		"expires_at": kp.ExpiresAt().UTC().Format(time.RFC3339),
	})
	return m.provider.AuthURL(state, kp.Nonce()), nil
}

// HandleCallback completes sign-in from the full redirect URL. On success
// the account is persisted before the ephemeral key pair is removed.
func (m *Manager) HandleCallback(ctx context.Context, kv storage.KV, redirectURL, network string) (*SessionInfo, error) {
	raw, ok := idtoken.Extract(redirectURL)
	if !ok {
		return nil, ErrTokenMissing
	}

	claims, err := idtoken.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}

	eph := m.ephemeralStore(kv)
	kp, ok := eph.Load(ctx)
	if !ok {
		return nil, fmt.Errorf("%w: no pending sign-in", ErrSessionExpired)
	}

	// A mismatched token leaves the pending key pair in place.
	if claims.Nonce != kp.Nonce() {
		log.LogWarnCtx(ctx, "auth", "Nonce mismatch on callback", map[string]any{"issuer": claims.Issuer})
		return nil, ErrNonceMismatch
	}

	if kp.Expired(m.now()) {
		if err := eph.Clear(ctx); err != nil {
			log.LogWarnCtx(ctx, "auth", "Clearing expired key pair failed", map[string]any{"error": err.Error()})
		}
		return nil, fmt.Errorf("%w: ephemeral key pair expired at %s", ErrSessionExpired, kp.ExpiresAt().UTC().Format(time.RFC3339))
	}

	if err := idp.ValidateDomain(claims.Domain(), m.allowedDomains); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDomainNotAllowed, err)
	}

	acct, err := m.deriver.Derive(ctx, raw, claims, kp)
	if err != nil {
		log.LogErrorCtx(ctx, "auth", "Account derivation failed", map[string]any{"error": err.Error()})
		return nil, fmt.Errorf("%w: %v", ErrDerivationFailed, err)
	}

	accounts := keyless.NewStore(kv)
	if err := accounts.Save(ctx, acct); err != nil {
		return nil, err
	}
	if err := eph.Clear(ctx); err != nil {
		log.LogWarnCtx(ctx, "auth", "Clearing consumed key pair failed", map[string]any{"error": err.Error()})
	}

	profile := profileFromClaims(claims)
	if err := writeProfile(ctx, kv, profile); err != nil {
		log.LogWarnCtx(ctx, "auth", "Writing profile failed", map[string]any{"error": err.Error()})
	}

	log.LogInfoCtx(ctx, "auth", "Sign-in completed", map[string]any{
		"address": acct.AddressHex(),
		"email":   profile.Email,
	})
	return m.sessionInfo(ctx, acct, profile, network), nil
}

// Current returns the stored account without re-validating any credential.
func (m *Manager) Current(ctx context.Context, kv storage.KV, network string) (*SessionInfo, bool) {
	acct, ok := keyless.NewStore(kv).Load(ctx)
	if !ok {
		return nil, false
	}
	return m.sessionInfo(ctx, acct, readProfile(ctx, kv), network), true
}

// SignOut removes the account, any pending key pair and the profile keys.
// It is safe to call in any state.
func (m *Manager) SignOut(ctx context.Context, kv storage.KV) error {
	errs := []error{
		m.ephemeralStore(kv).Clear(ctx),
		keyless.NewStore(kv).Clear(ctx),
		clearProfile(ctx, kv),
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	log.LogInfoCtx(ctx, "auth", "Signed out", nil)
	return nil
}

// State reports SignedIn when an account is stored, FlowStarted when a live
// key pair is pending, and SignedOut otherwise.
func (m *Manager) State(ctx context.Context, kv storage.KV) State {
	if _, ok := keyless.NewStore(kv).Load(ctx); ok {
		return StateSignedIn
	}
	if kp, ok := m.ephemeralStore(kv).Load(ctx); ok && !kp.Expired(m.now()) {
		return StateFlowStarted
	}
	return StateSignedOut
}

// sessionInfo fetches the balance; a failed lookup reports "0".
func (m *Manager) sessionInfo(ctx context.Context, acct *keyless.Account, p Profile, network string) *SessionInfo {
	var octas uint64
	if m.balance != nil {
		var err error
		octas, err = m.balance(ctx, network, acct.AddressHex())
		if err != nil {
			log.LogWarnCtx(ctx, "auth", "Balance lookup failed", map[string]any{
				"address": acct.AddressHex(),
				"error":   err.Error(),
			})
			octas = 0
		}
	}
	return &SessionInfo{
		Address:    acct.AddressHex(),
		PublicKey:  acct.PublicKeyHex(),
		Balance:    strconv.FormatUint(octas, 10),
		BalanceAPT: aptos.FormatAPT(octas),
		Network:    network,
		Profile:    p,
	}
}
