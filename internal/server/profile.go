package server

import (
	"context"
	"net/http"
	"time"

	"github.com/aptospilot/aptospilot/internal/cookie"
	"github.com/aptospilot/aptospilot/internal/crypto"
	jsonwriter "github.com/aptospilot/aptospilot/internal/json"
	"github.com/aptospilot/aptospilot/internal/log"
	"github.com/aptospilot/aptospilot/internal/storage"
	"github.com/google/uuid"
)

// CSRFHeader carries the CSRF cookie value on state-changing API calls.
const CSRFHeader = "X-CSRF-Token"

type profileCtxKey struct{}

type profileCookie struct {
	ID string `json:"id"`
}

type profileScope struct {
	id string
	kv storage.KV
}

// ProfileKV returns the storage view for the request's browser profile.
func ProfileKV(ctx context.Context) (storage.KV, bool) {
	p, ok := ctx.Value(profileCtxKey{}).(profileScope)
	return p.kv, ok
}

// ProfileID returns the request's browser profile identifier.
func ProfileID(ctx context.Context) string {
	p, _ := ctx.Value(profileCtxKey{}).(profileScope)
	return p.id
}

func withProfile(ctx context.Context, id string, kv storage.KV) context.Context {
	return context.WithValue(ctx, profileCtxKey{}, profileScope{id: id, kv: kv})
}

// NewProfileMiddleware binds each request to a browser profile. The profile
// ID lives in a signed cookie; a missing, tampered or expired cookie starts a
// new, empty profile.
func NewProfileMiddleware(store storage.Store, signer crypto.TokenSigner, ttl time.Duration) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var pc profileCookie
			raw, err := cookie.GetProfile(r)
			if err == nil {
				if verr := signer.Verify(raw, &pc); verr != nil {
					log.LogDebugCtx(r.Context(), "profile", "Discarding profile cookie", map[string]any{"error": verr.Error()})
					pc = profileCookie{}
				}
			}
			if pc.ID == "" {
				pc.ID = uuid.NewString()
				signed, err := signer.Sign(pc)
				if err != nil {
					log.LogErrorCtx(r.Context(), "profile", "Signing profile cookie failed", map[string]any{"error": err.Error()})
					jsonwriter.WriteInternalServerError(w, "Failed to establish profile")
					return
				}
				cookie.SetProfile(w, signed, ttl)
			}

			ctx := withProfile(r.Context(), pc.ID, storage.ForProfile(store, pc.ID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewCSRFMiddleware issues a readable CSRF cookie on safe requests and
// requires POSTs to echo a valid one in CSRFHeader.
func NewCSRFMiddleware(csrf crypto.CSRFProtection, ttl time.Duration) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			current, _ := cookie.GetCSRF(r)

			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				if current == "" || !csrf.Validate(current) {
					token, err := csrf.Generate()
					if err != nil {
						log.LogErrorCtx(r.Context(), "csrf", "Generating CSRF token failed", map[string]any{"error": err.Error()})
						jsonwriter.WriteInternalServerError(w, "Failed to generate CSRF token")
						return
					}
					cookie.SetCSRF(w, token, ttl)
				}
			default:
				header := r.Header.Get(CSRFHeader)
				if header == "" || header != current || !csrf.Validate(header) {
					log.LogWarnCtx(r.Context(), "csrf", "CSRF validation failed", map[string]any{"path": r.URL.Path})
					jsonwriter.WriteError(w, http.StatusForbidden, "csrf_invalid", "Missing or invalid CSRF token")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
