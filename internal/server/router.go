package server

import (
	"net/http"
	"net/netip"
	"time"

	"github.com/aptospilot/aptospilot/internal/crypto"
	"github.com/aptospilot/aptospilot/internal/storage"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// RouterConfig collects what NewRouter mounts.
type RouterConfig struct {
	Store          storage.Store
	Signer         crypto.TokenSigner
	CSRF           crypto.CSRFProtection
	ProfileTTL     time.Duration
	AllowedOrigins []string
	TrustedProxies []netip.Prefix

	Auth  *AuthHandlers
	Chain *ChainHandlers
	AI    *AIHandlers

	// MCP is mounted at MCPPath when set.
	MCP     http.Handler
	MCPPath string
}

// NewRouter builds the HTTP surface. Browser-profile routes carry the
// profile and CSRF middleware; chain, assistant and MCP routes are
// stateless.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(NewTrustedRealIPMiddleware(cfg.TrustedProxies))
	r.Use(chimiddleware.RequestID)
	r.Use(NewRecoverMiddleware("http"))
	r.Use(NewLoggerMiddleware("http"))
	r.Use(NewCORSMiddleware(cfg.AllowedOrigins))

	r.Get("/health", HealthHandler)

	r.Group(func(r chi.Router) {
		r.Use(NewProfileMiddleware(cfg.Store, cfg.Signer, cfg.ProfileTTL))
		r.Use(NewCSRFMiddleware(cfg.CSRF, cfg.ProfileTTL))

		r.Get(loginPath, cfg.Auth.LoginHandler)
		r.Get(callbackPath, cfg.Auth.CallbackPageHandler)
		r.Post(callbackAPIPath, cfg.Auth.CallbackHandler)
		r.Get("/api/session", cfg.Auth.SessionHandler)
		r.Get("/api/auth/state", cfg.Auth.StateHandler)
		r.Post("/api/auth/signout", cfg.Auth.SignOutHandler)
	})

	r.Get("/api/networks", cfg.Chain.NetworksHandler)
	r.Get("/api/accounts/{address}/balance", cfg.Chain.BalanceHandler)
	r.Get("/api/accounts/{address}/exists", cfg.Chain.ExistsHandler)

	r.Post("/api/ai/chat", cfg.AI.ChatHandler)
	r.Get("/api/ai/test", cfg.AI.StatusHandler)

	if cfg.MCP != nil && cfg.MCPPath != "" {
		r.Handle(cfg.MCPPath, cfg.MCP)
	}
	return r
}
