package server

import (
	"errors"
	"net/http"

	"github.com/aptospilot/aptospilot/internal/aptos"
	"github.com/aptospilot/aptospilot/internal/auth"
	"github.com/aptospilot/aptospilot/internal/cookie"
	jsonwriter "github.com/aptospilot/aptospilot/internal/json"
	"github.com/aptospilot/aptospilot/internal/log"
)

const (
	loginPath       = "/auth/google/login"
	callbackPath    = "/auth/callback"
	callbackAPIPath = "/api/auth/callback"

	maxCallbackBody = 64 << 10
)

// AuthHandlers serves the sign-in lifecycle for the request's profile.
type AuthHandlers struct {
	manager    *auth.Manager
	networks   *aptos.Networks
	returnPath string
}

func NewAuthHandlers(manager *auth.Manager, networks *aptos.Networks, returnPath string) *AuthHandlers {
	if returnPath == "" {
		returnPath = "/"
	}
	return &AuthHandlers{manager: manager, networks: networks, returnPath: returnPath}
}

type callbackRequest struct {
	URL     string `json:"url"`
	Network string `json:"network,omitempty"`
}

type stateResponse struct {
	State auth.State `json:"state"`
}

// authErrorStatus maps sign-in failures to HTTP statuses.
func authErrorStatus(err error) int {
	switch {
	case errors.Is(err, auth.ErrTokenMissing), errors.Is(err, auth.ErrTokenMalformed):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrSessionExpired), errors.Is(err, auth.ErrNonceMismatch):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrDomainNotAllowed):
		return http.StatusForbidden
	case errors.Is(err, auth.ErrDerivationFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// authErrorMessage is the human-readable text for a failure. Internal
// errors are not echoed back.
func authErrorMessage(err error) string {
	for _, sentinel := range []error{
		auth.ErrTokenMissing, auth.ErrTokenMalformed, auth.ErrSessionExpired,
		auth.ErrNonceMismatch, auth.ErrDerivationFailed, auth.ErrDomainNotAllowed,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "Failed to complete sign-in"
}

// validNetwork rejects unknown network names before any chain call.
func (h *AuthHandlers) validNetwork(w http.ResponseWriter, network string) bool {
	if _, err := h.networks.Get(network); err != nil {
		jsonwriter.WriteError(w, http.StatusBadRequest, "unknown_network", err.Error())
		return false
	}
	return true
}

// LoginHandler starts sign-in and redirects to the identity provider.
func (h *AuthHandlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	kv, ok := ProfileKV(r.Context())
	if !ok {
		jsonwriter.WriteInternalServerError(w, "No profile bound to request")
		return
	}

	authURL, err := h.manager.Start(r.Context(), kv)
	if err != nil {
		log.LogErrorCtx(r.Context(), "auth", "Failed to start sign-in", map[string]any{"error": err.Error()})
		jsonwriter.WriteInternalServerError(w, "Failed to start sign-in")
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// CallbackPageHandler serves the page the identity provider redirects to.
// The token is in the fragment, which only the browser sees, so the page
// posts its own URL to CallbackHandler.
func (h *AuthHandlers) CallbackPageHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Referrer-Policy", "no-referrer")
	err := callbackPageTemplate.Execute(w, CallbackPageData{
		CallbackAPI: callbackAPIPath,
		LoginPath:   loginPath,
		ReturnPath:  h.returnPath,
		CSRFCookie:  cookie.CSRFCookie,
		CSRFHeader:  CSRFHeader,
	})
	if err != nil {
		log.LogError("Failed to render callback page: %v", err)
	}
}

// CallbackHandler completes sign-in from the redirect URL posted by the
// callback page.
func (h *AuthHandlers) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	kv, ok := ProfileKV(r.Context())
	if !ok {
		jsonwriter.WriteInternalServerError(w, "No profile bound to request")
		return
	}

	var req callbackRequest
	if err := jsonwriter.Decode(r, maxCallbackBody, &req); err != nil {
		jsonwriter.WriteBadRequest(w, "Request body must be JSON with a url field")
		return
	}
	if !h.validNetwork(w, req.Network) {
		return
	}

	info, err := h.manager.HandleCallback(r.Context(), kv, req.URL, req.Network)
	if err != nil {
		log.LogWarnCtx(r.Context(), "auth", "Sign-in callback failed", map[string]any{
			"code":  auth.Code(err),
			"error": err.Error(),
		})
		jsonwriter.WriteError(w, authErrorStatus(err), auth.Code(err), authErrorMessage(err))
		return
	}
	_ = jsonwriter.Write(w, info)
}

// SessionHandler rehydrates the signed-in account, if any.
func (h *AuthHandlers) SessionHandler(w http.ResponseWriter, r *http.Request) {
	kv, ok := ProfileKV(r.Context())
	if !ok {
		jsonwriter.WriteInternalServerError(w, "No profile bound to request")
		return
	}
	network := r.URL.Query().Get("network")
	if !h.validNetwork(w, network) {
		return
	}

	info, ok := h.manager.Current(r.Context(), kv, network)
	if !ok {
		jsonwriter.WriteError(w, http.StatusUnauthorized, "signed_out", "No account is signed in")
		return
	}
	_ = jsonwriter.Write(w, info)
}

// StateHandler reports where the profile is in the sign-in lifecycle.
func (h *AuthHandlers) StateHandler(w http.ResponseWriter, r *http.Request) {
	kv, ok := ProfileKV(r.Context())
	if !ok {
		jsonwriter.WriteInternalServerError(w, "No profile bound to request")
		return
	}
	_ = jsonwriter.Write(w, stateResponse{State: h.manager.State(r.Context(), kv)})
}

// SignOutHandler clears the profile's account and pending sign-in.
func (h *AuthHandlers) SignOutHandler(w http.ResponseWriter, r *http.Request) {
	kv, ok := ProfileKV(r.Context())
	if !ok {
		jsonwriter.WriteInternalServerError(w, "No profile bound to request")
		return
	}
	if err := h.manager.SignOut(r.Context(), kv); err != nil {
		log.LogErrorCtx(r.Context(), "auth", "Sign-out failed", map[string]any{"error": err.Error()})
		jsonwriter.WriteInternalServerError(w, "Failed to sign out")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
