package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/aptospilot/aptospilot/internal/aptos"
	"github.com/aptospilot/aptospilot/internal/assistant"
	"github.com/aptospilot/aptospilot/internal/auth"
	"github.com/aptospilot/aptospilot/internal/cookie"
	"github.com/aptospilot/aptospilot/internal/crypto"
	"github.com/aptospilot/aptospilot/internal/ephemeral"
	"github.com/aptospilot/aptospilot/internal/idp"
	"github.com/aptospilot/aptospilot/internal/idtoken"
	"github.com/aptospilot/aptospilot/internal/keyless"
	"github.com/aptospilot/aptospilot/internal/storage"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthEndpoint(t *testing.T) {
	w := httptest.NewRecorder()
	HealthHandler(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var response map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "ok", response["status"])
}

type stubDeriver struct {
	err error
}

func (d stubDeriver) Derive(_ context.Context, raw string, claims *idtoken.Claims, kp *ephemeral.KeyPair) (*keyless.Account, error) {
	if d.err != nil {
		return nil, d.err
	}
	addr, _ := keyless.ParseAddress("0xabc")
	return &keyless.Account{
		Address:   addr,
		Ephemeral: kp,
		Issuer:    claims.Issuer,
		Audience:  claims.ClientID(),
		UIDKey:    "sub",
		UIDVal:    claims.Subject,
		Pepper:    []byte{7},
		Proof:     []byte(`{}`),
		JWT:       raw,
	}, nil
}

type stubGenerator struct{ text string }

func (g stubGenerator) Generate(context.Context, string) (string, error) { return g.text, nil }

// fakeNode answers balance views and account lookups like a fullnode.
func fakeNode(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/view"):
			_, _ = w.Write([]byte(`["150000000"]`))
		case strings.Contains(r.URL.Path, "/accounts/0x0000000000000000000000000000000000000000000000000000000000000abc"):
			_, _ = w.Write([]byte(`{"sequence_number":"0"}`))
		case strings.Contains(r.URL.Path, "/accounts/"):
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

type testApp struct {
	handler http.Handler
	cookies map[string]*http.Cookie
}

func newTestApp(t *testing.T, deriver keyless.Deriver, gen assistant.Generator) *testApp {
	t.Helper()
	node := fakeNode(t)
	networks, err := aptos.NewNetworks(map[string]string{
		"mainnet": node.URL + "/v1",
		"testnet": node.URL + "/v1",
	}, "mainnet", nil)
	require.NoError(t, err)

	manager := auth.NewManager(auth.Options{
		Provider:     idp.NewGoogleProvider("client-123", "https://pilot.example.com/auth/callback"),
		Deriver:      deriver,
		EphemeralTTL: time.Hour,
		Balance: func(ctx context.Context, network, address string) (uint64, error) {
			c, err := networks.Get(network)
			if err != nil {
				return 0, err
			}
			return c.Balance(ctx, address)
		},
	})

	handler := NewRouter(RouterConfig{
		Store:      storage.NewMemoryStorage(),
		Signer:     crypto.NewTokenSigner([]byte(strings.Repeat("s", 32)), time.Hour),
		CSRF:       crypto.NewCSRFProtection([]byte(strings.Repeat("c", 32)), time.Hour),
		ProfileTTL: time.Hour,
		Auth:       NewAuthHandlers(manager, networks, "/"),
		Chain:      NewChainHandlers(networks),
		AI:         NewAIHandlers(assistant.NewService(gen, 1000), assistant.NewLimiter(2, time.Minute)),
	})
	return &testApp{handler: handler, cookies: map[string]*http.Cookie{}}
}

// do sends a request carrying the cookies collected so far, like a browser.
func (a *testApp) do(method, target string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range a.cookies {
		req.AddCookie(c)
	}
	if c, ok := a.cookies[cookie.CSRFCookie]; ok && method == http.MethodPost {
		req.Header.Set(CSRFHeader, c.Value)
	}
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, req)
	for _, c := range rr.Result().Cookies() {
		a.cookies[c.Name] = c
	}
	return rr
}

func (a *testApp) login(t *testing.T) string {
	t.Helper()
	rr := a.do(http.MethodGet, "/auth/google/login", nil)
	require.Equal(t, http.StatusFound, rr.Code)
	loc, err := url.Parse(rr.Header().Get("Location"))
	require.NoError(t, err)
	nonce := loc.Query().Get("nonce")
	require.NotEmpty(t, nonce)
	return nonce
}

func mintToken(t *testing.T, nonce, email string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss":   "https://accounts.google.com",
		"sub":   "42",
		"aud":   "client-123",
		"nonce": nonce,
		"email": email,
		"name":  "Grace",
	}).SignedString([]byte("unused"))
	require.NoError(t, err)
	return tok
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestSignInLifecycle(t *testing.T) {
	app := newTestApp(t, stubDeriver{}, nil)

	rr := app.do(http.MethodGet, "/api/session", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "signed_out", decodeBody[map[string]string](t, rr)["error"])

	nonce := app.login(t)
	assert.Equal(t, "flow_started", decodeBody[map[string]string](t, app.do(http.MethodGet, "/api/auth/state", nil))["state"])

	page := app.do(http.MethodGet, "/auth/callback", nil)
	require.Equal(t, http.StatusOK, page.Code)
	assert.Contains(t, page.Header().Get("Content-Type"), "text/html")
	assert.Equal(t, "no-store", page.Header().Get("Cache-Control"))

	redirect := "https://pilot.example.com/auth/callback#id_token=" + mintToken(t, nonce, "grace@example.com") + "&state=x"
	rr = app.do(http.MethodPost, "/api/auth/callback", map[string]string{"url": redirect})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	info := decodeBody[auth.SessionInfo](t, rr)
	assert.Equal(t, "0x0000000000000000000000000000000000000000000000000000000000000abc", info.Address)
	assert.Equal(t, "150000000", info.Balance)
	assert.Equal(t, "1.5000", info.BalanceAPT)
	assert.Equal(t, "grace@example.com", info.Email)

	rr = app.do(http.MethodGet, "/api/session?network=testnet", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, info.Address, decodeBody[auth.SessionInfo](t, rr).Address)

	rr = app.do(http.MethodPost, "/api/auth/signout", nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = app.do(http.MethodPost, "/api/auth/signout", nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	assert.Equal(t, http.StatusUnauthorized, app.do(http.MethodGet, "/api/session", nil).Code)
	assert.Equal(t, "signed_out", decodeBody[map[string]string](t, app.do(http.MethodGet, "/api/auth/state", nil))["state"])
}

func TestCallbackErrors(t *testing.T) {
	tests := []struct {
		name     string
		deriver  keyless.Deriver
		url      func(nonce string) string
		network  string
		wantCode int
		wantErr  string
	}{
		{
			name:     "no token",
			url:      func(string) string { return "https://pilot.example.com/auth/callback#state=x" },
			wantCode: http.StatusBadRequest,
			wantErr:  "token_missing",
		},
		{
			name:     "garbage token",
			url:      func(string) string { return "https://pilot.example.com/auth/callback#id_token=abc" },
			wantCode: http.StatusBadRequest,
			wantErr:  "token_malformed",
		},
		{
			name:     "nonce from another attempt",
			url:      func(string) string { return "https://x/#id_token=" + mintToken(t, "other", "a@b.c") },
			wantCode: http.StatusUnauthorized,
			wantErr:  "nonce_mismatch",
		},
		{
			name:     "derivation failure",
			deriver:  stubDeriver{err: errors.New("prover unavailable")},
			url:      func(n string) string { return "https://x/#id_token=" + mintToken(t, n, "a@b.c") },
			wantCode: http.StatusBadGateway,
			wantErr:  "derivation_failed",
		},
		{
			name:     "unknown network",
			url:      func(n string) string { return "https://x/#id_token=" + mintToken(t, n, "a@b.c") },
			network:  "nowhere",
			wantCode: http.StatusBadRequest,
			wantErr:  "unknown_network",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deriver := tt.deriver
			if deriver == nil {
				deriver = stubDeriver{}
			}
			app := newTestApp(t, deriver, nil)
			nonce := app.login(t)

			rr := app.do(http.MethodPost, "/api/auth/callback", map[string]string{"url": tt.url(nonce), "network": tt.network})
			assert.Equal(t, tt.wantCode, rr.Code)
			assert.Equal(t, tt.wantErr, decodeBody[map[string]string](t, rr)["error"])
		})
	}
}

func TestCallbackWithoutPendingSignIn(t *testing.T) {
	app := newTestApp(t, stubDeriver{}, nil)
	app.do(http.MethodGet, "/api/auth/state", nil) // picks up profile and CSRF cookies

	rr := app.do(http.MethodPost, "/api/auth/callback", map[string]string{
		"url": "https://x/#id_token=" + mintToken(t, "n", "a@b.c"),
	})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "session_expired", decodeBody[map[string]string](t, rr)["error"])
}

func TestCallbackRequiresCSRF(t *testing.T) {
	app := newTestApp(t, stubDeriver{}, nil)
	app.login(t)
	delete(app.cookies, cookie.CSRFCookie)

	rr := app.do(http.MethodPost, "/api/auth/callback", map[string]string{"url": "https://x/"})
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestChainEndpoints(t *testing.T) {
	app := newTestApp(t, stubDeriver{}, nil)

	rr := app.do(http.MethodGet, "/api/accounts/0xabc/balance?network=testnet", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	bal := decodeBody[balanceResponse](t, rr)
	assert.Equal(t, "testnet", bal.Network)
	assert.Equal(t, "150000000", bal.Octas)
	assert.Equal(t, "1.5000", bal.APT)

	rr = app.do(http.MethodGet, "/api/accounts/0xabc/exists", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	exists := decodeBody[existsResponse](t, rr)
	assert.True(t, exists.Exists)
	assert.Equal(t, "mainnet", exists.Network)

	rr = app.do(http.MethodGet, "/api/accounts/0xdef/exists", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, decodeBody[existsResponse](t, rr).Exists)

	assert.Equal(t, http.StatusBadRequest, app.do(http.MethodGet, "/api/accounts/not-hex/balance", nil).Code)
	assert.Equal(t, http.StatusBadRequest, app.do(http.MethodGet, "/api/accounts/0x1/balance?network=moon", nil).Code)

	rr = app.do(http.MethodGet, "/api/networks", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	nets := decodeBody[networksResponse](t, rr)
	assert.Equal(t, "mainnet", nets.Default)
	assert.Len(t, nets.Networks, 2)
}

func TestChatEndpoint(t *testing.T) {
	app := newTestApp(t, stubDeriver{}, stubGenerator{text: "Gas is paid in octas."})

	rr := app.do(http.MethodPost, "/api/ai/chat", map[string]any{"message": "What is gas?"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	reply := decodeBody[map[string]any](t, rr)
	assert.Equal(t, "Gas is paid in octas.", reply["response"])
	assert.NotEmpty(t, reply["id"])

	rr = app.do(http.MethodPost, "/api/ai/chat", map[string]any{"message": 42})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Message is required and must be a string", decodeBody[map[string]string](t, rr)["message"])

	rr = app.do(http.MethodPost, "/api/ai/chat", map[string]any{"message": "again"})
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))
	assert.Equal(t, "Rate limit exceeded", decodeBody[map[string]string](t, rr)["message"])
}

func TestChatLimitIgnoresSpoofedForwardingHeaders(t *testing.T) {
	app := newTestApp(t, stubDeriver{}, stubGenerator{text: "ok"})

	send := func(forwardedFor string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/ai/chat", strings.NewReader(`{"message":"hi"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", forwardedFor)
		req.Header.Set("X-Real-IP", forwardedFor)
		rr := httptest.NewRecorder()
		app.handler.ServeHTTP(rr, req)
		return rr.Code
	}

	assert.Equal(t, http.StatusOK, send("203.0.113.1"))
	assert.Equal(t, http.StatusOK, send("203.0.113.2"))
	assert.Equal(t, http.StatusTooManyRequests, send("203.0.113.3"))
}

func TestChatUnconfigured(t *testing.T) {
	app := newTestApp(t, stubDeriver{}, nil)

	rr := app.do(http.MethodPost, "/api/ai/chat", map[string]any{"message": "hi"})
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "AI service is not properly configured", decodeBody[map[string]string](t, rr)["message"])

	rr = app.do(http.MethodGet, "/api/ai/test", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"hasGeminiKey":false`)
	assert.NotContains(t, rr.Body.String(), "keyLength")
}
