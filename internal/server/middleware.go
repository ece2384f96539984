package server

import (
	"net/http"
	"net/netip"
	"strings"
	"time"

	jsonwriter "github.com/aptospilot/aptospilot/internal/json"
	"github.com/aptospilot/aptospilot/internal/log"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// MiddlewareFunc wraps an http.Handler.
type MiddlewareFunc func(http.Handler) http.Handler

var corsAllowHeaders = strings.Join([]string{
	"Content-Type",
	"Authorization",
	CSRFHeader,
	"mcp-protocol-version",
	"mcp-session-id",
}, ", ")

// NewCORSMiddleware lets the listed dashboard origins call the API with
// credentials. With no origins configured any origin may call it, without
// credentials.
func NewCORSMiddleware(allowedOrigins []string) MiddlewareFunc {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			origin := r.Header.Get("Origin")
			if _, ok := allowed[origin]; ok && origin != "" {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Add("Vary", "Origin")
			} else if len(allowed) == 0 {
				h.Set("Access-Control-Allow-Origin", "*")
			}
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
			h.Set("Access-Control-Max-Age", "3600")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// NewLoggerMiddleware logs one line per request with status, size and
// latency.
func NewLoggerMiddleware(component string) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := map[string]any{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      status,
				"duration_ms": time.Since(start).Milliseconds(),
				"bytes":       ww.BytesWritten(),
				"remote_addr": r.RemoteAddr,
			}
			if id := chimiddleware.GetReqID(r.Context()); id != "" {
				fields["request_id"] = id
			}
			// Queries carry addresses and network names; tokens travel in
			// fragments or POST bodies.
			if r.URL.RawQuery != "" {
				fields["query"] = r.URL.RawQuery
			}
			log.LogInfoCtx(r.Context(), component, "request", fields)
		})
	}
}

// NewRecoverMiddleware turns a handler panic into a JSON 500.
func NewRecoverMiddleware(component string) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					log.LogErrorCtx(r.Context(), component, "Recovered from panic", map[string]any{
						"panic": rec,
						"path":  r.URL.Path,
					})
					jsonwriter.WriteInternalServerError(w, "Internal Server Error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// NewTrustedRealIPMiddleware honours X-Forwarded-For and X-Real-IP only when
// the socket peer falls inside one of trusted. Other requests keep their
// RemoteAddr, so spoofed headers cannot pick the client identity.
func NewTrustedRealIPMiddleware(trusted []netip.Prefix) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		realIP := chimiddleware.RealIP(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if peerTrusted(r.RemoteAddr, trusted) {
				realIP.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func peerTrusted(remoteAddr string, trusted []netip.Prefix) bool {
	if len(trusted) == 0 {
		return false
	}
	ap, err := netip.ParseAddrPort(remoteAddr)
	if err != nil {
		return false
	}
	addr := ap.Addr().Unmap()
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
