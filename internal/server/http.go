package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	jsonwriter "github.com/aptospilot/aptospilot/internal/json"
	"github.com/aptospilot/aptospilot/internal/log"
)

// HTTPServer owns the listener. Write timeouts are left unset because the
// MCP transport holds streaming responses open.
type HTTPServer struct {
	server *http.Server
}

func NewHTTPServer(handler http.Handler, addr string) *HTTPServer {
	return &HTTPServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       2 * time.Minute,
		},
	}
}

// HealthHandler reports liveness.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	_ = jsonwriter.Write(w, map[string]string{"status": "ok"})
}

// Start blocks serving until Stop is called.
func (h *HTTPServer) Start() error {
	log.LogInfoWithFields("http", "HTTP server starting", map[string]any{
		"addr": h.server.Addr,
	})
	err := h.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop drains in-flight requests until ctx expires.
func (h *HTTPServer) Stop(ctx context.Context) error {
	log.LogInfoWithFields("http", "HTTP server stopping", map[string]any{
		"addr": h.server.Addr,
	})
	if err := h.server.Shutdown(ctx); err != nil {
		return err
	}
	log.LogInfoWithFields("http", "HTTP server stopped", nil)
	return nil
}
