package server

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/aptospilot/aptospilot/internal/assistant"
	jsonwriter "github.com/aptospilot/aptospilot/internal/json"
	"github.com/aptospilot/aptospilot/internal/log"
)

const maxChatBody = 16 << 10

// AIHandlers proxy chat requests to the assistant.
type AIHandlers struct {
	assistant *assistant.Service
	limiter   *assistant.Limiter
	now       func() time.Time
}

func NewAIHandlers(svc *assistant.Service, limiter *assistant.Limiter) *AIHandlers {
	return &AIHandlers{assistant: svc, limiter: limiter, now: time.Now}
}

type aiStatusResponse struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Env       struct {
		HasGeminiKey bool `json:"hasGeminiKey"`
	} `json:"env"`
}

// clientIP keys the limiter. RemoteAddr reflects forwarding headers only
// when the peer is a trusted proxy.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ChatHandler answers one Aptos question.
func (h *AIHandlers) ChatHandler(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if ok, retry := h.limiter.Allow(ip); !ok {
		log.LogWarnCtx(r.Context(), "assistant", "Rate limit exceeded", map[string]any{"ip": ip})
		jsonwriter.WriteTooManyRequests(w, retry, "Rate limit exceeded")
		return
	}

	var body map[string]json.RawMessage
	if err := jsonwriter.Decode(r, maxChatBody, &body); err != nil {
		jsonwriter.WriteBadRequest(w, "Request body must be a JSON object")
		return
	}
	var message string
	if err := json.Unmarshal(body["message"], &message); err != nil || message == "" {
		jsonwriter.WriteError(w, http.StatusBadRequest, "invalid_message", "Message is required and must be a string")
		return
	}

	reply, err := h.assistant.Chat(r.Context(), message)
	switch {
	case err == nil:
		_ = jsonwriter.Write(w, reply)
	case errors.Is(err, assistant.ErrEmptyMessage):
		jsonwriter.WriteError(w, http.StatusBadRequest, "invalid_message", "Message is required and must be a string")
	case errors.Is(err, assistant.ErrNotConfigured):
		jsonwriter.WriteError(w, http.StatusInternalServerError, "ai_not_configured", "AI service is not properly configured")
	default:
		jsonwriter.WriteError(w, http.StatusInternalServerError, "ai_request_failed", "Failed to process AI request")
	}
}

// StatusHandler reports whether the assistant is configured. It never
// reveals anything about the key itself.
func (h *AIHandlers) StatusHandler(w http.ResponseWriter, r *http.Request) {
	resp := aiStatusResponse{Message: "AI API is working!", Timestamp: h.now().UTC()}
	resp.Env.HasGeminiKey = h.assistant.Configured()
	_ = jsonwriter.Write(w, resp)
}
