package assistant

import (
	"context"
	"crypto/rand"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/aptospilot/aptospilot/internal/log"
	"github.com/oklog/ulid/v2"
)

const (
	systemPrompt     = "You are an expert AI assistant specializing in the Aptos blockchain ecosystem. Answer the following user question as an Aptos expert:\n\n"
	noResponse       = "No response from Gemini."
	defaultMaxLength = 1000
)

var (
	// ErrNotConfigured means no API key was supplied.
	ErrNotConfigured = errors.New("assistant: no API key configured")
	// ErrEmptyMessage means the message was empty after trimming.
	ErrEmptyMessage = errors.New("assistant: empty message")
)

// Reply is one chat response.
type Reply struct {
	ID        string    `json:"id"`
	Response  string    `json:"response"`
	Timestamp time.Time `json:"timestamp"`
}

// Service answers Aptos questions through a Generator.
type Service struct {
	gen       Generator
	maxLength int
	now       func() time.Time

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// NewService creates a chat service. A nil gen leaves the service
// unconfigured; every Chat call then returns ErrNotConfigured.
func NewService(gen Generator, maxLength int) *Service {
	if maxLength <= 0 {
		maxLength = defaultMaxLength
	}
	return &Service{
		gen:       gen,
		maxLength: maxLength,
		now:       time.Now,
		entropy:   ulid.Monotonic(rand.Reader, 0),
	}
}

// Configured reports whether a model backend is available.
func (s *Service) Configured() bool { return s.gen != nil }

// Chat trims and caps message, wraps it in the expert prompt and returns
// the model's answer.
func (s *Service) Chat(ctx context.Context, message string) (*Reply, error) {
	msg := truncate(strings.TrimSpace(message), s.maxLength)
	if msg == "" {
		return nil, ErrEmptyMessage
	}
	if s.gen == nil {
		log.LogErrorCtx(ctx, "assistant", "Chat requested without an API key", nil)
		return nil, ErrNotConfigured
	}

	text, err := s.gen.Generate(ctx, systemPrompt+msg)
	if err != nil {
		log.LogErrorCtx(ctx, "assistant", "Generation failed", map[string]any{"error": err.Error()})
		return nil, err
	}
	if text == "" {
		text = noResponse
	}

	now := s.now().UTC()
	return &Reply{ID: s.newID(now), Response: text, Timestamp: now}, nil
}

func (s *Service) newID(t time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), s.entropy).String()
}

// truncate caps s at n runes.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
