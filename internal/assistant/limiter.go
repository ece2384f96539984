package assistant

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter holds one token bucket per caller key.
type Limiter struct {
	limit  rate.Limit
	burst  int
	window time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewLimiter allows requests per window for each key, all available as a
// burst.
func NewLimiter(requests int, window time.Duration) *Limiter {
	return &Limiter{
		limit:    rate.Limit(float64(requests) / window.Seconds()),
		burst:    requests,
		window:   window,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *Limiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[key] = lim
	}
	return lim
}

// Allow consumes one token for key. When refused it returns how long until
// the next token is available.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	lim := l.get(key)
	if lim.Allow() {
		return true, 0
	}
	r := lim.Reserve()
	delay := r.Delay()
	r.Cancel()
	return false, delay
}

// Sweep drops buckets that have refilled completely. It matches
// storage.SweepFunc so it can run under a cleanup manager.
func (l *Limiter) Sweep(_ context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key, lim := range l.limiters {
		if lim.Tokens() >= float64(l.burst) {
			delete(l.limiters, key)
			removed++
		}
	}
	return removed, nil
}

// Window returns the accounting window, used for the sweep interval.
func (l *Limiter) Window() time.Duration { return l.window }
