package telegram

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter spaces out read calls (resolve, history) to the Telegram API
// and holds them back while a flood wait is active. Sends are paced by the
// cloner itself.
type RateLimiter struct {
	limiter *rate.Limiter

	// calls are blocked until this moment after a FLOOD_WAIT
	floodWaitUntil time.Time
	now            func() time.Time
	mu             sync.Mutex
}

// NewRateLimiter creates a rate limiter.
// rps - requests per second, burst - allowed burst
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		now:     time.Now,
	}
}

// DefaultRateLimiter returns a limiter with conservative settings.
func DefaultRateLimiter() *RateLimiter {
	return NewRateLimiter(2.0, 1)
}

// Wait blocks until the next request is allowed.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if pause := r.Remaining(); pause > 0 {
		timer := time.NewTimer(pause)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return r.limiter.Wait(ctx)
}

// SetFloodWait blocks calls for d. A shorter wait never cuts an active one.
func (r *RateLimiter) SetFloodWait(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	until := r.now().Add(d)
	if until.After(r.floodWaitUntil) {
		r.floodWaitUntil = until
	}
}

// Remaining returns how long the current flood wait still lasts.
func (r *RateLimiter) Remaining() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d := r.floodWaitUntil.Sub(r.now()); d > 0 {
		return d
	}
	return 0
}
