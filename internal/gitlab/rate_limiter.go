package gitlab

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// RateLimiter paces requests against GitLab's rate limit. It only delays; it never retries.
type RateLimiter interface {
	Wait(ctx context.Context) error
	Observe(header http.Header)
}

// headerRateLimiter follows RateLimit-Remaining / RateLimit-Reset response headers.
type headerRateLimiter struct {
	mu        sync.Mutex
	remaining int
	resetTime time.Time
	minDelay  time.Duration
	lastCall  time.Time
	threshold int
	logger    zerolog.Logger
}

// NewRateLimiter creates a limiter enforcing minDelay between requests and
// pausing until the reset time when fewer than threshold requests remain.
func NewRateLimiter(minDelay time.Duration, threshold int, logger zerolog.Logger) RateLimiter {
	return &headerRateLimiter{
		remaining: -1,
		minDelay:  minDelay,
		threshold: threshold,
		logger:    logger.With().Str("component", "ratelimit").Logger(),
	}
}

// Wait blocks until it is safe to send another request.
func (r *headerRateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	var wait time.Duration
	if r.remaining >= 0 && r.remaining <= r.threshold {
		wait = time.Until(r.resetTime)
		if wait > 0 {
			r.logger.Info().Int("remaining", r.remaining).Dur("wait", wait.Round(time.Second)).Msg("rate limit low, waiting for reset")
		}
		r.remaining = -1
	}
	if elapsed := time.Since(r.lastCall); elapsed < r.minDelay && r.minDelay-elapsed > wait {
		wait = r.minDelay - elapsed
	}
	r.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	r.mu.Lock()
	r.lastCall = time.Now()
	r.mu.Unlock()
	return nil
}

// Observe updates the limit from API response headers.
func (r *headerRateLimiter) Observe(header http.Header) {
	remaining, err := strconv.Atoi(header.Get("RateLimit-Remaining"))
	if err != nil {
		return
	}
	reset, err := strconv.ParseInt(header.Get("RateLimit-Reset"), 10, 64)
	if err != nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.remaining = remaining
	r.resetTime = time.Unix(reset, 0)
}
