package utils

import (
	"net/http"

	"golang.org/x/time/rate"
)

// RateLimiter wraps the rate.Limiter for HTTP rate limiting.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a new RateLimiter with specified rate and burst.
func NewRateLimiter(rateLimit rate.Limit, burst int) *RateLimiter {
	return &RateLimiter{
		limiter: rate.NewLimiter(rateLimit, burst),
	}
}

// Allow checks if a request is allowed under the rate limit.
func (rl *RateLimiter) Allow() bool {
	return rl.limiter.Allow()
}

// RateLimitMiddleware creates middleware for rate limiting. The burst
// is kept well above the steady rate so ingest spikes from batched
// pushers get absorbed instead of rejected.
func RateLimitMiddleware(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
