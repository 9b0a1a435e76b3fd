package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter throttles requests per client address.
type RateLimiter struct {
	limit rate.Limit
	burst int
	ttl   time.Duration
	now   func() time.Time

	limiters sync.Map // client -> *cachedLimiter
}

// RateLimiterOption configures a RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithLimit sets the sustained rate and burst. rate.Inf disables limiting.
func WithLimit(limit rate.Limit, burst int) RateLimiterOption {
	return func(rl *RateLimiter) {
		rl.limit = limit
		rl.burst = burst
	}
}

// WithTTL sets how long an idle client's limiter is kept.
func WithTTL(ttl time.Duration) RateLimiterOption {
	return func(rl *RateLimiter) {
		rl.ttl = ttl
	}
}

// NewRateLimiter creates a RateLimiter, by default 20 requests per second with a burst of 40.
func NewRateLimiter(opts ...RateLimiterOption) *RateLimiter {
	rl := &RateLimiter{
		limit: 20,
		burst: 40,
		ttl:   5 * time.Minute,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(rl)
	}
	if rl.burst <= 0 {
		rl.burst = 1
	}
	return rl
}

type cachedLimiter struct {
	limiter   *rate.Limiter
	expiresAt time.Time
}

func (rl *RateLimiter) limiterFor(client string) *rate.Limiter {
	now := rl.now()
	if v, ok := rl.limiters.Load(client); ok {
		cached := v.(*cachedLimiter)
		if now.Before(cached.expiresAt) {
			return cached.limiter
		}
		// expired, need to create new
	}

	limiter := rate.NewLimiter(rl.limit, rl.burst)
	rl.limiters.Store(client, &cachedLimiter{
		limiter:   limiter,
		expiresAt: now.Add(rl.ttl),
	})
	return limiter
}

// Middleware returns the HTTP middleware.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rl.limit != rate.Inf && !rl.limiterFor(clientKey(r)).Allow() {
				w.Header().Set("Retry-After", "1")
				writeError(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
