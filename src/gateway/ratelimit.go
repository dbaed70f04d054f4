package gateway

import (
	"net"
	"net/http"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

// ipRateLimiter keeps one token bucket per source IP. Buckets for idle
// sources expire from the LRU so a churn of unique IPs cannot grow memory
// without bound.
type ipRateLimiter struct {
	limiters *expirable.LRU[string, *rate.Limiter]
	limit    rate.Limit
	burst    int
}

// newIPRateLimiter allows max requests per window from each source IP.
// Burst equals the full window allowance, so a quiet client may spend its
// budget all at once.
func newIPRateLimiter(window time.Duration, max int) *ipRateLimiter {
	return &ipRateLimiter{
		limiters: expirable.NewLRU[string, *rate.Limiter](1024, nil, 5*time.Minute),
		limit:    rate.Limit(float64(max) / window.Seconds()),
		burst:    max,
	}
}

func (rl *ipRateLimiter) allow(key string) bool {
	limiter, ok := rl.limiters.Get(key)
	if !ok {
		limiter = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters.Add(key, limiter)
	}
	return limiter.Allow()
}

// middleware rejects over-limit requests with 429 before any body reading
// or signature work happens.
func (rl *ipRateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(clientIP(r)) {
			writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP strips the port from RemoteAddr. middleware.RealIP has already
// substituted forwarded-for headers when present.
func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
