package httpapi

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// federationRateLimit and federationRateWindow bound inbound calls to
// /api/federation/* per caller. Federation traffic is peer-to-peer rather
// than end-user-driven, so the limit is generous compared to a typical
// per-user API tier but still caps a misbehaving or compromised peer.
const (
	federationRateLimit  = 600
	federationRateWindow = time.Minute
)

// bucket is one caller's request count for the current fixed window.
type bucket struct {
	count       int
	windowStart time.Time
}

// rateLimiter is a simple in-memory fixed-window limiter keyed by caller
// identity. The teacher's own rate limiter checks a shared DragonflyDB/Redis
// counter (internal/api/ratelimit.go); this package has no such external
// store available to it, so it keeps the same fixed-window check/response
// shape against a local map instead. That makes limits per-process rather
// than per-cluster, an acceptable tradeoff for a federation control-plane
// endpoint that isn't meant to be horizontally hot-scaled.
type rateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   int
	window  time.Duration
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		buckets: map[string]*bucket{},
		limit:   limit,
		window:  window,
	}
}

// allow reports whether key may proceed, along with the remaining quota in
// the current window.
func (rl *rateLimiter) allow(key string) (allowed bool, remaining int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	b, ok := rl.buckets[key]
	if !ok || now.Sub(b.windowStart) >= rl.window {
		b = &bucket{count: 0, windowStart: now}
		rl.buckets[key] = b
	}
	b.count++
	if b.count > rl.limit {
		return false, 0
	}
	return true, rl.limit - b.count
}

// federationRateLimit middleware enforces a per-caller rate limit on the
// federation export and admin endpoints, keyed by client IP (peers are
// identified only after auth, and the limiter needs to run before that to
// protect the auth path itself).
func federationRateLimitMiddleware() func(http.Handler) http.Handler {
	limiter := newRateLimiter(federationRateLimit, federationRateWindow)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientIP(r)
			allowed, remaining := limiter.allow(key)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(federationRateLimit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			if !allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(federationRateWindow.Seconds())))
				writeRateLimitResponse(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeRateLimitResponse(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	fmt.Fprintf(w, `{"error":"rate_limited","message":"too many requests, try again later"}`)
}

// clientIP strips the port from RemoteAddr, mirroring the teacher's own
// clientIP helper (internal/api/ratelimit.go): chi's RealIP middleware has
// already rewritten RemoteAddr from trusted proxy headers upstream, so no
// further header parsing happens here.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
