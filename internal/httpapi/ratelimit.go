package httpapi

import (
	"net"
	"net/http"
	"sync"
	"time"
)

const (
	bucketIdleTTL  = 10 * time.Minute
	sweepThreshold = 1024
)

type RateLimitConfig struct {
	IPPerMinute int
	IPBurst     int
}

// RateLimiter is a per-client token bucket. The client address comes from
// RemoteAddr, which middleware.RealIP has already resolved from proxy headers.
type RateLimiter struct {
	mu      sync.Mutex
	rate    float64
	burst   float64
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	tokens float64
	seen   time.Time
}

func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	perMinute, burst := cfg.IPPerMinute, cfg.IPBurst
	if perMinute <= 0 {
		perMinute = 120
	}
	if burst <= 0 {
		burst = 30
	}
	return &RateLimiter{
		rate:    float64(perMinute) / 60.0,
		burst:   float64(burst),
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if client := remoteHost(r); client != "" && !l.allow(client) {
			w.Header().Set("Retry-After", "1")
			writeError(w, r, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) allow(client string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if len(l.buckets) >= sweepThreshold {
		l.sweep(now)
	}
	b, ok := l.buckets[client]
	if !ok {
		l.buckets[client] = &bucket{tokens: l.burst - 1, seen: now}
		return true
	}
	b.tokens = min(l.burst, b.tokens+now.Sub(b.seen).Seconds()*l.rate)
	b.seen = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// sweep drops buckets idle long enough to have refilled completely.
func (l *RateLimiter) sweep(now time.Time) {
	for client, b := range l.buckets {
		if now.Sub(b.seen) > bucketIdleTTL {
			delete(l.buckets, client)
		}
	}
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
