// ABOUTME: Per-IP in-memory rate limiter for the enqueue endpoint.
// ABOUTME: Uses golang.org/x/time/rate; idle entries are evicted in the background.
package api

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ipRateLimiter keeps one token bucket per client IP. Entries idle longer
// than evictTTL are dropped by a background sweeper, which runs until stop
// is called.
type ipRateLimiter struct {
	r        rate.Limit
	burst    int
	evictTTL time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket

	stopOnce sync.Once
	done     chan struct{}
}

// bucket pairs a limiter with its last-use time for eviction.
type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIPRateLimiter(r rate.Limit, burst int, evictTTL time.Duration) *ipRateLimiter {
	rl := &ipRateLimiter{
		r:        r,
		burst:    burst,
		evictTTL: evictTTL,
		buckets:  make(map[string]*bucket),
		done:     make(chan struct{}),
	}
	go rl.sweep()
	return rl
}

// Allow reports whether the given IP is within its rate limit.
func (rl *ipRateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	b, ok := rl.buckets[ip]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.r, rl.burst)}
		rl.buckets[ip] = b
	}
	b.lastSeen = time.Now()
	return b.limiter.Allow()
}

// stop terminates the background sweeper. Safe to call more than once.
func (rl *ipRateLimiter) stop() {
	rl.stopOnce.Do(func() { close(rl.done) })
}

// sweep drops buckets not seen within evictTTL until stop is called.
func (rl *ipRateLimiter) sweep() {
	ticker := time.NewTicker(rl.evictTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-rl.evictTTL)
			rl.mu.Lock()
			for ip, b := range rl.buckets {
				if b.lastSeen.Before(cutoff) {
					delete(rl.buckets, ip)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// enqueueRateLimit returns a middleware that applies per-IP rate limiting to
// write requests (POST); reads pass through. The IP is taken from
// r.RemoteAddr — chi's RealIP middleware must run first so X-Forwarded-For
// is honoured behind a reverse proxy.
func (srv *Server) enqueueRateLimit() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			ip := r.RemoteAddr
			if host, _, err := net.SplitHostPort(ip); err == nil {
				ip = host
			}
			if !srv.rateLimiter.Allow(ip) {
				w.Header().Set("Retry-After", "60")
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
