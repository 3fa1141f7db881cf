package httpserver

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type ipEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// IPRateLimiter throttles requests per client IP with a token bucket.
type IPRateLimiter struct {
	rps   rate.Limit
	burst int
	ttl   time.Duration

	mu      sync.Mutex
	entries map[string]*ipEntry

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewIPRateLimiter starts a limiter that forgets idle clients after ttl.
func NewIPRateLimiter(rps float64, burst int, ttl time.Duration) *IPRateLimiter {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	rl := &IPRateLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		ttl:     ttl,
		entries: make(map[string]*ipEntry),
		stopCh:  make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Stop ends the background cleanup.
func (rl *IPRateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// Allow reports whether ip may make another request now.
func (rl *IPRateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	e, ok := rl.entries[ip]
	if !ok {
		e = &ipEntry{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.entries[ip] = e
	}
	e.lastAccess = time.Now()
	rl.mu.Unlock()
	return e.limiter.Allow()
}

// Len returns the number of tracked clients.
func (rl *IPRateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.entries)
}

// Middleware rejects over-limit clients with 429.
func (rl *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientIP(r)) {
			retry := 1
			if rl.rps > 0 {
				retry = int(1/float64(rl.rps)) + 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *IPRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.cleanup(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *IPRateLimiter) cleanup(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, e := range rl.entries {
		if now.Sub(e.lastAccess) > rl.ttl {
			delete(rl.entries, ip)
		}
	}
}

// clientIP is RemoteAddr without the port; chi's RealIP has already applied
// X-Forwarded-For / X-Real-IP.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
