package middleware

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"
)

// maxTrackedClients caps the bucket map so address churn (or a spoofed
// X-Forwarded-For stream) cannot grow it without bound.
const maxTrackedClients = 10000

type bucket struct {
	remaining int
	windowAt  time.Time
}

// RateLimiter is a fixed-window counter per client IP.
type RateLimiter struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	rate       int
	window     time.Duration
	trustProxy bool

	stopCh    chan struct{}
	done      sync.WaitGroup
	closeOnce sync.Once
}

// NewRateLimiter allows rate requests per window per client IP. trustProxy
// controls whether X-Forwarded-For and X-Real-IP are honored.
func NewRateLimiter(rate int, window time.Duration, trustProxy bool) *RateLimiter {
	rl := &RateLimiter{
		buckets:    make(map[string]*bucket),
		rate:       rate,
		window:     window,
		trustProxy: trustProxy,
		stopCh:     make(chan struct{}),
	}

	rl.done.Add(1)
	go rl.reap()

	return rl
}

// Allow reports whether a request from ip fits in its current window.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()

	b := rl.buckets[ip]
	if b == nil {
		if len(rl.buckets) >= maxTrackedClients {
			rl.evictStalest()
		}
		rl.buckets[ip] = &bucket{remaining: rl.rate - 1, windowAt: now}
		return true
	}

	if now.Sub(b.windowAt) >= rl.window {
		b.remaining = rl.rate - 1
		b.windowAt = now
		return true
	}

	if b.remaining > 0 {
		b.remaining--
		return true
	}
	return false
}

// reap drops buckets idle for two full windows.
func (rl *RateLimiter) reap() {
	defer rl.done.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
		}

		cutoff := time.Now().Add(-2 * rl.window)
		rl.mu.Lock()
		for ip, b := range rl.buckets {
			if b.windowAt.Before(cutoff) {
				delete(rl.buckets, ip)
			}
		}
		rl.mu.Unlock()
	}
}

// evictStalest frees one slot when the map is full. Caller holds rl.mu.
func (rl *RateLimiter) evictStalest() {
	var victim string
	var oldest time.Time
	for ip, b := range rl.buckets {
		if victim == "" || b.windowAt.Before(oldest) {
			victim, oldest = ip, b.windowAt
		}
	}
	delete(rl.buckets, victim)
}

// Close stops the reaper. Idempotent.
func (rl *RateLimiter) Close() {
	rl.closeOnce.Do(func() {
		close(rl.stopCh)
		rl.done.Wait()
	})
}

// RateLimiterMiddleware pairs a RateLimiter with its handler wrapper so the
// reaper goroutine can be stopped on shutdown. Create one per server; separate
// instances keep separate counters.
type RateLimiterMiddleware struct {
	limiter *RateLimiter
	handler func(http.Handler) http.Handler
}

// NewRateLimitMiddleware builds the per-IP limit middleware. Call Close()
// during shutdown.
func NewRateLimitMiddleware(requestsPerMinute int, trustProxy bool) *RateLimiterMiddleware {
	limiter := NewRateLimiter(requestsPerMinute, time.Minute, trustProxy)

	m := &RateLimiterMiddleware{limiter: limiter}
	m.handler = func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			if !limiter.Allow(getClientIP(r, limiter.trustProxy)) {
				w.Header().Set("Retry-After", "60")
				writeErrorResponse(w, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.", start)
				return
			}

			next.ServeHTTP(w, r)
		})
	}

	return m
}

// Close stops the limiter's reaper goroutine.
func (m *RateLimiterMiddleware) Close() {
	m.limiter.Close()
}

// Handler returns the middleware wrapper.
func (m *RateLimiterMiddleware) Handler() func(http.Handler) http.Handler {
	return m.handler
}

// normalizeIP canonicalizes an address so IPv6 notation variants and
// IPv4-mapped IPv6 forms of the same client share one bucket.
func normalizeIP(s string) string {
	s = strings.TrimSpace(s)
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return s
	}
	return addr.Unmap().String()
}

// getClientIP resolves the client address for bucketing. Proxy headers are
// only honored when trustProxy is set; otherwise a client could spoof
// X-Forwarded-For to dodge the limiter.
func getClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			// Leftmost entry is the original client.
			first, _, _ := strings.Cut(xff, ",")
			if ip := normalizeIP(first); ip != "" {
				return ip
			}
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			if ip := normalizeIP(xri); ip != "" {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return normalizeIP(r.RemoteAddr)
	}
	return normalizeIP(host)
}
