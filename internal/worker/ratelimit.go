package worker

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// PerClientRateLimiter implements per-client token bucket rate limiting.
type PerClientRateLimiter struct {
	lastCleanup     time.Time
	clients         map[string]*clientLimiter
	limit           rate.Limit
	burst           int
	cleanupInterval time.Duration
	maxIdleTime     time.Duration
	requests        int64
	rejected        int64
	mu              sync.Mutex
}

// NewPerClientRateLimiter creates a new per-client rate limiter.
// rps is the sustained requests per second, burst the bucket size.
func NewPerClientRateLimiter(rps float64, burst int) *PerClientRateLimiter {
	return &PerClientRateLimiter{
		limit:           rate.Limit(rps),
		burst:           burst,
		clients:         make(map[string]*clientLimiter),
		cleanupInterval: 5 * time.Minute,
		maxIdleTime:     10 * time.Minute,
		lastCleanup:     time.Now(),
	}
}

// Allow checks if a request from the given client should be allowed.
func (pcrl *PerClientRateLimiter) Allow(clientKey string) bool {
	pcrl.mu.Lock()
	defer pcrl.mu.Unlock()

	now := time.Now()
	if now.Sub(pcrl.lastCleanup) > pcrl.cleanupInterval {
		pcrl.cleanupLocked(now)
	}

	cl, exists := pcrl.clients[clientKey]
	if !exists {
		cl = &clientLimiter{limiter: rate.NewLimiter(pcrl.limit, pcrl.burst)}
		pcrl.clients[clientKey] = cl
	}
	cl.lastSeen = now

	pcrl.requests++
	if cl.limiter.AllowN(now, 1) {
		return true
	}
	pcrl.rejected++
	return false
}

// cleanupLocked removes idle limiters. Must be called with lock held.
func (pcrl *PerClientRateLimiter) cleanupLocked(now time.Time) {
	for key, cl := range pcrl.clients {
		if now.Sub(cl.lastSeen) > pcrl.maxIdleTime {
			delete(pcrl.clients, key)
		}
	}
	pcrl.lastCleanup = now
}

// Stats returns aggregate statistics.
func (pcrl *PerClientRateLimiter) Stats() map[string]any {
	pcrl.mu.Lock()
	defer pcrl.mu.Unlock()

	return map[string]any{
		"rate":           float64(pcrl.limit),
		"burst":          pcrl.burst,
		"active_clients": len(pcrl.clients),
		"total_requests": pcrl.requests,
		"total_rejected": pcrl.rejected,
	}
}

// PerClientRateLimitMiddleware creates middleware that applies per-client rate limiting.
// Clients are keyed by RemoteAddr, which chi's RealIP middleware rewrites from proxy headers.
func PerClientRateLimitMiddleware(limiter *PerClientRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(r.RemoteAddr) {
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
