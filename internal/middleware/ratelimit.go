package middleware

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/kubilitics/kubilitics-intel/internal/metrics"
)

const (
	sweepInterval = 5 * time.Minute
	idleAfter     = 10 * time.Minute
)

// RateLimiter is a per-client token bucket refilled once a minute.
type RateLimiter struct {
	mu             sync.Mutex
	clients        map[string]*bucket
	requestsPerMin int
	now            func() time.Time
}

type bucket struct {
	tokens     int
	lastRefill time.Time
	lastSeen   time.Time
}

// NewRateLimiter allows requestsPerMin requests per client per minute.
// Idle clients are only evicted while Run is active.
func NewRateLimiter(requestsPerMin int) *RateLimiter {
	return &RateLimiter{
		clients:        make(map[string]*bucket),
		requestsPerMin: requestsPerMin,
		now:            time.Now,
	}
}

// Middleware rejects over-limit clients with 429 and a Retry-After hint.
func (rl *RateLimiter) Middleware() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.Allow(clientKey(r)) {
				metrics.RateLimited.Inc()
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.Itoa(int(rl.retryAfter().Seconds())))
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Allow spends one token for client and reports whether one was available.
func (rl *RateLimiter) Allow(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.clients[client]
	if !ok {
		rl.clients[client] = &bucket{tokens: rl.requestsPerMin - 1, lastRefill: now, lastSeen: now}
		return rl.requestsPerMin > 0
	}
	b.lastSeen = now

	refill := int(now.Sub(b.lastRefill).Minutes() * float64(rl.requestsPerMin))
	if refill > 0 {
		b.tokens = min(rl.requestsPerMin, b.tokens+refill)
		b.lastRefill = now
	}
	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

// Run evicts idle clients until ctx is done.
func (rl *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.sweep()
		}
	}
}

func (rl *RateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	for client, b := range rl.clients {
		if now.Sub(b.lastSeen) > idleAfter {
			delete(rl.clients, client)
		}
	}
}

// Clients returns the number of tracked clients.
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

func (rl *RateLimiter) retryAfter() time.Duration {
	if rl.requestsPerMin <= 0 {
		return time.Minute
	}
	d := time.Minute / time.Duration(rl.requestsPerMin)
	if d < time.Second {
		d = time.Second
	}
	return d
}

// clientKey is the remote host without its port, so one client's
// connections share a bucket.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
