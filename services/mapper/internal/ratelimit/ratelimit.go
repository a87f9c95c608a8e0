// Package ratelimit throttles inbound requests per client IP.
package ratelimit

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/example/anime-mapper/internal/platform/api"
	"github.com/example/anime-mapper/internal/platform/httpserver"
)

// idleTTL is how long an unused client bucket is kept.
const idleTTL = 10 * time.Minute

type client struct {
	lim  *rate.Limiter
	seen time.Time
}

// Limiter is a per-IP token bucket.
type Limiter struct {
	mu      sync.Mutex
	clients map[string]*client
	rate    rate.Limit
	burst   int
	now     func() time.Time
	sweptAt time.Time
}

// New creates a limiter allowing rps requests per second with the given
// burst. rps <= 0 disables limiting.
func New(rps float64, burst int) *Limiter {
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		clients: make(map[string]*client),
		rate:    rate.Limit(rps),
		burst:   burst,
		now:     time.Now,
	}
}

func (l *Limiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.sweptAt) > idleTTL {
		for k, c := range l.clients {
			if now.Sub(c.seen) > idleTTL {
				delete(l.clients, k)
			}
		}
		l.sweptAt = now
	}

	c, ok := l.clients[key]
	if !ok {
		c = &client{lim: rate.NewLimiter(l.rate, l.burst)}
		l.clients[key] = c
	}
	c.seen = now
	return c.lim.AllowN(now, 1)
}

// ClientIP is the host part of RemoteAddr. Forwarding headers are ignored
// here; middleware.RealIP runs first and owns proxy trust.
func ClientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// Middleware rejects requests over the limit with 429.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	if l.rate <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(ClientIP(r)) {
			w.Header().Set("Retry-After", "1")
			rid := httpserver.RequestIDFromContext(r.Context())
			api.RateLimited(w, "RATE_LIMITED", "Too many requests", rid, nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
