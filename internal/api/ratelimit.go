package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hackgods/healthbook-scheduling/internal/authz"
)

const (
	limiterIdle = 3 * time.Minute
	sweepEvery  = time.Minute
)

type client struct {
	lim  *rate.Limiter
	seen time.Time
}

// RateLimiter keeps one token bucket per caller. Idle buckets are dropped
// lazily on the next lookup after sweepEvery.
type RateLimiter struct {
	mu        sync.Mutex
	clients   map[string]*client
	r         rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time
}

func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		clients:   make(map[string]*client),
		r:         rate.Limit(rps),
		burst:     burst,
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

func (rl *RateLimiter) get(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) > sweepEvery {
		for k, c := range rl.clients {
			if now.Sub(c.seen) > limiterIdle {
				delete(rl.clients, k)
			}
		}
		rl.lastSweep = now
	}

	if c, ok := rl.clients[key]; ok {
		c.seen = now
		return c.lim
	}
	l := rate.NewLimiter(rl.r, rl.burst)
	rl.clients[key] = &client{lim: l, seen: now}
	return l
}

// limitKey picks the bucket for a request. Linked actors share one bucket per
// patient or provider. Admin tokens carry no link, so each admin token gets
// its own bucket. Unauthenticated requests are keyed by remote address.
func limitKey(r *http.Request) string {
	actor := ActorFromContext(r.Context())
	switch {
	case actor.Role == "":
		return "ip:" + clientIP(r)
	case actor.Role == authz.RoleAdmin:
		if jti := TokenIDFromContext(r.Context()); jti != "" {
			return "token:" + jti
		}
	}
	return "actor:" + actor.String()
}

// Middleware rejects callers over their budget with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lim := rl.get(limitKey(r))
		if !lim.Allow() {
			retry := 1
			if rl.r > 0 {
				retry = int(1/float64(rl.r)) + 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
