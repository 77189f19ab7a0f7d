package auth

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/trustgate/trustgate/pkg/api"
)

// ActorRateLimiter enforces per-principal rate limits. Requests without a
// principal fall back to the remote address.
type ActorRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewActorRateLimiter allows rps requests per second per actor with the
// given burst.
func NewActorRateLimiter(rps int, burst int) *ActorRateLimiter {
	return &ActorRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (rl *ActorRateLimiter) limiterFor(actor string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	limiter, ok := rl.limiters[actor]
	if !ok {
		limiter = rate.NewLimiter(rl.rps, rl.burst)
		rl.limiters[actor] = limiter
	}
	return limiter
}

// Middleware returns a handler that enforces the per-actor limit. It must
// run after Authenticate so the principal is available.
func (rl *ActorRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := r.RemoteAddr
		if principal, err := GetPrincipal(r.Context()); err == nil {
			actor = principal.Subject
		}

		if !rl.limiterFor(actor).Allow() {
			retryAfter := 1
			if rl.rps > 0 && rl.rps < 1 {
				retryAfter = int(1 / float64(rl.rps))
			}
			api.WriteTooManyRequests(w, retryAfter)
			return
		}

		next.ServeHTTP(w, r)
	})
}
