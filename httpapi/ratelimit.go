package httpapi

import (
	"net/http"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// ipLimiter keeps one token bucket per client IP. The LRU bounds memory
// under address spraying; an evicted IP simply starts with a full bucket.
type ipLimiter struct {
	mu       sync.Mutex
	limiters *lru.Cache[string, *rate.Limiter]
	limit    rate.Limit
	burst    int
}

// newIPLimiter returns nil when perMinute is 0, which disables limiting.
func newIPLimiter(perMinute, burst, size int) (*ipLimiter, error) {
	if perMinute <= 0 {
		return nil, nil
	}
	cache, err := lru.New[string, *rate.Limiter](size)
	if err != nil {
		return nil, err
	}
	return &ipLimiter{
		limiters: cache,
		limit:    rate.Limit(float64(perMinute) / 60.0),
		burst:    burst,
	}, nil
}

func (l *ipLimiter) limiter(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters.Get(ip); ok {
		return lim
	}
	lim := rate.NewLimiter(l.limit, l.burst)
	l.limiters.Add(ip, lim)
	return lim
}

func (l *ipLimiter) allow(ip string) bool {
	return l.limiter(ip).Allow()
}

// retryAfter is the wait until one token is available again.
func (l *ipLimiter) retryAfter() time.Duration {
	if l.limit <= 0 {
		return time.Minute
	}
	return time.Duration(float64(time.Second) / float64(l.limit))
}

func (l *ipLimiter) middleware(next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(clientIP(r)) {
			setRetryAfter(w, l.retryAfter())
			writeJSON(w, http.StatusTooManyRequests, errorBody{
				Error:   "rate_limited",
				Message: "too many requests, slow down",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
