package abuse

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const defaultCacheSize = 1000

// RateLimiter enforces a minimum interval between messages per user.
// Each user gets a token bucket with burst 1 refilling once per window,
// so a denied call consumes nothing and a burst of rejected requests
// never postpones when the user becomes eligible again.
type RateLimiter struct {
	mu       sync.Mutex
	limiters *lru.LRU[int64, *rate.Limiter]
	window   time.Duration
}

func NewRateLimiter(window time.Duration, cacheSize int) *RateLimiter {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cache := lru.NewLRU[int64, *rate.Limiter](cacheSize, nil, 2*window)
	return &RateLimiter{
		limiters: cache,
		window:   window,
	}
}

// Allow reports whether the user may send a message at now.
func (r *RateLimiter) Allow(userID int64, now time.Time) bool {
	r.mu.Lock()
	limiter, ok := r.limiters.Get(userID)
	if !ok {
		limiter = rate.NewLimiter(rate.Every(r.window), 1)
		r.limiters.Add(userID, limiter)
	}
	r.mu.Unlock()

	return limiter.AllowN(now, 1)
}
