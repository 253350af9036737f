package chat

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter is a per-user token bucket. The key is the user ID only, so
// clients cannot bypass throttling by rotating tab session IDs.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	idle    time.Duration
	done    chan struct{}
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows perMinute sends per user with a burst of the same
// size, and starts the background eviction goroutine. perMinute <= 0
// disables limiting.
func NewRateLimiter(perMinute int) *RateLimiter {
	rl := &RateLimiter{
		buckets: make(map[string]*bucket),
		idle:    10 * time.Minute,
		done:    make(chan struct{}),
	}
	if perMinute <= 0 {
		rl.limit = rate.Inf
		rl.burst = 0
	} else {
		rl.limit = rate.Every(time.Minute / time.Duration(perMinute))
		rl.burst = perMinute
	}
	go rl.evictLoop()
	return rl
}

// Allow reports whether key may send now.
func (r *RateLimiter) Allow(key string) bool {
	if r.limit == rate.Inf {
		return true
	}

	r.mu.Lock()
	b, ok := r.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.buckets[key] = b
	}
	b.lastSeen = time.Now()
	r.mu.Unlock()

	return b.limiter.Allow()
}

// Close stops the eviction goroutine.
func (r *RateLimiter) Close() {
	close(r.done)
}

// evictLoop drops buckets unused for longer than the idle window so the map
// does not grow without bound.
func (r *RateLimiter) evictLoop() {
	ticker := time.NewTicker(r.idle)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-r.idle)
			r.mu.Lock()
			for key, b := range r.buckets {
				if b.lastSeen.Before(cutoff) {
					delete(r.buckets, key)
				}
			}
			r.mu.Unlock()
		}
	}
}
