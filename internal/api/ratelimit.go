package api

import (
	"sync"
	"time"
)

// RateLimiter is a per-client-IP token bucket whose full allowance
// refills at the start of each window.
type RateLimiter struct {
	mu         sync.Mutex
	buckets    map[string]*tokenBucket
	maxTokens  int
	window     time.Duration
}

type tokenBucket struct {
	tokens   int
	lastFill time.Time
}

// NewRateLimiter builds a limiter admitting at most maxRequests per
// window, per client key.
func NewRateLimiter(maxRequests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		buckets:   make(map[string]*tokenBucket),
		maxTokens: maxRequests,
		window:    window,
	}
}

// Allow reports whether clientID may make another request now.
func (rl *RateLimiter) Allow(clientID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	bucket, ok := rl.buckets[clientID]
	if !ok {
		bucket = &tokenBucket{tokens: rl.maxTokens, lastFill: now}
		rl.buckets[clientID] = bucket
	}

	if now.Sub(bucket.lastFill) >= rl.window {
		bucket.tokens = rl.maxTokens
		bucket.lastFill = now
	}

	if bucket.tokens <= 0 {
		return false
	}
	bucket.tokens--
	return true
}
