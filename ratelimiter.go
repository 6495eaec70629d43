package packetguard

import (
	"sync"
	"time"
)

// TokenBucketRateLimiter throttles per-key event rates with a token bucket.
// The notification registry uses it to keep repeated detections from
// flooding external channels.
type TokenBucketRateLimiter struct {
	mu         sync.RWMutex
	buckets    map[string]*tokenBucket
	capacity   int
	refillRate time.Duration
}

type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// NewTokenBucketRateLimiter allows capacity events per refillRate per key.
func NewTokenBucketRateLimiter(capacity int, refillRate time.Duration) *TokenBucketRateLimiter {
	if capacity <= 0 {
		capacity = 1
	}
	if refillRate <= 0 {
		refillRate = time.Minute
	}
	return &TokenBucketRateLimiter{
		buckets:    make(map[string]*tokenBucket),
		capacity:   capacity,
		refillRate: refillRate,
	}
}

func (rl *TokenBucketRateLimiter) Allow(key string) (allowed bool, remaining int, reset time.Time, err error) {
	rl.mu.Lock()
	bucket, exists := rl.buckets[key]
	if !exists {
		bucket = &tokenBucket{
			tokens:     float64(rl.capacity),
			lastRefill: time.Now(),
		}
		rl.buckets[key] = bucket
	}
	rl.mu.Unlock()

	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(bucket.lastRefill)
	bucket.tokens += elapsed.Seconds() * float64(rl.capacity) / rl.refillRate.Seconds()
	if bucket.tokens > float64(rl.capacity) {
		bucket.tokens = float64(rl.capacity)
	}
	bucket.lastRefill = now

	if bucket.tokens >= 1 {
		bucket.tokens--
		return true, int(bucket.tokens), now.Add(rl.refillRate), nil
	}
	return false, 0, now.Add(rl.refillRate), nil
}

// HealthCheck reports whether the limiter is usable.
func (rl *TokenBucketRateLimiter) HealthCheck() error {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	_ = len(rl.buckets)
	return nil
}
