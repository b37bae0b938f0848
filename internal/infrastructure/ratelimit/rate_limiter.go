package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	ActionSendMessage = "send_message"
	ActionOpenThread  = "open_thread"
)

// Policy is the budget of one action: Burst events at once, refilled at
// Limit events per second.
type Policy struct {
	Limit rate.Limit
	Burst int
}

// PerMinute spreads n events over a minute, allowing all n in a burst.
func PerMinute(n int) Policy {
	return Policy{Limit: rate.Limit(float64(n) / 60), Burst: n}
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per user and action.
type RateLimiter struct {
	policies map[string]Policy
	fallback Policy
	buckets  map[string]*bucket
	mutex    sync.Mutex
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

func NewRateLimiter(policies map[string]Policy) *RateLimiter {
	p := make(map[string]Policy, len(policies))
	for action, policy := range policies {
		p[action] = policy
	}
	return &RateLimiter{
		policies: p,
		fallback: PerMinute(20),
		buckets:  make(map[string]*bucket),
		now:      time.Now,
		stop:     make(chan struct{}),
	}
}

// Allow consumes a token for the user's action. When the bucket is empty it
// reports how long until the next token.
func (rl *RateLimiter) Allow(userID, action string) (bool, time.Duration) {
	key := userID + ":" + action
	now := rl.now()

	rl.mutex.Lock()
	b, exists := rl.buckets[key]
	if !exists {
		policy, ok := rl.policies[action]
		if !ok {
			policy = rl.fallback
		}
		b = &bucket{limiter: rate.NewLimiter(policy.Limit, policy.Burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	rl.mutex.Unlock()

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, 0
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Cleanup drops buckets idle for longer than maxIdle.
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	for key, b := range rl.buckets {
		if now.Sub(b.lastSeen) > maxIdle {
			delete(rl.buckets, key)
		}
	}
}

// StartCleanupRoutine runs Cleanup periodically until Stop is called.
func (rl *RateLimiter) StartCleanupRoutine() {
	go func() {
		ticker := time.NewTicker(30 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-rl.stop:
				return
			case <-ticker.C:
				rl.Cleanup(time.Hour)
			}
		}
	}()
}

func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}
