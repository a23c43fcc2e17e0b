package webhook

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter bounds webhook traffic globally and per call id. A
// misbehaving gateway replaying one call cannot starve other calls,
// and a flood of distinct call ids is still capped by the global
// limiter.
type RateLimiter struct {
	globalLimiter  *rate.Limiter
	callerLimiters map[string]*rate.Limiter
	mu             sync.RWMutex

	perCallerPerSecond float64
	perCallerBurst     int
}

// NewRateLimiter creates a rate limiter. globalPerSecond and
// globalBurst cap total webhook throughput; perCallerPerSecond and
// perCallerBurst cap a single call id.
func NewRateLimiter(globalPerSecond float64, globalBurst int, perCallerPerSecond float64, perCallerBurst int) *RateLimiter {
	return &RateLimiter{
		globalLimiter:      rate.NewLimiter(rate.Limit(globalPerSecond), globalBurst),
		callerLimiters:     make(map[string]*rate.Limiter),
		perCallerPerSecond: perCallerPerSecond,
		perCallerBurst:     perCallerBurst,
	}
}

// Allow reports whether a webhook for callID may proceed.
func (rl *RateLimiter) Allow(callID string) bool {
	if !rl.globalLimiter.Allow() {
		return false
	}
	return rl.callerLimiter(callID).Allow()
}

// Forget drops the per-caller limiter state for a finished call.
func (rl *RateLimiter) Forget(callID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.callerLimiters, callID)
}

func (rl *RateLimiter) callerLimiter(callID string) *rate.Limiter {
	rl.mu.RLock()
	limiter, exists := rl.callerLimiters[callID]
	rl.mu.RUnlock()

	if exists {
		return limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists := rl.callerLimiters[callID]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(rate.Limit(rl.perCallerPerSecond), rl.perCallerBurst)
	rl.callerLimiters[callID] = limiter
	return limiter
}
