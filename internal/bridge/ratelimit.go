package bridge

import (
	"sync"
	"time"
)

// RateLimiter enforces a minimum gap between sends per chat.
type RateLimiter struct {
	interval time.Duration

	mu       sync.Mutex
	lastSend map[string]time.Time
}

// NewRateLimiter builds a limiter from a messages-per-second budget.
// Non-positive budgets disable limiting.
func NewRateLimiter(perSecond float64) *RateLimiter {
	var interval time.Duration
	if perSecond > 0 {
		interval = time.Duration(float64(time.Second) / perSecond)
	}
	return &RateLimiter{interval: interval, lastSend: make(map[string]time.Time)}
}

// Acquire reserves a send slot for the chat and returns how long the caller
// must wait before using it.
func (r *RateLimiter) Acquire(chatID string) time.Duration {
	if r.interval == 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	earliest := r.lastSend[chatID].Add(r.interval)
	if earliest.Before(now) {
		earliest = now
	}
	r.lastSend[chatID] = earliest
	return earliest.Sub(now)
}

// WaitAndAcquire sleeps out the reservation.
func (r *RateLimiter) WaitAndAcquire(chatID string) {
	if wait := r.Acquire(chatID); wait > 0 {
		time.Sleep(wait)
	}
}
