package fetch

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RateLimiter spaces out requests to the same host. Each caller reserves the next free slot
// for the host under the lock, so callers sharing one limiter never overlap within minDelay.
type RateLimiter struct {
	hostNextSlot   map[string]time.Time // host -> earliest time the next request may start
	hostNextSlotMu sync.Mutex
	defaultDelay   time.Duration
	log            *logrus.Entry
}

// NewRateLimiter creates a RateLimiter
func NewRateLimiter(defaultDelay time.Duration, log *logrus.Entry) *RateLimiter {
	return &RateLimiter{
		hostNextSlot: make(map[string]time.Time),
		defaultDelay: defaultDelay,
		log:          log,
	}
}

// ApplyDelay blocks until at least minDelay has passed since the previous request slot for host.
// Up to +10% jitter is added to desynchronize workers. Returns ctx.Err() if cancelled while waiting.
func (rl *RateLimiter) ApplyDelay(ctx context.Context, host string, minDelay time.Duration) error {
	if minDelay <= 0 {
		minDelay = rl.defaultDelay
	}

	now := time.Now()
	rl.hostNextSlotMu.Lock()
	start := now
	if next, exists := rl.hostNextSlot[host]; exists && next.After(now) {
		start = next
	}
	wait := start.Sub(now)
	if wait > 0 {
		if jitterRange := int64(wait) / 10; jitterRange > 0 {
			wait += time.Duration(rand.Int63n(jitterRange))
			start = now.Add(wait)
		}
	}
	if minDelay > 0 {
		rl.hostNextSlot[host] = start.Add(minDelay)
	}
	rl.hostNextSlotMu.Unlock()

	if wait <= 0 {
		return nil
	}

	rl.log.WithFields(logrus.Fields{
		"host": host, "sleep": wait, "required_delay": minDelay,
	}).Debug("Rate limit applying sleep")

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UpdateLastRequestTime pushes the host's next slot to at least defaultDelay after now.
// Call it after a request finishes so slow responses also count toward spacing.
func (rl *RateLimiter) UpdateLastRequestTime(host string) {
	next := time.Now().Add(rl.defaultDelay)
	rl.hostNextSlotMu.Lock()
	if next.After(rl.hostNextSlot[host]) {
		rl.hostNextSlot[host] = next
	}
	rl.hostNextSlotMu.Unlock()
}

// SyncHost carries src's next slot for host over to rl when it is later than rl's own.
func (rl *RateLimiter) SyncHost(host string, src *RateLimiter) {
	if src == nil || src == rl {
		return
	}
	src.hostNextSlotMu.Lock()
	next, ok := src.hostNextSlot[host]
	src.hostNextSlotMu.Unlock()
	if !ok {
		return
	}

	rl.hostNextSlotMu.Lock()
	if next.After(rl.hostNextSlot[host]) {
		rl.hostNextSlot[host] = next
	}
	rl.hostNextSlotMu.Unlock()
}
