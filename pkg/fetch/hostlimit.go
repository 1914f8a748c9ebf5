package fetch

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

type hostSlot struct {
	sem      *semaphore.Weighted
	users    int64     // holders plus waiters
	lastUsed time.Time // zero until the first release
}

// HostLimiter caps the number of page fetches in flight against one host.
// The politeness delay spaces request starts; this bounds overlap when responses are slow.
type HostLimiter struct {
	mu    sync.Mutex
	slots map[string]*hostSlot
	limit int64
	log   *logrus.Entry
}

// NewHostLimiter returns nil when maxPerHost <= 0; a nil limiter never blocks.
func NewHostLimiter(maxPerHost int, log *logrus.Entry) *HostLimiter {
	if maxPerHost <= 0 {
		return nil
	}
	return &HostLimiter{
		slots: make(map[string]*hostSlot),
		limit: int64(maxPerHost),
		log:   log,
	}
}

// Acquire blocks until host has a free slot or ctx ends. The returned func releases the slot.
func (l *HostLimiter) Acquire(ctx context.Context, host string) (release func(), err error) {
	if l == nil {
		return func() {}, nil
	}

	l.mu.Lock()
	slot, ok := l.slots[host]
	if !ok {
		slot = &hostSlot{sem: semaphore.NewWeighted(l.limit)}
		l.slots[host] = slot
		l.log.WithFields(logrus.Fields{"host": host, "limit": l.limit}).Debug("Tracking new host")
	}
	slot.users++
	l.mu.Unlock()

	if err := slot.sem.Acquire(ctx, 1); err != nil {
		l.mu.Lock()
		slot.users--
		l.mu.Unlock()
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			slot.users--
			slot.lastUsed = time.Now()
			l.mu.Unlock()
			slot.sem.Release(1)
		})
	}, nil
}

// RunEviction drops hosts idle for longer than interval until ctx is done.
func (l *HostLimiter) RunEviction(ctx context.Context, interval time.Duration) {
	if l == nil {
		return
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.evictIdle(interval)
		case <-ctx.Done():
			return
		}
	}
}

func (l *HostLimiter) evictIdle(maxIdle time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	evicted := 0
	for host, slot := range l.slots {
		if slot.users == 0 && !slot.lastUsed.IsZero() && now.Sub(slot.lastUsed) >= maxIdle {
			delete(l.slots, host)
			evicted++
		}
	}
	if evicted > 0 {
		l.log.Debugf("Evicted %d idle hosts, %d remain", evicted, len(l.slots))
	}
}

// Hosts returns the number of hosts currently tracked
func (l *HostLimiter) Hosts() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
