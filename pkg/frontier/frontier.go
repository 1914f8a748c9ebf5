package frontier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/ics-crawler/pkg/models"
	"github.com/Sriram-PR/ics-crawler/pkg/parse"
	"github.com/Sriram-PR/ics-crawler/pkg/queue"
	"github.com/Sriram-PR/ics-crawler/pkg/storage"
	"github.com/Sriram-PR/ics-crawler/pkg/utils"
)

// SeenRecorder is notified once for every distinct URL the frontier accepts
type SeenRecorder interface {
	RecordURLSeen() error
}

// Counts is a point-in-time view of the frontier's entry states
type Counts struct {
	Discovered int
	InProgress int
	Completed  int
}

// Frontier is the deduplicated, persistent work queue shared by all workers.
// Every state change is written through to the store before the call returns.
type Frontier struct {
	mu       sync.Mutex
	store    storage.EntryStore
	recorder SeenRecorder
	states   map[string]models.FrontierState // canonical URL -> state; the dedup authority
	pending  *queue.FIFO[string]             // Discovered entries in dequeue order
	counts   Counts
	log      *logrus.Entry
}

// New loads every persisted entry, returns entries left in progress by a previous run to the
// discovered state, and seeds the frontier when the store is empty.
func New(ctx context.Context, store storage.EntryStore, recorder SeenRecorder, seeds []string, log *logrus.Entry) (*Frontier, error) {
	f := &Frontier{
		store:    store,
		recorder: recorder,
		states:   make(map[string]models.FrontierState),
		pending:  queue.NewFIFO[string](len(seeds)),
		log:      log,
	}

	var recovered []string
	_, err := store.ScanEntries(ctx, func(entry models.FrontierEntry) error {
		switch entry.State {
		case models.StateCompleted:
			f.states[entry.URL] = models.StateCompleted
			f.counts.Completed++
		case models.StateInProgress:
			recovered = append(recovered, entry.URL)
		case models.StateDiscovered:
			f.enqueueLocked(entry.URL)
		default:
			log.WithFields(logrus.Fields{"url": entry.URL, "state": entry.State}).Warn("Unknown persisted state, treating as discovered")
			recovered = append(recovered, entry.URL)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: loading frontier: %w", utils.ErrPersistence, err)
	}

	for _, u := range recovered {
		if err := store.UpdateState(u, models.StateDiscovered); err != nil {
			return nil, fmt.Errorf("%w: recovering in-progress entry '%s': %w", utils.ErrPersistence, u, err)
		}
		f.enqueueLocked(u)
	}

	if len(f.states) > 0 {
		log.WithFields(logrus.Fields{
			"discovered": f.counts.Discovered,
			"completed":  f.counts.Completed,
			"recovered":  len(recovered),
		}).Info("Frontier resumed from persisted state")
		return f, nil
	}

	log.Infof("Frontier empty, adding %d seed URL(s)", len(seeds))
	for _, seed := range seeds {
		if _, err := f.AddURL(seed); err != nil {
			if errors.Is(err, utils.ErrPersistence) {
				return nil, err
			}
			log.WithField("url", seed).Warnf("Skipping seed: %v", err)
		}
	}
	return f, nil
}

// enqueueLocked records a discovered URL in memory; caller holds mu or has exclusive access.
func (f *Frontier) enqueueLocked(u string) {
	f.states[u] = models.StateDiscovered
	f.pending.Push(u)
	f.counts.Discovered++
}

// AddURL canonicalizes raw and, if the canonical URL has never been seen in any state,
// records it as discovered. Returns true only for a newly added URL.
func (f *Frontier) AddURL(raw string) (bool, error) {
	canonical, err := parse.Canonicalize(raw)
	if err != nil {
		return false, err
	}

	f.mu.Lock()
	if _, seen := f.states[canonical]; seen {
		f.mu.Unlock()
		return false, nil
	}
	now := time.Now().UTC()
	entry := &models.FrontierEntry{URL: canonical, State: models.StateDiscovered, DiscoveredAt: now, UpdatedAt: now}
	if _, err := f.store.PutIfAbsent(entry); err != nil {
		f.mu.Unlock()
		return false, fmt.Errorf("%w: adding '%s': %w", utils.ErrPersistence, canonical, err)
	}
	f.enqueueLocked(canonical)
	f.mu.Unlock()

	if f.recorder != nil {
		if err := f.recorder.RecordURLSeen(); err != nil {
			return true, err
		}
	}
	return true, nil
}

// GetNextURL claims the next discovered URL and marks it in progress.
// ok is false when no discovered entries remain.
func (f *Frontier) GetNextURL() (u string, ok bool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	u, ok = f.pending.Peek()
	if !ok {
		return "", false, nil
	}
	// The head stays queued until the claim is persisted
	if err := f.store.UpdateState(u, models.StateInProgress); err != nil {
		return "", false, fmt.Errorf("%w: claiming '%s': %w", utils.ErrPersistence, u, err)
	}
	f.pending.Pop()
	f.states[u] = models.StateInProgress
	f.counts.Discovered--
	f.counts.InProgress++
	return u, true, nil
}

// MarkComplete moves u from in progress to completed.
// A URL that is not in progress is logged and ignored.
func (f *Frontier) MarkComplete(u string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	state := f.states[u]
	if state != models.StateInProgress {
		f.log.WithFields(logrus.Fields{"url": u, "state": state}).Warn("MarkComplete called for URL not in progress")
		return nil
	}
	if err := f.store.UpdateState(u, models.StateCompleted); err != nil {
		return fmt.Errorf("%w: completing '%s': %w", utils.ErrPersistence, u, err)
	}
	f.states[u] = models.StateCompleted
	f.counts.InProgress--
	f.counts.Completed++
	return nil
}

// State returns the in-memory state of a canonical URL (StateUnset if never seen)
func (f *Frontier) State(u string) models.FrontierState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.states[u]
}

// Counts returns the number of entries in each state
func (f *Frontier) Counts() Counts {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts
}

// InFlight returns the number of claimed but not yet completed URLs
func (f *Frontier) InFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts.InProgress
}
