package storage

import (
	"context"
	"time"

	"github.com/Sriram-PR/ics-crawler/pkg/models"
)

// EntryStore persists frontier entries keyed by canonical URL
type EntryStore interface {
	// PutIfAbsent stores the entry only if no entry exists for its URL.
	// Returns true if the entry was newly added
	PutIfAbsent(entry *models.FrontierEntry) (bool, error)

	// UpdateState sets the state of an existing entry, creating it if missing
	UpdateState(canonicalURL string, state models.FrontierState) error

	// GetEntry returns the stored entry, or nil if the URL was never recorded
	GetEntry(canonicalURL string) (*models.FrontierEntry, error)

	// ScanEntries calls fn for every stored entry in key order
	ScanEntries(ctx context.Context, fn func(entry models.FrontierEntry) error) (scanned int, err error)
}

// StoreAdmin handles lifecycle and administrative operations
type StoreAdmin interface {
	// Count returns the number of entries in the store
	Count() int

	// WriteVisitedLog writes "url<TAB>state" lines for every entry to the specified file path
	WriteVisitedLog(ctx context.Context, filePath string) error

	// RunGC runs periodic garbage collection. Should be run in a goroutine
	RunGC(ctx context.Context, interval time.Duration)

	// Close cleanly closes the database
	Close() error
}

// FrontierStore combines both store interfaces for the frontier
type FrontierStore interface {
	EntryStore
	StoreAdmin
}
