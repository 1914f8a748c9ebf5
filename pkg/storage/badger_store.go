package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/ics-crawler/pkg/log"
	"github.com/Sriram-PR/ics-crawler/pkg/models"
	"github.com/Sriram-PR/ics-crawler/pkg/utils"
)

const (
	urlKeyPrefix  = "url:"        // Prefix for frontier entry keys in DB
	frontierDBDir = "frontier_db" // Subdirectory name within stateDir for Badger DB files
)

// BadgerStore implements the FrontierStore interface using BadgerDB
type BadgerStore struct {
	db       *badger.DB
	log      *logrus.Entry
	keyCount atomic.Int64 // Cached key count for O(1) Count
}

// NewBadgerStore opens the frontier database under stateDir.
// When resume is false any existing database for crawlName is removed first.
// syncWrites makes every committed transaction fsync before returning.
func NewBadgerStore(ctx context.Context, stateDir, crawlName string, resume, syncWrites bool, logger *logrus.Entry) (*BadgerStore, error) {
	store := &BadgerStore{log: logger}

	dbPath := filepath.Join(stateDir, utils.StateFileName(crawlName, frontierDBDir))

	if !resume {
		logger.Warnf("Restart requested. REMOVING existing frontier state: %s", dbPath)
		if err := os.RemoveAll(dbPath); err != nil {
			return nil, fmt.Errorf("%w: %w: removing frontier state %s: %w", utils.ErrPersistence, utils.ErrFilesystem, dbPath, err)
		}
	}

	logger.Infof("Opening frontier database at: %s (Resume: %v, SyncWrites: %v)", dbPath, resume, syncWrites)

	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("%w: %w: creating state directory %s: %w", utils.ErrPersistence, utils.ErrFilesystem, dbPath, err)
	}

	opts := badger.DefaultOptions(dbPath).
		WithLogger(log.NewBadgerLogger(logger.WithField("component", "badgerdb"))).
		WithNumVersionsToKeep(1).
		WithSyncWrites(syncWrites)

	var err error
	store.db, err = badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: opening badger database at %s: %w", utils.ErrPersistence, utils.ErrDatabase, dbPath, err)
	}

	if resume {
		count, err := store.countKeys(ctx)
		if err != nil {
			logger.Warnf("Failed to count existing keys on resume: %v", err)
		} else {
			store.keyCount.Store(int64(count))
			logger.Infof("Loaded existing frontier entry count on resume: %d", count)
		}
	}

	return store, nil
}

// countKeys performs a one-time full key scan (used only during initialization on resume).
func (s *BadgerStore) countKeys(ctx context.Context) (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(urlKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	return count, err
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts.
// Concurrent MVCC transactions on overlapping keys can return badger.ErrConflict;
// these resolve in microseconds, so a tight retry loop is sufficient.
func (s *BadgerStore) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

// PutIfAbsent implements the EntryStore interface
func (s *BadgerStore) PutIfAbsent(entry *models.FrontierEntry) (bool, error) {
	key := []byte(urlKeyPrefix + entry.URL)
	value, err := json.Marshal(entry)
	if err != nil {
		return false, fmt.Errorf("%w: JSON encoding entry '%s': %w", utils.ErrParsing, entry.URL, err)
	}

	added := false
	err = s.dbUpdate(func(txn *badger.Txn) error {
		added = false
		_, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			if errSet := txn.SetEntry(badger.NewEntry(key, value)); errSet != nil {
				return errSet
			}
			added = true
			return nil
		}
		return errGet // nil if key exists
	})
	if err != nil {
		s.log.WithField("key", string(key)).Errorf("DB Update error in PutIfAbsent: %v", err)
		return false, fmt.Errorf("%w: putting key '%s': %w", utils.ErrDatabase, string(key), err)
	}
	if added {
		s.keyCount.Add(1)
	}
	return added, nil
}

// UpdateState implements the EntryStore interface
func (s *BadgerStore) UpdateState(canonicalURL string, state models.FrontierState) error {
	key := []byte(urlKeyPrefix + canonicalURL)
	now := time.Now().UTC()

	isNew := false
	err := s.dbUpdate(func(txn *badger.Txn) error {
		isNew = false
		entry := models.FrontierEntry{URL: canonicalURL, DiscoveredAt: now}
		item, errGet := txn.Get(key)
		switch {
		case errors.Is(errGet, badger.ErrKeyNotFound):
			isNew = true
		case errGet != nil:
			return errGet
		default:
			if errVal := item.Value(func(val []byte) error { return json.Unmarshal(val, &entry) }); errVal != nil {
				s.log.WithField("key", string(key)).Warnf("Overwriting undecodable frontier entry: %v", errVal)
				entry = models.FrontierEntry{URL: canonicalURL, DiscoveredAt: now}
			}
		}
		entry.State = state
		entry.UpdatedAt = now
		value, errJSON := json.Marshal(&entry)
		if errJSON != nil {
			return errJSON
		}
		return txn.SetEntry(badger.NewEntry(key, value))
	})
	if err != nil {
		s.log.WithField("key", string(key)).Errorf("DB Update error in UpdateState: %v", err)
		return fmt.Errorf("%w: setting state %s for key '%s': %w", utils.ErrDatabase, state, string(key), err)
	}
	if isNew {
		s.keyCount.Add(1)
	}
	return nil
}

// GetEntry implements the EntryStore interface
func (s *BadgerStore) GetEntry(canonicalURL string) (*models.FrontierEntry, error) {
	key := []byte(urlKeyPrefix + canonicalURL)
	var entry *models.FrontierEntry

	err := s.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil
		}
		if errGet != nil {
			return fmt.Errorf("%w: getting key '%s': %w", utils.ErrDatabase, string(key), errGet)
		}
		return item.Value(func(val []byte) error {
			var decoded models.FrontierEntry
			if errJSON := json.Unmarshal(val, &decoded); errJSON != nil {
				return fmt.Errorf("%w: JSON decoding key '%s': %w", utils.ErrParsing, string(key), errJSON)
			}
			entry = &decoded
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ScanEntries implements the EntryStore interface.
// Undecodable values are logged and skipped rather than aborting the scan.
func (s *BadgerStore) ScanEntries(ctx context.Context, fn func(entry models.FrontierEntry) error) (int, error) {
	scanned := 0
	scanStart := time.Now()

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(urlKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				s.log.Warnf("Frontier scan interrupted by context cancellation: %v", ctx.Err())
				return ctx.Err()
			default:
			}

			item := it.Item()
			url := string(item.Key()[len(prefix):])
			var entry models.FrontierEntry
			errVal := item.Value(func(val []byte) error { return json.Unmarshal(val, &entry) })
			if errVal != nil {
				s.log.WithField("url", url).Errorf("Skipping undecodable frontier entry: %v", errVal)
				continue
			}
			if entry.URL == "" {
				entry.URL = url
			}
			scanned++
			if errFn := fn(entry); errFn != nil {
				return errFn
			}
		}
		return nil
	})

	s.log.WithFields(logrus.Fields{"scanned": scanned, "duration": time.Since(scanStart).String()}).Info("Frontier scan complete")
	return scanned, err
}

// Count implements the StoreAdmin interface
func (s *BadgerStore) Count() int {
	return int(s.keyCount.Load())
}

// RunGC runs BadgerDB's value log garbage collection periodically
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.db == nil || s.db.IsClosed() {
				continue
			}
			var err error
			for {
				// Rewrite while at least half of a value log file is reclaimable
				if err = s.db.RunValueLogGC(0.5); err != nil {
					break
				}
			}
			if !errors.Is(err, badger.ErrNoRewrite) {
				s.log.Errorf("BadgerDB GC error: %v", err)
			} else {
				s.log.Debug("BadgerDB GC finished (no rewrite needed).")
			}
		case <-ctx.Done():
			s.log.Debugf("Stopping BadgerDB GC goroutine: %v", ctx.Err())
			return
		}
	}
}

// WriteVisitedLog implements the StoreAdmin interface
func (s *BadgerStore) WriteVisitedLog(ctx context.Context, filePath string) error {
	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("%w: create visited log '%s': %w", utils.ErrFilesystem, filePath, err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	var writeErr error
	written, scanErr := s.ScanEntries(ctx, func(entry models.FrontierEntry) error {
		if _, err := fmt.Fprintf(writer, "%s\t%s\n", entry.URL, entry.State); err != nil && writeErr == nil {
			writeErr = err
		}
		return nil
	})

	if err := writer.Flush(); err != nil && writeErr == nil {
		writeErr = err
	}
	if err := file.Sync(); err != nil && writeErr == nil {
		writeErr = err
	}

	if scanErr != nil {
		return scanErr
	}
	if writeErr != nil {
		return fmt.Errorf("%w: writing visited log '%s': %w", utils.ErrFilesystem, filePath, writeErr)
	}
	s.log.Infof("Wrote %d frontier entries to visited log: %s", written, filePath)
	return nil
}

// Close implements the StoreAdmin interface
func (s *BadgerStore) Close() error {
	if s.db == nil || s.db.IsClosed() {
		return nil
	}
	s.log.Info("Closing frontier DB...")
	if err := s.db.Close(); err != nil {
		s.log.Errorf("Error closing frontier DB: %v", err)
		return err
	}
	return nil
}
