package storage

import (
	"bufio"
	"bytes"
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

	"snapcrawl/pkg/models"
	"snapcrawl/pkg/utils"
)

const (
	captureKeyPrefix = "capture:"    // Prefix for capture manifest keys in DB
	manifestDBDir    = "manifest_db" // Subdirectory name within stateDir for Badger DB files
)

// BadgerStore implements the ManifestStore interface using BadgerDB
type BadgerStore struct {
	db       *badger.DB
	log      *logrus.Entry
	ctx      context.Context // Parent context
	keyCount atomic.Int64    // Cached key count for O(1) GetCapturedCount
}

// NewBadgerStore initializes and returns a new BadgerStore. Each run gets a
// fresh manifest: any existing DB for the seed host is removed first.
func NewBadgerStore(ctx context.Context, stateDir, seedHost string, logger *logrus.Entry) (*BadgerStore, error) {
	store := &BadgerStore{
		log: logger,
		ctx: ctx,
	}

	// Create a unique directory path for this seed's DB within the base state directory
	dbDirName := utils.SanitizeFilename(seedHost) + "_" + manifestDBDir
	dbPath := filepath.Join(stateDir, dbDirName)

	if err := os.RemoveAll(dbPath); err != nil {
		// Log error but attempt to continue; Badger might recover or create new files
		logger.Errorf("Failed to remove existing state directory %s: %v", dbPath, err)
	}

	logger.Infof("Initializing capture manifest database at: %s", dbPath)

	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("cannot create state directory %s: %w", dbPath, err)
	}

	// Configure Badger options. A contextualized logrus entry satisfies
	// badger.Logger directly.
	opts := badger.DefaultOptions(dbPath).
		WithLogger(logger.WithField("component", "badgerdb")).
		WithNumVersionsToKeep(1) // Only keep the latest state per URL

	// Open the database
	var err error
	store.db, err = badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %s: %w", dbPath, err)
	}

	logger.Info("Capture manifest database initialized successfully.")
	return store, nil
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

// RecordPending implements the ManifestStore interface
func (s *BadgerStore) RecordPending(canonicalURL string) (bool, error) {
	if s.db == nil {
		return false, errors.New("manifest DB not initialized")
	}
	added := false
	key := []byte(captureKeyPrefix + canonicalURL)

	err := s.dbUpdate(func(txn *badger.Txn) error {
		_, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			// Key doesn't exist, add it with an empty value.
			e := badger.NewEntry(key, []byte{})
			errSet := txn.SetEntry(e)
			if errSet == nil {
				added = true
			}
			return errSet
		}
		// Key already exists or another error occurred
		return errGet // Return the original error (could be nil if key exists)
	})

	if err != nil {
		s.log.WithField("key", string(key)).Errorf("DB Update error in RecordPending: %v", err)
		return false, fmt.Errorf("%w: recording capture key '%s': %w", utils.ErrDatabase, string(key), err)
	}
	if added {
		s.keyCount.Add(1)
	}

	return added, nil
}

// CheckCapture implements the ManifestStore interface
func (s *BadgerStore) CheckCapture(canonicalURL string) (models.CaptureStatus, *models.CaptureDBEntry, error) {
	status := models.CaptureStatusNotFound
	var entry *models.CaptureDBEntry = nil
	key := []byte(captureKeyPrefix + canonicalURL)

	errView := s.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			status = models.CaptureStatusNotFound // Explicitly set status
			return nil                            // Key not found is not an error for this function's purpose
		}
		if errGet != nil {
			return fmt.Errorf("%w: failed getting capture key '%s': %w", utils.ErrDatabase, string(key), errGet)
		}

		// Key found, now get the value
		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				status = models.CaptureStatusPending // Key exists but has no data yet
				return nil
			}

			// Value is not empty, try to decode
			var decodedEntry models.CaptureDBEntry
			if errJson := json.Unmarshal(val, &decodedEntry); errJson != nil {
				s.log.Warnf("Failed to unmarshal CaptureDBEntry for key '%s': %v. Treating as 'pending'.", string(key), errJson)
				status = models.CaptureStatusPending // Treat unmarshal error as pending state
				return nil                           // Return nil to continue View, status is set
			}

			// Successfully decoded
			entry = &decodedEntry
			status = decodedEntry.Status
			s.log.Debugf("Capture key '%s' found, decoded status: %s", string(key), status)
			return nil
		})
	})

	if errView != nil {
		s.log.Errorf("DB View error in CheckCapture for key '%s': %v", string(key), errView)
		status = models.CaptureStatusDBError // Set status to indicate DB error
		return status, nil, errView          // Return the DB error
	}

	// No DB error occurred during View/Get/Value
	return status, entry, nil
}

// UpdateCapture implements the ManifestStore interface
func (s *BadgerStore) UpdateCapture(canonicalURL string, entry *models.CaptureDBEntry) error {
	if s.db == nil {
		return errors.New("manifest DB not initialized")
	}
	key := []byte(captureKeyPrefix + canonicalURL)

	entryBytes, errJson := json.Marshal(entry)
	if errJson != nil {
		wrappedErr := fmt.Errorf("%w: failed to marshal CaptureDBEntry for key '%s': %w", utils.ErrParsing, string(key), errJson)
		s.log.Error(wrappedErr)
		return wrappedErr
	}

	isNew := false
	err := s.dbUpdate(func(txn *badger.Txn) error {
		_, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			isNew = true
		}
		e := badger.NewEntry(key, entryBytes)
		return txn.SetEntry(e)
	})

	if err != nil {
		s.log.WithField("key", string(key)).Errorf("DB Update error in UpdateCapture: %v", err)
		return fmt.Errorf("%w: failed setting capture status for key '%s': %w", utils.ErrDatabase, string(key), err)
	}
	if isNew {
		s.keyCount.Add(1)
	}

	s.log.Debugf("Successfully updated capture status for key '%s' to '%s'", string(key), entry.Status)
	return nil
}

// GetCapturedCount implements the ManifestStore interface.
// Returns the cached key count (O(1)) maintained by atomic increments on writes.
func (s *BadgerStore) GetCapturedCount() (int, error) {
	return int(s.keyCount.Load()), nil
}

// RunGC runs BadgerDB's garbage collection periodically
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute // Default interval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info("BadgerDB GC goroutine started.")

	for {
		select {
		case <-ticker.C:
			// Check if DB is valid before running GC
			if s.db == nil || s.db.IsClosed() {
				s.log.Info("DB GC: Database is nil or closed, skipping GC cycle.")
				continue
			}

			s.log.Info("Running BadgerDB value log garbage collection...")
			var err error
			// Loop GC until it returns ErrNoRewrite or another error
			for {
				// Run GC if log is at least 50% reclaimable space
				err = s.db.RunValueLogGC(0.5)
				if err == nil {
					s.log.Info("BadgerDB GC cycle completed.")
				} else {
					break // Exit loop if GC finished (ErrNoRewrite) or encountered an error
				}
			}

			// Log outcome
			if errors.Is(err, badger.ErrNoRewrite) {
				s.log.Info("BadgerDB GC finished (no rewrite needed).")
			} else {
				s.log.Errorf("BadgerDB GC error: %v", err)
			}

		case <-ctx.Done(): // Check if stop signal received via context cancellation
			s.log.Infof("Stopping BadgerDB garbage collection goroutine due to context cancellation: %v", ctx.Err())
			return
		}
	}
}

// WriteVisitedLog implements the ManifestStore interface.
func (s *BadgerStore) WriteVisitedLog(filePath string) error {
	s.log.Info("Writing list of visited page URLs (from manifest DB)...")
	file, err := os.Create(filePath)
	if err != nil {
		s.log.Errorf("Failed create visited log '%s': %v", filePath, err)
		return fmt.Errorf("create visited log '%s': %w", filePath, err)
	}
	defer file.Close() // Ensure file is closed

	writer := bufio.NewWriter(file)
	var dbErr error
	writtenCount := 0

	iterErr := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefixBytes := []byte(captureKeyPrefix)

		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			// Check context cancellation within the loop
			select {
			case <-s.ctx.Done():
				s.log.Warnf("WriteVisitedLog scan interrupted by context cancellation: %v", s.ctx.Err())
				return s.ctx.Err() // Stop iteration
			default:
				// Continue processing item
			}

			item := it.Item()
			keyBytesWithPrefix := item.KeyCopy(nil)
			if !bytes.HasPrefix(keyBytesWithPrefix, prefixBytes) {
				continue
			}
			keyToWrite := string(keyBytesWithPrefix[len(prefixBytes):])

			_, writeErr := writer.WriteString(keyToWrite + "\n") // Write stripped key
			if writeErr != nil {
				if dbErr == nil { // Store first write error
					dbErr = writeErr
				}
				s.log.Errorf("Error writing URL '%s' to visited log: %v", keyToWrite, writeErr)
				// Continue writing other URLs if possible
			}
			writtenCount++
		}
		return nil
	})

	// Handle errors after iteration
	if iterErr != nil && !errors.Is(iterErr, context.Canceled) && !errors.Is(iterErr, context.DeadlineExceeded) {
		s.log.Errorf("Error during manifest DB iteration for log: %v", iterErr)
		if dbErr == nil {
			dbErr = iterErr
		}
	}

	// Final flush
	if flushErr := writer.Flush(); flushErr != nil {
		s.log.Errorf("Failed final flush for visited log '%s': %v", filePath, flushErr)
		if dbErr == nil {
			dbErr = flushErr
		}
	}

	// Sync to disk before closing
	if syncErr := file.Sync(); syncErr != nil {
		s.log.Errorf("Failed to sync visited log '%s': %v", filePath, syncErr)
		if dbErr == nil {
			dbErr = syncErr
		}
	}

	if iterErr == nil && dbErr == nil {
		s.log.Infof("Finished writing %d URLs to visited log: %s", writtenCount, filePath)
	} else {
		s.log.Warnf("Finished writing visited log with errors. Wrote ~%d URLs to %s", writtenCount, filePath)
	}

	// Return context error if iteration was cancelled, otherwise return first IO/DB error
	if errors.Is(iterErr, context.Canceled) || errors.Is(iterErr, context.DeadlineExceeded) {
		return iterErr
	}
	return dbErr
}

// Close implements the ManifestStore interface
func (s *BadgerStore) Close() error {
	if s.db != nil && !s.db.IsClosed() {
		s.log.Info("Closing manifest DB...")
		err := s.db.Close()
		if err != nil {
			s.log.Errorf("Error closing manifest DB: %v", err)
			return err
		}
		s.log.Info("Manifest DB closed.")
		return nil
	}
	s.log.Info("Manifest DB already closed or was not initialized.")
	return nil
}
