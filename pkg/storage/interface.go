package storage

import (
	"context"
	"time"

	"snapcrawl/pkg/models"
)

// CaptureStore handles per-URL capture state
type CaptureStore interface {
	// RecordPending marks a claimed URL as pending in the manifest
	// Returns true if the URL was newly added, false if it already existed
	RecordPending(canonicalURL string) (bool, error)

	// CheckCapture retrieves the status and details of a captured URL
	// Returns status (CaptureStatusSuccess, CaptureStatusFailure, CaptureStatusPending,
	// CaptureStatusNotFound, CaptureStatusDBError), the CaptureDBEntry if found and
	// parsed, and any error
	CheckCapture(canonicalURL string) (status models.CaptureStatus, entry *models.CaptureDBEntry, err error)

	// UpdateCapture updates the status and details for a captured URL
	UpdateCapture(canonicalURL string, entry *models.CaptureDBEntry) error
}

// StoreAdmin handles lifecycle and administrative operations
type StoreAdmin interface {
	// GetCapturedCount returns an approximate count of all keys in the store
	GetCapturedCount() (int, error)

	// WriteVisitedLog writes all captured URLs to the specified file path
	WriteVisitedLog(filePath string) error

	// RunGC runs periodic garbage collection. Should be run in a goroutine
	RunGC(ctx context.Context, interval time.Duration)

	// Close cleanly closes the database connection
	Close() error
}

// ManifestStore combines all store interfaces for components that need full access
type ManifestStore interface {
	CaptureStore
	StoreAdmin
}
