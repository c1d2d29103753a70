package models

import "time"

// CrawlTask represents one pending unit of work: a URL to render at a given
// depth. Depth starts at 1 for the seed. ParentURL is the page the link was
// discovered on (empty for the seed); kept for the manifest.
type CrawlTask struct {
	URL       string
	Depth     int
	ParentURL string
}

// RenderResult is what the render engine hands back for one page: the capture
// artifact bytes, the final (post-redirect) URL, the page title, and the set
// of absolute http/https hrefs discovered on the page.
type RenderResult struct {
	Artifact []byte
	FinalURL string
	Title    string
	Links    []string
}

// CaptureDBEntry stores the outcome of one claimed URL in the manifest
type CaptureDBEntry struct {
	Status         CaptureStatus `json:"status"`
	ErrorType      string        `json:"error_type,omitempty"`      // Error category (on failure)
	ArtifactPath   string        `json:"artifact_path,omitempty"`   // Path of the saved snapshot (on success)
	ArtifactSHA256 string        `json:"artifact_sha256,omitempty"` // Fingerprint of the artifact bytes
	Title          string        `json:"title,omitempty"`
	FinalURL       string        `json:"final_url,omitempty"` // URL after redirects
	Depth          int           `json:"depth"`
	ParentURL      string        `json:"parent_url,omitempty"`
	CapturedAt     time.Time     `json:"captured_at,omitempty"` // Timestamp of successful capture
	LastAttempt    time.Time     `json:"last_attempt"`
}

// CrawlStats aggregates counters for a finished crawl run
type CrawlStats struct {
	PagesCaptured   int64
	PagesFailed     int64
	ClaimsRejected  int64
	LinksDiscovered int64
	Duration        time.Duration
}

// CrawlProgress is a point-in-time snapshot of a running crawl
type CrawlProgress struct {
	PagesCaptured  int64
	PagesFailed    int64
	ClaimsRejected int64
	PagesQueued    int
	IsRunning      bool
}
