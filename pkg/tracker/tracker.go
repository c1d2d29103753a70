// Package tracker owns the visited set and the global page cap for a single
// crawl run. It is the sole point of synchronization between workers: a URL
// enters the crawl exactly when TryClaim accepts it.
package tracker

import "sync"

// Tracker is the frontier/visited tracker. The visited set grows
// monotonically for the lifetime of one run; there is no removal.
// Callers are expected to pass canonicalized URL keys (see pkg/parse).
type Tracker struct {
	mu       sync.Mutex
	visited  map[string]struct{}
	maxPages int
}

// New creates a Tracker enforcing the given page cap. maxPages <= 0 is
// treated as a cap of zero (nothing is ever claimed).
func New(maxPages int) *Tracker {
	return &Tracker{
		visited:  make(map[string]struct{}),
		maxPages: maxPages,
	}
}

// TryClaim atomically checks whether the key is already claimed or the page
// cap is reached; if neither, it inserts the key and returns true. The
// check-and-insert is indivisible so two concurrent branches can never both
// claim the same URL or push the set past the cap.
func (t *Tracker) TryClaim(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.visited[key]; exists {
		return false
	}
	if len(t.visited) >= t.maxPages {
		return false
	}
	t.visited[key] = struct{}{}
	return true
}

// Visited reports whether the key has been claimed.
func (t *Tracker) Visited(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, exists := t.visited[key]
	return exists
}

// Count returns the current size of the visited set.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.visited)
}
