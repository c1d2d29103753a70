// Package render drives a headless browser to produce one capture artifact
// (screenshot or PDF) per page, along with the page's outbound links.
package render

import (
	"context"

	"snapcrawl/pkg/models"
)

// Renderer renders a single page and returns its capture artifact,
// final URL, title, and discovered links. Implementations must be safe
// for concurrent use; the crawler calls Render from multiple workers.
type Renderer interface {
	// Render navigates to pageURL, waits for the load event, captures the
	// artifact, and extracts links. The context bounds the whole operation.
	Render(ctx context.Context, pageURL string) (*models.RenderResult, error)

	// Close shuts down the underlying browser
	Close() error
}
