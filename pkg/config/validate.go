package config

import (
	"fmt"
	"net/url"
	"time"

	"snapcrawl/pkg/utils"
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	// NumWorkers
	if c.NumWorkers <= 0 {
		warnings = append(warnings, "num_workers should be > 0, defaulting to 4")
		c.NumWorkers = 4
	}

	// MaxConcurrentRenders
	if c.MaxConcurrentRenders <= 0 {
		warnings = append(warnings, fmt.Sprintf(
			"max_concurrent_renders not specified or invalid, defaulting to num_workers (%d)",
			c.NumWorkers))
		c.MaxConcurrentRenders = c.NumWorkers
	}

	// StateDir
	if c.StateDir == "" {
		warnings = append(warnings, "state_dir is empty, defaulting to './crawler_state'")
		c.StateDir = "./crawler_state"
	}

	// Headless (tri-state: nil means unset)
	if c.Headless == nil {
		headless := true
		c.Headless = &headless
	}

	// NavigationTimeout
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 30 * time.Second
	}

	// SettleDelay
	if c.SettleDelay < 0 {
		warnings = append(warnings, "settle_delay cannot be negative, capturing immediately after load")
		c.SettleDelay = 0
	}

	// PerPageTimeout
	if c.PerPageTimeout < 0 {
		warnings = append(warnings, "per_page_timeout cannot be negative, disabling timeout")
		c.PerPageTimeout = 0
	}

	// SemaphoreAcquireTimeout
	if c.SemaphoreAcquireTimeout <= 0 {
		c.SemaphoreAcquireTimeout = 30 * time.Second
	}

	// GlobalCrawlTimeout
	if c.GlobalCrawlTimeout < 0 {
		warnings = append(warnings, "global_crawl_timeout cannot be negative, disabling timeout")
		c.GlobalCrawlTimeout = 0
	}

	return warnings, nil // Crawl settings are validated separately, per run
}

// Validate checks CrawlConfig fields and applies defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *CrawlConfig) Validate() (warnings []string, err error) {
	// Required: SeedURL
	if c.SeedURL == "" {
		return nil, fmt.Errorf("%w: crawl needs seed_url", utils.ErrConfigValidation)
	}
	parsed, parseErr := url.ParseRequestURI(c.SeedURL)
	if parseErr != nil {
		return nil, fmt.Errorf("%w: seed_url %q is not a valid absolute URL: %v",
			utils.ErrConfigValidation, c.SeedURL, parseErr)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("%w: seed_url scheme must be http or https, got %q",
			utils.ErrConfigValidation, parsed.Scheme)
	}

	// MaxDepth
	if c.MaxDepth < 0 {
		return nil, fmt.Errorf("%w: max_depth cannot be negative", utils.ErrConfigValidation)
	}
	if c.MaxDepth == 0 {
		warnings = append(warnings, "max_depth not specified, defaulting to 1 (seed only)")
		c.MaxDepth = 1
	}

	// MaxPages
	if c.MaxPages < 0 {
		return nil, fmt.Errorf("%w: max_pages cannot be negative", utils.ErrConfigValidation)
	}
	if c.MaxPages == 0 {
		warnings = append(warnings, "max_pages not specified, defaulting to 10")
		c.MaxPages = 10
	}

	// FileType
	if c.FileType == "" {
		c.FileType = FileTypePNG
	}
	if !c.FileType.IsValid() {
		return warnings, fmt.Errorf("%w: file_type must be one of png, jpeg, webp, pdf; got %q",
			utils.ErrConfigValidation, c.FileType)
	}

	// Resolution
	if c.Resolution.Width == 0 && c.Resolution.Height == 0 {
		c.Resolution = Resolution{Width: 1920, Height: 1080}
	}
	if c.Resolution.Width <= 0 || c.Resolution.Height <= 0 {
		return warnings, fmt.Errorf("%w: resolution dimensions must be positive, got %s",
			utils.ErrConfigValidation, c.Resolution)
	}

	// Quality (only meaningful for lossy formats)
	if c.Quality < 0 || c.Quality > 100 {
		return warnings, fmt.Errorf("%w: quality must be between 0 and 100, got %d",
			utils.ErrConfigValidation, c.Quality)
	}
	if c.Quality == 0 && (c.FileType == FileTypeJPEG || c.FileType == FileTypeWebP) {
		c.Quality = 90
	}

	// OutputDir
	if c.OutputDir == "" {
		warnings = append(warnings, "output_dir is empty, defaulting to './screenshots'")
		c.OutputDir = "./screenshots"
	}

	return warnings, nil
}
