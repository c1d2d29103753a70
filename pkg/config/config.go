package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileType identifies the artifact format captured per page
type FileType string

const (
	FileTypePNG  FileType = "png"
	FileTypeJPEG FileType = "jpeg"
	FileTypeWebP FileType = "webp"
	FileTypePDF  FileType = "pdf"
)

// IsValid returns true if the file type is a supported capture format
func (f FileType) IsValid() bool {
	switch f {
	case FileTypePNG, FileTypeJPEG, FileTypeWebP, FileTypePDF:
		return true
	}
	return false
}

// Extension returns the filename extension for the file type (without dot)
func (f FileType) Extension() string {
	return string(f)
}

// Resolution is the browser viewport size used for rendering
type Resolution struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// String formats the resolution as "WIDTHxHEIGHT"
func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// ParseResolution parses a "WIDTHxHEIGHT" string (e.g. "1280x720")
func ParseResolution(s string) (Resolution, error) {
	parts := strings.SplitN(strings.ToLower(strings.TrimSpace(s)), "x", 2)
	if len(parts) != 2 {
		return Resolution{}, fmt.Errorf("resolution must be WIDTHxHEIGHT, got %q", s)
	}
	width, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return Resolution{}, fmt.Errorf("invalid resolution width %q: %w", parts[0], err)
	}
	height, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return Resolution{}, fmt.Errorf("invalid resolution height %q: %w", parts[1], err)
	}
	return Resolution{Width: width, Height: height}, nil
}

// CrawlConfig holds settings for a single crawl run
type CrawlConfig struct {
	SeedURL        string     `yaml:"seed_url"`
	MaxDepth       int        `yaml:"max_depth"`
	MaxPages       int        `yaml:"max_pages"`
	FollowExternal bool       `yaml:"follow_external,omitempty"`
	FileType       FileType   `yaml:"file_type,omitempty"`
	Resolution     Resolution `yaml:"resolution,omitempty"`
	Quality        int        `yaml:"quality,omitempty"` // JPEG/WebP quality 1-100 (ignored for png/pdf)
	OutputDir      string     `yaml:"output_dir,omitempty"`
}

// AppConfig holds the global application configuration
type AppConfig struct {
	NumWorkers              int           `yaml:"num_workers"`
	MaxConcurrentRenders    int           `yaml:"max_concurrent_renders,omitempty"` // Cap on simultaneous browser pages
	StateDir                string        `yaml:"state_dir"`
	Headless                *bool         `yaml:"headless,omitempty"` // nil = default (true)
	BrowserBinPath          string        `yaml:"browser_bin_path,omitempty"` // Explicit Chromium binary (empty = auto-detect/download)
	UserAgent               string        `yaml:"user_agent,omitempty"`
	NavigationTimeout       time.Duration `yaml:"navigation_timeout,omitempty"` // Deadline for navigate + load of one page
	SettleDelay             time.Duration `yaml:"settle_delay,omitempty"`       // Pause after load before capturing (0 = capture immediately)
	PerPageTimeout          time.Duration `yaml:"per_page_timeout,omitempty"`   // Timeout for processing a single page (0 = no timeout)
	SemaphoreAcquireTimeout time.Duration `yaml:"semaphore_acquire_timeout,omitempty"`
	GlobalCrawlTimeout      time.Duration `yaml:"global_crawl_timeout,omitempty"`
	Crawl                   CrawlConfig   `yaml:"crawl"`
}

// LoadAppConfig reads and parses the YAML config file at path.
// A missing file is not an error when path is empty; callers get the zero
// config and Validate fills the defaults.
func LoadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if path == "" {
		return &cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return &cfg, nil
}
