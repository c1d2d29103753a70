// Package output persists capture artifacts to the local filesystem with
// deterministic, collision-resistant filenames.
package output

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"snapcrawl/pkg/config"
	"snapcrawl/pkg/utils"
)

// Writer saves artifact bytes under a base directory
type Writer struct {
	baseDir  string
	fileType config.FileType
	log      *logrus.Entry
}

// NewWriter creates the output directory (and parents) if needed and returns
// a Writer. Failure to create the directory is fatal for the run.
func NewWriter(baseDir string, fileType config.FileType, logger *logrus.Entry) (*Writer, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("%w: cannot create output directory %s: %w", utils.ErrFilesystem, baseDir, err)
	}
	return &Writer{baseDir: baseDir, fileType: fileType, log: logger}, nil
}

// BaseDir returns the directory artifacts are written into
func (w *Writer) BaseDir() string {
	return w.baseDir
}

// Write persists the artifact for pageURL and returns the file path.
// The filename is derived from the page host and path plus a UTC timestamp,
// so two captures of the same URL in different runs never clobber each other.
func (w *Writer) Write(pageURL *url.URL, artifact []byte) (string, error) {
	filename := w.filenameFor(pageURL)
	fullPath := filepath.Join(w.baseDir, filename)

	if err := os.WriteFile(fullPath, artifact, 0644); err != nil {
		w.log.WithField("path", fullPath).Errorf("Failed writing artifact: %v", err)
		return "", fmt.Errorf("%w: writing artifact %s: %w", utils.ErrPersist, fullPath, err)
	}

	w.log.WithFields(logrus.Fields{
		"path": fullPath,
		"size": len(artifact),
	}).Debug("Artifact written")
	return fullPath, nil
}

// filenameFor builds "host_path_timestamp.ext" from the page URL
func (w *Writer) filenameFor(pageURL *url.URL) string {
	base := pageURL.Host
	if p := strings.Trim(pageURL.Path, "/"); p != "" {
		base += "_" + p
	}
	base = utils.SanitizeFilename(base)

	timestamp := time.Now().UTC().Format("20060102T150405.000Z")
	timestamp = strings.ReplaceAll(timestamp, ".", "")

	return fmt.Sprintf("%s_%s.%s", base, timestamp, w.fileType.Extension())
}
