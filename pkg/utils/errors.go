package utils

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
)

// --- Sentinel Errors for Categorization ---
var (
	ErrConfigValidation = errors.New("configuration validation error")
	ErrParsing          = errors.New("parsing error") // Wraps URL/HTML parse errors
	ErrBrowserLaunch    = errors.New("browser launch/connect failed")
	ErrNavigation       = errors.New("page navigation failed")
	ErrRenderTimeout    = errors.New("render timed out")
	ErrCapture          = errors.New("snapshot capture failed")
	ErrPersist          = errors.New("snapshot persist failed")
	ErrFilesystem       = errors.New("filesystem error")
	ErrDatabase         = errors.New("database error") // Wraps badger errors
	ErrSemaphoreTimeout = errors.New("timeout acquiring semaphore")
)

// CategorizeError maps an error to a predefined category string for the
// capture manifest and for logging.
func CategorizeError(err error) string {
	if err == nil {
		return "None"
	}

	switch {
	case errors.Is(err, ErrConfigValidation):
		return "Config_Validation"
	case errors.Is(err, ErrBrowserLaunch):
		return "Browser_Launch"
	case errors.Is(err, ErrRenderTimeout):
		return "Render_Timeout"
	case errors.Is(err, ErrNavigation):
		// Timeouts frequently surface through navigation errors
		if errors.Is(err, context.DeadlineExceeded) ||
			strings.Contains(strings.ToLower(err.Error()), "timeout") {
			return "Render_Timeout"
		}
		return "Render_Navigation"
	case errors.Is(err, ErrCapture):
		return "Render_Capture"
	case errors.Is(err, ErrPersist):
		return "Persist_Write"
	case errors.Is(err, ErrParsing):
		if strings.Contains(err.Error(), "URL") {
			return "Content_ParsingURL"
		}
		return "Content_ParsingOther"
	case errors.Is(err, ErrFilesystem):
		if errors.Is(err, os.ErrPermission) {
			return "Filesystem_Permission"
		}
		if errors.Is(err, os.ErrNotExist) {
			return "Filesystem_NotExist"
		}
		return "Filesystem_Other"
	case errors.Is(err, ErrDatabase):
		return "Database_Other"
	case errors.Is(err, ErrSemaphoreTimeout):
		return "Resource_SemaphoreTimeout"
	}

	// --- Fallback checks for common underlying error types/strings ---

	if errors.Is(err, context.Canceled) {
		return "System_ContextCanceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "System_ContextDeadlineExceeded"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "Network_Timeout"
	}
	lowerErrMsg := strings.ToLower(err.Error())
	if strings.Contains(lowerErrMsg, "timeout") {
		return "Network_TimeoutGeneric"
	}
	if strings.Contains(lowerErrMsg, "connection refused") {
		return "Network_ConnectionRefused"
	}
	if strings.Contains(lowerErrMsg, "no such host") {
		return "Network_DNSLookup"
	}
	if strings.Contains(lowerErrMsg, "tls") || strings.Contains(lowerErrMsg, "certificate") {
		return "Network_TLS"
	}

	return "Unknown"
}
