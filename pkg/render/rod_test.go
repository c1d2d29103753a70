package render

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"snapcrawl/pkg/utils"
)

func TestWrapNavError_DeadlineBecomesRenderTimeout(t *testing.T) {
	cause := fmt.Errorf("navigation aborted: %w", context.DeadlineExceeded)
	err := wrapNavError(cause, "navigating to", "http://example.com/")

	if !errors.Is(err, utils.ErrRenderTimeout) {
		t.Errorf("Deadline expiry should wrap ErrRenderTimeout, got %v", err)
	}
	if errors.Is(err, utils.ErrNavigation) {
		t.Errorf("Deadline expiry should not wrap ErrNavigation, got %v", err)
	}
	if utils.CategorizeError(err) != "Render_Timeout" {
		t.Errorf("CategorizeError = %q, want Render_Timeout", utils.CategorizeError(err))
	}
}

func TestWrapNavError_OtherFailuresAreNavigation(t *testing.T) {
	cause := errors.New("net::ERR_NAME_NOT_RESOLVED")
	err := wrapNavError(cause, "navigating to", "http://nosuch.example/")

	if !errors.Is(err, utils.ErrNavigation) {
		t.Errorf("Navigation failure should wrap ErrNavigation, got %v", err)
	}
	if errors.Is(err, utils.ErrRenderTimeout) {
		t.Errorf("Navigation failure should not wrap ErrRenderTimeout, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Error("Original cause should remain in the chain")
	}
}
