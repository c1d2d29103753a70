package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/sirupsen/logrus"

	"snapcrawl/pkg/config"
	"snapcrawl/pkg/models"
	"snapcrawl/pkg/utils"
)

// RodRenderer implements Renderer using a shared headless Chromium instance
// via go-rod. Each Render call opens a fresh tab and closes it when done, so
// concurrent renders never share page state.
type RodRenderer struct {
	browser     *rod.Browser
	resolution  config.Resolution
	fileType    config.FileType
	quality     int
	userAgent   string
	navTimeout  time.Duration
	settleDelay time.Duration
	log         *logrus.Entry
}

// NewRodRenderer launches (or connects to) a Chromium instance and returns a
// renderer configured for the crawl's capture format and viewport.
func NewRodRenderer(appCfg *config.AppConfig, logger *logrus.Entry) (*RodRenderer, error) {
	headless := true
	if appCfg.Headless != nil {
		headless = *appCfg.Headless
	}
	l := launcher.New().
		Headless(headless).
		Set("ignore-certificate-errors")
	if appCfg.BrowserBinPath != "" {
		l = l.Bin(appCfg.BrowserBinPath)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("%w: launching browser: %w", utils.ErrBrowserLaunch, err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("%w: connecting to browser at %s: %w", utils.ErrBrowserLaunch, controlURL, err)
	}

	logger.Debugf("Browser launched: %s", controlURL)

	quality := appCfg.Crawl.Quality
	if quality <= 0 {
		quality = 90
	}

	return &RodRenderer{
		browser:     browser,
		resolution:  appCfg.Crawl.Resolution,
		fileType:    appCfg.Crawl.FileType,
		quality:     quality,
		userAgent:   appCfg.UserAgent,
		navTimeout:  appCfg.NavigationTimeout,
		settleDelay: appCfg.SettleDelay,
		log:         logger,
	}, nil
}

// wrapNavError classifies a navigation failure: deadline expiry becomes a
// render timeout, everything else a navigation error.
func wrapNavError(err error, action, pageURL string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s %s: %w", utils.ErrRenderTimeout, action, pageURL, err)
	}
	return fmt.Errorf("%w: %s %s: %w", utils.ErrNavigation, action, pageURL, err)
}

// Render implements the Renderer interface
func (r *RodRenderer) Render(ctx context.Context, pageURL string) (*models.RenderResult, error) {
	page, err := r.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("%w: opening page for %s: %w", utils.ErrBrowserLaunch, pageURL, err)
	}
	defer func() {
		if closeErr := page.Close(); closeErr != nil {
			r.log.Debugf("Error closing page for %s: %v", pageURL, closeErr)
		}
	}()

	// Bind the page to the task context so navigation, waiting, and capture
	// all abort together on timeout or cancellation
	page = page.Context(ctx)

	if r.userAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: r.userAgent}); err != nil {
			r.log.Warnf("Failed to set user agent for %s: %v", pageURL, err)
		}
	}

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             r.resolution.Width,
		Height:            r.resolution.Height,
		DeviceScaleFactor: 1,
		Mobile:            false,
	}); err != nil {
		return nil, fmt.Errorf("%w: setting viewport for %s: %w", utils.ErrNavigation, pageURL, err)
	}

	// Navigation and load get their own deadline within the task context
	navCtx := ctx
	if r.navTimeout > 0 {
		var cancelNav context.CancelFunc
		navCtx, cancelNav = context.WithTimeout(ctx, r.navTimeout)
		defer cancelNav()
	}
	navPage := page.Context(navCtx)
	if err := navPage.Navigate(pageURL); err != nil {
		return nil, wrapNavError(err, "navigating to", pageURL)
	}
	if err := navPage.WaitLoad(); err != nil {
		return nil, wrapNavError(err, "waiting for load of", pageURL)
	}

	// Let late-loading content (fonts, images, client-side rendering) settle
	// before capturing
	if r.settleDelay > 0 {
		select {
		case <-time.After(r.settleDelay):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: settling %s: %w", utils.ErrNavigation, pageURL, ctx.Err())
		}
	}

	artifact, err := r.capture(page)
	if err != nil {
		return nil, fmt.Errorf("%w: capturing %s: %w", utils.ErrCapture, pageURL, err)
	}

	info, err := page.Info()
	if err != nil {
		return nil, fmt.Errorf("%w: reading page info for %s: %w", utils.ErrNavigation, pageURL, err)
	}

	result := &models.RenderResult{
		Artifact: artifact,
		FinalURL: info.URL,
		Title:    info.Title,
	}

	// Link extraction failures degrade the page to a leaf; the capture itself
	// already succeeded
	htmlContent, err := page.HTML()
	if err != nil {
		r.log.Warnf("Failed to read HTML of %s, no links extracted: %v", pageURL, err)
		return result, nil
	}
	finalURL, err := url.Parse(info.URL)
	if err != nil {
		r.log.Warnf("Final URL of %s unparseable (%q), no links extracted: %v", pageURL, info.URL, err)
		return result, nil
	}
	links, err := ExtractLinks(htmlContent, finalURL)
	if err != nil {
		r.log.Warnf("Failed to extract links from %s: %v", pageURL, err)
		return result, nil
	}
	result.Links = links

	return result, nil
}

// capture produces the artifact bytes in the configured format
func (r *RodRenderer) capture(page *rod.Page) ([]byte, error) {
	if r.fileType == config.FileTypePDF {
		reader, err := page.PDF(&proto.PagePrintToPDF{PrintBackground: true})
		if err != nil {
			return nil, err
		}
		return io.ReadAll(reader)
	}

	req := &proto.PageCaptureScreenshot{}
	switch r.fileType {
	case config.FileTypeJPEG:
		req.Format = proto.PageCaptureScreenshotFormatJpeg
		req.Quality = &r.quality
	case config.FileTypeWebP:
		req.Format = proto.PageCaptureScreenshotFormatWebp
		req.Quality = &r.quality
	default:
		req.Format = proto.PageCaptureScreenshotFormatPng
	}
	// Viewport screenshot, not full page
	return page.Screenshot(false, req)
}

// Close implements the Renderer interface
func (r *RodRenderer) Close() error {
	if r.browser == nil {
		return nil
	}
	r.log.Debug("Closing browser...")
	return r.browser.Close()
}
