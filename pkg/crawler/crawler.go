package crawler

import (
	"context"
	"fmt"
	"net/url"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"snapcrawl/pkg/config"
	"snapcrawl/pkg/models"
	"snapcrawl/pkg/parse"
	"snapcrawl/pkg/queue"
	"snapcrawl/pkg/render"
	"snapcrawl/pkg/storage"
	"snapcrawl/pkg/tracker"
	"snapcrawl/pkg/utils"
)

// ArtifactWriter persists one capture artifact and returns its file path
type ArtifactWriter interface {
	Write(pageURL *url.URL, artifact []byte) (string, error)
}

// Crawler orchestrates a bounded breadth-limited crawl, capturing one
// artifact per claimed page
type Crawler struct {
	log      *logrus.Entry // Logger contextualized with seed host
	appCfg   *config.AppConfig
	crawlCfg *config.CrawlConfig

	// Core components
	tracker  *tracker.Tracker
	store    storage.ManifestStore
	pq       *queue.TaskQueue
	renderer render.Renderer
	writer   ArtifactWriter

	// Concurrency control
	renderSemaphore *semaphore.Weighted

	// Tracking and coordination
	wg              sync.WaitGroup // Main WaitGroup for all queued tasks
	pagesCaptured   atomic.Int64
	pagesFailed     atomic.Int64
	claimsRejected  atomic.Int64
	linksDiscovered atomic.Int64
	crawlCtx        context.Context    // Master context for the entire crawl
	cancelCrawl     context.CancelFunc // Function to cancel the crawlCtx
}

// NewCrawler creates and initializes a new Crawler instance
func NewCrawler(
	appCfg *config.AppConfig,
	baseLogger *logrus.Entry, // Base logger from main
	store storage.ManifestStore,
	renderer render.Renderer,
	writer ArtifactWriter,
	crawlCtx context.Context,
	cancelCrawl context.CancelFunc,
) (*Crawler, error) {
	crawlCfg := &appCfg.Crawl

	seedParsed, err := url.ParseRequestURI(crawlCfg.SeedURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing seed URL '%s': %w", utils.ErrConfigValidation, crawlCfg.SeedURL, err)
	}

	// Contextualize logger for this crawl
	logger := baseLogger.WithField("seed_host", seedParsed.Hostname())

	c := &Crawler{
		log:             logger,
		appCfg:          appCfg,
		crawlCfg:        crawlCfg,
		tracker:         tracker.New(crawlCfg.MaxPages),
		store:           store,
		pq:              queue.NewTaskQueue(logger.Logger),
		renderer:        renderer,
		writer:          writer,
		renderSemaphore: semaphore.NewWeighted(int64(appCfg.MaxConcurrentRenders)),
		crawlCtx:        crawlCtx,
		cancelCrawl:     cancelCrawl,
	}

	return c, nil
}

// GetProgress returns a point-in-time snapshot of the running crawl
func (c *Crawler) GetProgress() models.CrawlProgress {
	return models.CrawlProgress{
		PagesCaptured:  c.pagesCaptured.Load(),
		PagesFailed:    c.pagesFailed.Load(),
		ClaimsRejected: c.claimsRejected.Load(),
		PagesQueued:    c.pq.Len(),
		IsRunning:      c.crawlCtx.Err() == nil,
	}
}

// Run starts the crawl and blocks until completion or cancellation.
// The returned stats are valid even when the crawl is cancelled.
func (c *Crawler) Run() (models.CrawlStats, error) {
	runLogFields := logrus.Fields{
		"seed":      c.crawlCfg.SeedURL,
		"max_depth": c.crawlCfg.MaxDepth,
		"max_pages": c.crawlCfg.MaxPages,
	}
	c.log.WithFields(runLogFields).Infof("Crawl starting with %d worker(s)...", c.appCfg.NumWorkers)
	crawlStartTime := time.Now()

	// --- Start Workers ---
	for i := 1; i <= c.appCfg.NumWorkers; i++ {
		// Each worker gets a logger with its ID
		workerLog := c.log.WithField("worker_id", i)
		go c.worker(workerLog)
	}
	c.log.WithFields(runLogFields).Infof("%d workers started.", c.appCfg.NumWorkers)

	// --- Seed the Queue ---
	// The seed is counted and queued before the waiter goroutine exists, so
	// the WaitGroup is never observed at zero while work remains.
	c.log.WithFields(runLogFields).Info("Seeding queue with start URL (Depth 1).")
	c.wg.Add(1)
	if !c.pq.Add(&models.CrawlTask{URL: c.crawlCfg.SeedURL, Depth: 1}) {
		c.wg.Done()
	}

	// --- Waiter Goroutine (Coordinates Progress Reporting & Shutdown) ---
	waiterDone := make(chan struct{})
	go func() {
		defer close(waiterDone) // Signal that the waiter goroutine itself has finished.

		// Progress Reporting Goroutine (nested)
		progTicker := time.NewTicker(30 * time.Second)
		progDone := make(chan bool)
		defer func() {
			progTicker.Stop()
			close(progDone)
		}()
		go func() { // Progress reporting loop
			for {
				select {
				case <-progDone:
					return
				case <-c.crawlCtx.Done():
					return
				case <-progTicker.C: // On each tick, log progress
					c.log.WithFields(logrus.Fields{
						"pages_captured":  c.pagesCaptured.Load(),
						"pages_failed":    c.pagesFailed.Load(),
						"claims_rejected": c.claimsRejected.Load(),
						"queue_len":       c.pq.Len(),
					}).Info("Crawl Progress")
				}
			}
		}()

		// Wait for all queued tasks to drain
		waitTasksDone := make(chan struct{})
		go func() { c.wg.Wait(); close(waitTasksDone) }() // Wait for WG in a separate goroutine
		select {
		case <-waitTasksDone: // WG completed normally
			c.log.Info("Waiter: WaitGroup finished normally (all tasks done).")
		case <-c.crawlCtx.Done(): // Main crawl context cancelled/timed out
			c.log.Warnf("Waiter: Context cancelled/timed out (%v) while waiting for tasks. Initiating shutdown.", c.crawlCtx.Err())
		}

		// Signals workers to stop once the queue drains
		c.pq.Close()
	}()

	// --- Wait for Waiter Goroutine to Finish ---
	select {
	case <-waiterDone: // Waiter completed its sequence (including waiting for wg)
		c.log.Info("Main: Waiter finished signal received.")
	case <-c.crawlCtx.Done(): // Main context cancelled while waiting for waiter
		c.log.Warnf("Main: Crawl context cancelled while waiting for waiter: %v", c.crawlCtx.Err())
		<-waiterDone // Still wait for waiter to finish its cleanup (closing queue)
	}

	// --- Final Summary ---
	stats := models.CrawlStats{
		PagesCaptured:   c.pagesCaptured.Load(),
		PagesFailed:     c.pagesFailed.Load(),
		ClaimsRejected:  c.claimsRejected.Load(),
		LinksDiscovered: c.linksDiscovered.Load(),
		Duration:        time.Since(crawlStartTime),
	}
	summaryLog := c.log.WithFields(runLogFields)
	summaryLog.Info("========================================================================")
	summaryLog.Info("CRAWL FINISHED")
	summaryLog.Infof("Duration:         %v", stats.Duration)
	summaryLog.Infof("Final Stats: Captured: %d, Failed: %d, Claims Rejected: %d, Links Discovered: %d",
		stats.PagesCaptured, stats.PagesFailed, stats.ClaimsRejected, stats.LinksDiscovered)
	if manifestCount, countErr := c.store.GetCapturedCount(); countErr == nil {
		summaryLog.Infof("Manifest entries: %d", manifestCount)
	} else {
		summaryLog.Warnf("Could not read manifest entry count: %v", countErr)
	}
	summaryLog.Info("========================================================================")

	return stats, c.crawlCtx.Err() // nil if completed normally, Canceled/DeadlineExceeded otherwise
}

// worker runs the loop for a single worker goroutine, processing tasks from the queue
func (c *Crawler) worker(workerLog *logrus.Entry) {
	workerLog.Debug("Worker starting")
	defer workerLog.Debug("Worker finished")

	for {
		// Check context before potentially blocking Pop, to allow quick exit if cancelled
		select {
		case <-c.crawlCtx.Done():
			workerLog.Warnf("Worker shutting down due to context cancellation: %v", c.crawlCtx.Err())
			return
		default:
			// Context is active, proceed to Pop
		}

		// Pop blocks until an item is available or the queue is closed and empty
		task, ok := c.pq.Pop()
		if !ok { // Queue closed and empty, means no more work
			if c.crawlCtx.Err() != nil {
				workerLog.Warnf("Worker shutting down (queue closed & context cancelled): %v", c.crawlCtx.Err())
			} else {
				workerLog.Debug("Worker shutting down (queue closed & empty, all tasks processed).")
			}
			return
		}

		c.processCaptureTask(*task, workerLog)
	}
}

// processCaptureTask runs the pipeline for a single URL: claim, render,
// persist, record, and enqueue children. Failures are confined to the task;
// the crawl always continues.
func (c *Crawler) processCaptureTask(task models.CrawlTask, workerLog *logrus.Entry) {
	taskLog := workerLog.WithFields(logrus.Fields{"url": task.URL, "depth": task.Depth})
	startTime := time.Now()

	// Create per-page timeout context if configured
	taskCtx := c.crawlCtx
	if c.appCfg.PerPageTimeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(c.crawlCtx, c.appCfg.PerPageTimeout)
		defer cancel()
	}

	var taskErr error            // First critical error encountered in the pipeline
	var skipped bool             // True if the claim was rejected (duplicate or page cap)
	var claimed bool             // True once the tracker accepted the URL
	var canonicalURL string      // Claim key, also the manifest key
	var pageTitle string         // Populated on successful render
	var savedArtifactPath string // Path of the persisted artifact
	var artifactHash string      // SHA-256 of the artifact bytes
	var finalURLString string    // URL after redirects

	// Deferred function for panic recovery, final status logging, manifest
	// update, and WaitGroup decrement
	defer func() {
		panicked := false
		if r := recover(); r != nil { // Panic recovery
			panicked = true
			skipped = false
			taskErr = fmt.Errorf("panic: %v", r)
			taskLog.WithFields(logrus.Fields{
				"panic_info":  r,
				"duration":    time.Since(startTime).String(),
				"stack_trace": string(debug.Stack()),
			}).Error("PANIC recovered in processCaptureTask")
		}

		// Determine final status and log task outcome
		var finalStatus models.CaptureStatus
		finalErrorType := "None"
		logFields := logrus.Fields{"duration": time.Since(startTime).String()}
		if pageTitle != "" {
			logFields["page_title"] = pageTitle
		}

		if taskErr != nil { // Task failed
			finalStatus = models.CaptureStatusFailure
			finalErrorType = utils.CategorizeError(taskErr)
			logFields["category"] = finalErrorType
			if !panicked { // Panic already logged above
				taskLog.WithFields(logFields).Warnf("Task failed: %v", taskErr)
			}
			c.pagesFailed.Add(1)
		} else if skipped { // Claim rejected, not an attempt
			taskLog.WithFields(logFields).Debug("Task skipped (already claimed or page cap reached)")
			c.claimsRejected.Add(1)
		} else { // Task succeeded
			finalStatus = models.CaptureStatusSuccess
			if savedArtifactPath != "" {
				logFields["saved_path"] = savedArtifactPath
			}
			taskLog.WithFields(logFields).Info("Task completed successfully")
			c.pagesCaptured.Add(1)
		}

		// Update manifest only for claimed URLs; rejected claims belong to
		// whichever task claimed them first
		if claimed {
			entry := &models.CaptureDBEntry{
				Status:      finalStatus,
				ErrorType:   finalErrorType,
				Title:       pageTitle,
				FinalURL:    finalURLString,
				Depth:       task.Depth,
				ParentURL:   task.ParentURL,
				LastAttempt: time.Now(),
			}
			if finalStatus == models.CaptureStatusSuccess {
				entry.CapturedAt = entry.LastAttempt
				entry.ArtifactPath = savedArtifactPath
				entry.ArtifactSHA256 = artifactHash
			}
			if dbErr := c.store.UpdateCapture(canonicalURL, entry); dbErr != nil {
				taskLog.Errorf("Failed update final manifest status for '%s' to '%s': %v", canonicalURL, finalStatus, dbErr)
			}
		}

		c.wg.Done() // Decrement main WaitGroup, signaling this task is finished
	}()

	// 1. Parse and canonicalize the task URL
	canonical, parsedURL, parseErr := parse.ParseAndCanonicalize(task.URL)
	if parseErr != nil {
		taskErr = fmt.Errorf("%w: parsing URL '%s': %w", utils.ErrParsing, task.URL, parseErr)
		return
	}
	canonicalURL = canonical

	// 2. Claim the URL. This is the single point where duplicates and the
	// page cap are enforced; a false here means another task owns the URL
	// or the budget is spent.
	if !c.tracker.TryClaim(canonicalURL) {
		skipped = true
		return
	}
	claimed = true

	if added, pendErr := c.store.RecordPending(canonicalURL); pendErr != nil {
		taskLog.Warnf("Failed recording pending manifest entry, continuing: %v", pendErr)
	} else if !added {
		// A fresh claim should never find an existing manifest key; report
		// what is already there and carry on
		prevStatus, _, _ := c.store.CheckCapture(canonicalURL)
		taskLog.Warnf("Manifest already holds an entry for '%s' (status: %s), overwriting", canonicalURL, prevStatus)
	}

	// 3. Acquire render slot
	semCtx, semCancel := context.WithTimeout(c.crawlCtx, c.appCfg.SemaphoreAcquireTimeout)
	defer semCancel()
	if semErr := c.renderSemaphore.Acquire(semCtx, 1); semErr != nil {
		taskErr = fmt.Errorf("%w: acquire render slot: %w", utils.ErrSemaphoreTimeout, semErr)
		return
	}

	// 4. Render the page (navigate, wait for load, capture, extract links)
	result, renderErr := c.renderer.Render(taskCtx, task.URL)
	c.renderSemaphore.Release(1)
	if renderErr != nil {
		taskErr = renderErr
		return
	}
	pageTitle = result.Title
	finalURLString = result.FinalURL

	// 5. Persist the artifact
	nameURL := parsedURL
	if finalParsed, errFinal := url.Parse(result.FinalURL); errFinal == nil && finalParsed.Host != "" {
		nameURL = finalParsed
	}
	savedPath, writeErr := c.writer.Write(nameURL, result.Artifact)
	if writeErr != nil {
		taskErr = writeErr
		return
	}
	savedArtifactPath = savedPath
	artifactHash = utils.CalculateSHA256(result.Artifact)

	// 6. Enqueue children unless this task sits at the depth limit
	if task.Depth < c.crawlCfg.MaxDepth {
		enqueued := c.filterAndEnqueueLinks(result.Links, nameURL, task.Depth+1, taskLog)
		if enqueued > 0 {
			taskLog.Debugf("Enqueued %d child links", enqueued)
		}
	}
}
