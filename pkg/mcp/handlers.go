package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"snapcrawl/pkg/config"
	"snapcrawl/pkg/crawler"
	"snapcrawl/pkg/output"
	"snapcrawl/pkg/render"
	"snapcrawl/pkg/storage"
)

// handleCapturePage handles the capture_page tool
func (s *Server) handleCapturePage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	urlStr := request.GetString("url", "")
	if urlStr == "" {
		return mcp.NewToolResultError("url parameter is required"), nil
	}

	parsedURL, err := url.ParseRequestURI(urlStr)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid URL: %v", err)), nil
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return mcp.NewToolResultError(fmt.Sprintf("unsupported scheme: %s", parsedURL.Scheme)), nil
	}

	// Apply per-call overrides on a copy of the app config
	appCfgCopy := *s.cfg.AppConfig
	if ft := request.GetString("file_type", ""); ft != "" {
		fileType := config.FileType(ft)
		if !fileType.IsValid() {
			return mcp.NewToolResultError(fmt.Sprintf("invalid file_type: %s (supported: png, jpeg, webp, pdf)", ft)), nil
		}
		appCfgCopy.Crawl.FileType = fileType
	}
	if res := request.GetString("resolution", ""); res != "" {
		resolution, errRes := config.ParseResolution(res)
		if errRes != nil {
			return mcp.NewToolResultError(errRes.Error()), nil
		}
		appCfgCopy.Crawl.Resolution = resolution
	}

	startTime := time.Now()

	renderer, err := render.NewRodRenderer(&appCfgCopy, s.log)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to launch browser: %v", err)), nil
	}
	defer renderer.Close()

	renderCtx := ctx
	if appCfgCopy.PerPageTimeout > 0 {
		var cancel context.CancelFunc
		renderCtx, cancel = context.WithTimeout(ctx, appCfgCopy.PerPageTimeout)
		defer cancel()
	}

	result, err := renderer.Render(renderCtx, urlStr)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to render page: %v", err)), nil
	}

	writer, err := output.NewWriter(appCfgCopy.Crawl.OutputDir, appCfgCopy.Crawl.FileType, s.log)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to prepare output directory: %v", err)), nil
	}
	nameURL := parsedURL
	if finalParsed, errFinal := url.Parse(result.FinalURL); errFinal == nil && finalParsed.Host != "" {
		nameURL = finalParsed
	}
	artifactPath, err := writer.Write(nameURL, result.Artifact)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to save artifact: %v", err)), nil
	}

	response := map[string]interface{}{
		"url":             urlStr,
		"final_url":       result.FinalURL,
		"title":           result.Title,
		"artifact_path":   artifactPath,
		"file_type":       string(appCfgCopy.Crawl.FileType),
		"artifact_bytes":  len(result.Artifact),
		"links_found":     len(result.Links),
		"capture_time_ms": time.Since(startTime).Milliseconds(),
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleStartCrawl handles the start_crawl tool
func (s *Server) handleStartCrawl(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	seedURL := request.GetString("seed_url", "")
	if seedURL == "" {
		return mcp.NewToolResultError("seed_url parameter is required"), nil
	}

	// Build the effective crawl config from the server config plus overrides
	appCfgCopy := *s.cfg.AppConfig
	appCfgCopy.Crawl.SeedURL = seedURL
	if maxDepth := request.GetInt("max_depth", 0); maxDepth > 0 {
		appCfgCopy.Crawl.MaxDepth = maxDepth
	}
	if maxPages := request.GetInt("max_pages", 0); maxPages > 0 {
		appCfgCopy.Crawl.MaxPages = maxPages
	}
	if request.GetBool("follow_external", false) {
		appCfgCopy.Crawl.FollowExternal = true
	}
	if ft := request.GetString("file_type", ""); ft != "" {
		appCfgCopy.Crawl.FileType = config.FileType(ft)
	}
	if _, err := appCfgCopy.Crawl.Validate(); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid crawl parameters: %v", err)), nil
	}

	// Check if already running
	if s.jobManager.IsRunning(seedURL) {
		existingJob := s.jobManager.GetJobBySeed(seedURL)
		result := map[string]interface{}{
			"status":   "already_running",
			"message":  "A crawl is already in progress for this seed URL",
			"job_id":   existingJob.ID,
			"seed_url": seedURL,
		}
		return mcp.NewToolResultText(formatJSON(result)), nil
	}

	// Create job
	job, err := s.jobManager.CreateJob(seedURL)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create job: %v", err)), nil
	}

	// Start crawl in background
	go s.runCrawlJob(job, &appCfgCopy)

	result := map[string]interface{}{
		"status":    "started",
		"message":   "Crawl started successfully",
		"job_id":    job.ID,
		"seed_url":  seedURL,
		"max_depth": appCfgCopy.Crawl.MaxDepth,
		"max_pages": appCfgCopy.Crawl.MaxPages,
	}

	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleGetJobStatus handles the get_job_status tool
func (s *Server) handleGetJobStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := request.GetString("job_id", "")
	if jobID == "" {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}

	job := s.jobManager.GetJob(jobID)
	if job == nil {
		return mcp.NewToolResultError(fmt.Sprintf("job '%s' not found", jobID)), nil
	}

	result := map[string]interface{}{
		"job_id":         job.ID,
		"seed_url":       job.SeedURL,
		"status":         job.Status,
		"started_at":     job.StartedAt.Format(time.RFC3339),
		"pages_captured": job.PagesCaptured,
		"pages_failed":   job.PagesFailed,
		"pages_queued":   job.PagesQueued,
	}

	if !job.CompletedAt.IsZero() {
		result["completed_at"] = job.CompletedAt.Format(time.RFC3339)
		result["duration_seconds"] = job.CompletedAt.Sub(job.StartedAt).Seconds()
	}

	if job.ErrorMessage != "" {
		result["error_message"] = job.ErrorMessage
	}

	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleListJobs handles the list_jobs tool
func (s *Server) handleListJobs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobs := s.jobManager.ListJobs()

	jobList := make([]map[string]interface{}, 0, len(jobs))
	for _, job := range jobs {
		info := map[string]interface{}{
			"job_id":         job.ID,
			"seed_url":       job.SeedURL,
			"status":         job.Status,
			"started_at":     job.StartedAt.Format(time.RFC3339),
			"pages_captured": job.PagesCaptured,
		}
		if !job.CompletedAt.IsZero() {
			info["completed_at"] = job.CompletedAt.Format(time.RFC3339)
		}
		jobList = append(jobList, info)
	}

	result := map[string]interface{}{
		"jobs":       jobList,
		"total_jobs": len(jobList),
	}

	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleCancelJob handles the cancel_job tool
func (s *Server) handleCancelJob(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := request.GetString("job_id", "")
	if jobID == "" {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}

	if !s.jobManager.CancelJob(jobID) {
		return mcp.NewToolResultError(fmt.Sprintf("job '%s' not found or not running", jobID)), nil
	}

	result := map[string]interface{}{
		"status":  "cancelled",
		"job_id":  jobID,
		"message": "Job cancellation requested",
	}

	return mcp.NewToolResultText(formatJSON(result)), nil
}

// runCrawlJob runs a crawl job in the background
func (s *Server) runCrawlJob(job *Job, appCfg *config.AppConfig) {
	s.jobManager.UpdateStatus(job.ID, JobStatusRunning, "")

	jobCtx := s.jobManager.GetContext(job.ID)

	seedParsed, err := url.ParseRequestURI(appCfg.Crawl.SeedURL)
	if err != nil {
		s.jobManager.UpdateStatus(job.ID, JobStatusFailed, fmt.Sprintf("invalid seed URL: %v", err))
		return
	}

	// Open a fresh manifest store for this job
	store, err := storage.NewBadgerStore(jobCtx, appCfg.StateDir, seedParsed.Hostname(), s.log)
	if err != nil {
		s.jobManager.UpdateStatus(job.ID, JobStatusFailed, fmt.Sprintf("failed to open store: %v", err))
		return
	}
	defer store.Close()

	renderer, err := render.NewRodRenderer(appCfg, s.log)
	if err != nil {
		s.jobManager.UpdateStatus(job.ID, JobStatusFailed, fmt.Sprintf("failed to launch browser: %v", err))
		return
	}
	defer renderer.Close()

	writer, err := output.NewWriter(appCfg.Crawl.OutputDir, appCfg.Crawl.FileType, s.log)
	if err != nil {
		s.jobManager.UpdateStatus(job.ID, JobStatusFailed, fmt.Sprintf("failed to prepare output directory: %v", err))
		return
	}

	crawlerCtx, cancelCrawl := context.WithCancel(jobCtx)
	defer cancelCrawl()

	crawlerInstance, err := crawler.NewCrawler(appCfg, s.log, store, renderer, writer, crawlerCtx, cancelCrawl)
	if err != nil {
		s.jobManager.UpdateStatus(job.ID, JobStatusFailed, fmt.Sprintf("failed to create crawler: %v", err))
		return
	}

	// Poll crawl progress into the job record while the crawl runs
	pollDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-pollDone:
				return
			case <-crawlerCtx.Done():
				return
			case <-ticker.C:
				progress := crawlerInstance.GetProgress()
				s.jobManager.UpdateProgress(job.ID, progress.PagesCaptured, progress.PagesFailed, int64(progress.PagesQueued))
			}
		}
	}()

	stats, runErr := crawlerInstance.Run()
	close(pollDone)
	s.jobManager.UpdateProgress(job.ID, stats.PagesCaptured, stats.PagesFailed, 0)

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			s.jobManager.UpdateStatus(job.ID, JobStatusCancelled, "")
		} else {
			s.jobManager.UpdateStatus(job.ID, JobStatusFailed, runErr.Error())
		}
		return
	}

	s.jobManager.UpdateStatus(job.ID, JobStatusCompleted, "")
}

// formatJSON formats data as an indented JSON string
func formatJSON(data map[string]interface{}) string {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("{\"error\": %q}", err.Error())
	}
	return string(b)
}
