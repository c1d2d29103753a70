package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"snapcrawl/pkg/config"
)

const (
	serverName    = "snapcrawl"
	serverVersion = "1.0.0"
)

// ServerConfig holds configuration for the MCP server
type ServerConfig struct {
	AppConfig  *config.AppConfig
	ConfigPath string
	Transport  string // "stdio" or "sse"
	Port       int
	Logger     *logrus.Logger
}

// Server wraps the MCP server with snapcrawl specific functionality
type Server struct {
	mcpServer  *server.MCPServer
	cfg        *ServerConfig
	log        *logrus.Entry
	jobManager *JobManager
}

// NewServer creates a new MCP server instance
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("AppConfig is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	// Create the MCP server
	mcpServer := server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithLogging(),
	)

	s := &Server{
		mcpServer:  mcpServer,
		cfg:        cfg,
		log:        cfg.Logger.WithField("component", "mcp"),
		jobManager: NewJobManager(),
	}

	// Register all tools
	s.registerTools()

	return s, nil
}

// registerTools registers all available MCP tools
func (s *Server) registerTools() {
	// capture_page - Capture a single URL
	capturePageTool := mcp.NewTool("capture_page",
		mcp.WithDescription("Render a single URL in a headless browser and save a screenshot or PDF"),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The URL to capture"),
		),
		mcp.WithString("file_type",
			mcp.Description("Artifact format: png, jpeg, webp, or pdf (defaults to config)"),
		),
		mcp.WithString("resolution",
			mcp.Description("Viewport as WIDTHxHEIGHT, e.g. 1920x1080 (defaults to config)"),
		),
	)
	s.mcpServer.AddTool(capturePageTool, s.handleCapturePage)

	// start_crawl - Start a background crawl
	startCrawlTool := mcp.NewTool("start_crawl",
		mcp.WithDescription("Start a background crawl from a seed URL, capturing one artifact per page. Returns immediately with a job ID."),
		mcp.WithString("seed_url",
			mcp.Required(),
			mcp.Description("The URL to start crawling from"),
		),
		mcp.WithNumber("max_depth",
			mcp.Description("Link depth limit; 1 captures only the seed page (defaults to config)"),
		),
		mcp.WithNumber("max_pages",
			mcp.Description("Global cap on pages captured (defaults to config)"),
		),
		mcp.WithBoolean("follow_external",
			mcp.Description("Follow links to other origins (default: false)"),
		),
		mcp.WithString("file_type",
			mcp.Description("Artifact format: png, jpeg, webp, or pdf (defaults to config)"),
		),
	)
	s.mcpServer.AddTool(startCrawlTool, s.handleStartCrawl)

	// get_job_status - Check status of a crawl job
	getJobStatusTool := mcp.NewTool("get_job_status",
		mcp.WithDescription("Get the status of a crawl job"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("The job ID returned by start_crawl"),
		),
	)
	s.mcpServer.AddTool(getJobStatusTool, s.handleGetJobStatus)

	// list_jobs - List all known jobs
	listJobsTool := mcp.NewTool("list_jobs",
		mcp.WithDescription("List all crawl jobs known to this server"),
	)
	s.mcpServer.AddTool(listJobsTool, s.handleListJobs)

	// cancel_job - Cancel a running crawl job
	cancelJobTool := mcp.NewTool("cancel_job",
		mcp.WithDescription("Cancel a running crawl job"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("The job ID to cancel"),
		),
	)
	s.mcpServer.AddTool(cancelJobTool, s.handleCancelJob)

	s.log.Infof("Registered %d MCP tools", 5)
}

// Run starts the MCP server with the configured transport
func (s *Server) Run() error {
	switch s.cfg.Transport {
	case "stdio":
		s.log.Info("Starting MCP server with stdio transport")
		return server.ServeStdio(s.mcpServer)
	case "sse":
		addr := fmt.Sprintf(":%d", s.cfg.Port)
		s.log.Infof("Starting MCP server with SSE transport on %s", addr)
		sseServer := server.NewSSEServer(s.mcpServer)
		return sseServer.Start(addr)
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio, sse)", s.cfg.Transport)
	}
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down MCP server...")
	// Cancel any running jobs
	s.jobManager.CancelAll()
	return nil
}
