package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"snapcrawl/pkg/config"
	"snapcrawl/pkg/mcp"
)

// runMcpServer handles the mcp-server subcommand
func runMcpServer(args []string) {
	fs := flag.NewFlagSet("mcp-server", flag.ExitOnError)
	configFile := fs.String("config", "", "Path to config file (optional)")
	transport := fs.String("transport", "stdio", "Transport type (stdio, sse)")
	port := fs.Int("port", 8080, "HTTP port (for sse transport)")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: snapcrawl mcp-server [options]

Start an MCP (Model Context Protocol) server for AI tool integration.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Start with stdio transport (for Claude Desktop)
  snapcrawl mcp-server

  # Start with SSE transport on port 8080
  snapcrawl mcp-server -transport sse -port 8080

Available MCP Tools:
  capture_page    Capture a single URL as a screenshot or PDF
  start_crawl     Start a background crawl from a seed URL
  get_job_status  Check status of a crawl job
  list_jobs       List all crawl jobs
  cancel_job      Cancel a running crawl job
`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	exitCode := doMcpServer(*configFile, *transport, *port, *logLevel, os.Stdout, os.Stderr)
	os.Exit(exitCode)
}

// doMcpServer is the testable implementation of the MCP server
func doMcpServer(configPath, transport string, port int, logLevel string, stdout, stderr io.Writer) int {
	// Setup logger
	log := logrus.New()
	log.SetOutput(stderr) // MCP protocol uses stdout, logs go to stderr
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		fmt.Fprintf(stderr, "Invalid log level: %s\n", logLevel)
		return 1
	}
	log.SetLevel(level)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05",
	})

	// Load config. The seed URL arrives per start_crawl call, so only the
	// ambient settings need to validate here.
	appCfg, err := config.LoadAppConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return 1
	}
	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		log.Warn(w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Configuration error: %v\n", err)
		return 1
	}

	// Crawl defaults for per-call overrides; the seed arrives with each
	// start_crawl request
	if appCfg.Crawl.OutputDir == "" {
		appCfg.Crawl.OutputDir = "./screenshots"
	}
	if appCfg.Crawl.FileType == "" {
		appCfg.Crawl.FileType = config.FileTypePNG
	}
	if appCfg.Crawl.Resolution.Width == 0 {
		appCfg.Crawl.Resolution = config.Resolution{Width: 1920, Height: 1080}
	}
	if appCfg.Crawl.MaxDepth == 0 {
		appCfg.Crawl.MaxDepth = 1
	}
	if appCfg.Crawl.MaxPages == 0 {
		appCfg.Crawl.MaxPages = 10
	}

	// Create and run MCP server
	serverCfg := &mcp.ServerConfig{
		AppConfig:  appCfg,
		ConfigPath: configPath,
		Transport:  transport,
		Port:       port,
		Logger:     log,
	}

	server, err := mcp.NewServer(serverCfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error creating MCP server: %v\n", err)
		return 1
	}

	log.Infof("Starting MCP server (transport: %s)", transport)

	if err := server.Run(); err != nil {
		fmt.Fprintf(stderr, "MCP server error: %v\n", err)
		return 1
	}

	return 0
}
