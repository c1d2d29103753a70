package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"snapcrawl/pkg/config"
	"snapcrawl/pkg/crawler"
	"snapcrawl/pkg/output"
	"snapcrawl/pkg/render"
	"snapcrawl/pkg/storage"
	"snapcrawl/pkg/utils"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "crawl":
		runCrawl(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "mcp-server":
		runMcpServer(os.Args[2:])
	case "version":
		fmt.Printf("snapcrawl %s\n", version)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	printUsageTo(os.Stdout)
}

// printUsageTo writes usage information to the provided writer.
func printUsageTo(w io.Writer) {
	fmt.Fprintln(w, `snapcrawl - Bounded website snapshot crawler

Usage:
  snapcrawl <command> [options]

Commands:
  crawl       Crawl from a seed URL, capturing a screenshot or PDF per page
  validate    Validate configuration file
  mcp-server  Start MCP server for AI tool integration
  version     Show version info

Run 'snapcrawl <command> -h' for command-specific help.`)
}

// runCrawl handles the crawl subcommand
func runCrawl(args []string) {
	fs := flag.NewFlagSet("crawl", flag.ExitOnError)
	seedURL := fs.String("url", "", "Seed URL to start crawling from (required)")
	configFile := fs.String("config", "", "Path to config file (optional)")
	maxDepth := fs.Int("depth", 0, "Link depth limit; 1 captures only the seed page")
	maxPages := fs.Int("max-pages", 0, "Global cap on pages captured")
	followExternal := fs.Bool("follow-external", false, "Follow links to other origins")
	fileType := fs.String("type", "", "Artifact format: png, jpeg, webp, pdf")
	resolution := fs.String("resolution", "", "Viewport as WIDTHxHEIGHT, e.g. 1920x1080")
	outputDir := fs.String("out", "", "Directory for captured artifacts")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	writeVisitedLog := fs.Bool("write-visited-log", false, "Write visited URLs log on completion")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: snapcrawl crawl [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  snapcrawl crawl -url https://example.com\n")
		fmt.Fprintf(os.Stderr, "  snapcrawl crawl -url https://example.com -depth 2 -max-pages 50 -type pdf\n")
		fmt.Fprintf(os.Stderr, "  snapcrawl crawl -url https://example.com -resolution 1920x1080 -out ./captures\n")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if *seedURL == "" {
		fmt.Fprintln(os.Stderr, "Error: -url is required")
		fs.Usage()
		os.Exit(1)
	}

	executeCrawl(*configFile, *seedURL, *maxDepth, *maxPages, *followExternal,
		*fileType, *resolution, *outputDir, *logLevel, *writeVisitedLog)
}

// runValidate handles the validate subcommand
func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: snapcrawl validate [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	exitCode := doValidate(*configFile, os.Stdout, os.Stderr)
	os.Exit(exitCode)
}

// doValidate performs validation and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doValidate(configPath string, stdout, stderr io.Writer) int {
	appCfg, err := config.LoadAppConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}

	// Crawl settings are optional in the file (the CLI can supply them), so
	// only validate them when a seed is present
	if appCfg.Crawl.SeedURL != "" {
		crawlWarnings, err := appCfg.Crawl.Validate()
		for _, w := range crawlWarnings {
			fmt.Fprintf(stdout, "WARN: %s\n", w)
		}
		if err != nil {
			fmt.Fprintf(stderr, "ERROR: %v\n", err)
			return 1
		}
	}

	fmt.Fprintln(stdout, "\nConfiguration valid.")
	return 0
}

// setupLogger creates a configured logrus.Logger with the given log level.
func setupLogger(logLevelStr string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	log.SetLevel(logrus.InfoLevel)

	level, err := logrus.ParseLevel(logLevelStr)
	if err != nil {
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", logLevelStr, err)
	} else {
		log.SetLevel(level)
	}

	return log
}

// applyCrawlOverrides applies CLI flag overrides on top of the loaded config.
// A fatal error here is a configuration error; the run never starts.
func applyCrawlOverrides(appCfg *config.AppConfig, seedURL string, maxDepth, maxPages int,
	followExternal bool, fileType, resolution, outputDir string, log *logrus.Logger) {
	appCfg.Crawl.SeedURL = seedURL
	if maxDepth > 0 {
		appCfg.Crawl.MaxDepth = maxDepth
	}
	if maxPages > 0 {
		appCfg.Crawl.MaxPages = maxPages
	}
	if followExternal {
		appCfg.Crawl.FollowExternal = true
	}
	if fileType != "" {
		appCfg.Crawl.FileType = config.FileType(fileType)
	}
	if resolution != "" {
		res, err := config.ParseResolution(resolution)
		if err != nil {
			log.Fatalf("Invalid resolution: %v", err)
		}
		appCfg.Crawl.Resolution = res
	}
	if outputDir != "" {
		appCfg.Crawl.OutputDir = outputDir
	}
}

// executeCrawl contains the main crawl logic
func executeCrawl(configFile, seedURL string, maxDepth, maxPages int, followExternal bool,
	fileType, resolution, outputDir, logLevelStr string, writeVisitedLog bool) {
	log := setupLogger(logLevelStr)

	// --- Load Configuration ---
	appCfg, err := config.LoadAppConfig(configFile)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}
	applyCrawlOverrides(appCfg, seedURL, maxDepth, maxPages, followExternal, fileType, resolution, outputDir, log)

	appWarnings, err := appCfg.Validate()
	for _, w := range appWarnings {
		log.Warn(w)
	}
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	crawlWarnings, err := appCfg.Crawl.Validate()
	for _, w := range crawlWarnings {
		log.Warn(w)
	}
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	log.Infof("Crawl Config: Seed:%s, MaxDepth:%d, MaxPages:%d, FollowExternal:%t, FileType:%s, Resolution:%s",
		appCfg.Crawl.SeedURL, appCfg.Crawl.MaxDepth, appCfg.Crawl.MaxPages,
		appCfg.Crawl.FollowExternal, appCfg.Crawl.FileType, appCfg.Crawl.Resolution)
	log.Infof("Global Config: Workers:%d, ConcurrentRenders:%d, StateDir:%s, OutputDir:%s",
		appCfg.NumWorkers, appCfg.MaxConcurrentRenders, appCfg.StateDir, appCfg.Crawl.OutputDir)

	seedParsed, err := url.ParseRequestURI(appCfg.Crawl.SeedURL)
	if err != nil {
		log.Fatalf("Invalid seed URL: %v", err)
	}

	// ===========================================================
	// == Setup Global Context & Signal Handling ==
	// ===========================================================
	var crawlCtx context.Context
	var cancelCrawl context.CancelFunc

	if appCfg.GlobalCrawlTimeout > 0 {
		log.Infof("Setting global crawl timeout: %v", appCfg.GlobalCrawlTimeout)
		crawlCtx, cancelCrawl = context.WithTimeout(context.Background(), appCfg.GlobalCrawlTimeout)
	} else {
		crawlCtx, cancelCrawl = context.WithCancel(context.Background())
	}
	defer cancelCrawl()

	// Channel to listen for OS signals for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Goroutine to handle signals
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("PANIC in signal handler: %v", r)
			}
		}()
		sig := <-sigChan
		log.Warnf("Received signal: %v. Initiating graceful shutdown...", sig)
		cancelCrawl()

		select {
		case sig = <-sigChan:
			log.Warnf("Received second signal: %v. Forcing exit.", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			log.Warn("Graceful shutdown period exceeded after signal. Forcing exit.")
			os.Exit(1)
		}
	}()
	defer signal.Stop(sigChan)

	// ===========================================================
	// == Initialize Components ==
	// ===========================================================
	log.Info("Initializing components...")
	logEntry := log.WithField("component", "crawl")

	// --- Manifest Storage ---
	store, err := storage.NewBadgerStore(crawlCtx, appCfg.StateDir, seedParsed.Hostname(), logEntry)
	if err != nil {
		log.Fatalf("Failed to initialize manifest DB: %v", err)
	}
	defer store.Close()

	go store.RunGC(crawlCtx, 10*time.Minute)

	// --- Output Writer ---
	writer, err := output.NewWriter(appCfg.Crawl.OutputDir, appCfg.Crawl.FileType, logEntry)
	if err != nil {
		log.Fatalf("Failed to prepare output directory: %v", err)
	}

	// --- Headless Browser ---
	renderer, err := render.NewRodRenderer(appCfg, logEntry)
	if err != nil {
		log.Fatalf("Failed to launch headless browser: %v", err)
	}
	defer renderer.Close()

	// --- Crawler Instance ---
	crawlerInstance, err := crawler.NewCrawler(appCfg, logEntry, store, renderer, writer, crawlCtx, cancelCrawl)
	if err != nil {
		log.Fatalf("Failed to initialize crawler: %v", err)
	}

	// ===========================================================
	// == Start Crawler Execution ==
	// ===========================================================
	stats, err := crawlerInstance.Run()

	// ===========================================================
	// == Post-Crawl Actions ==
	// ===========================================================

	// --- Final Visited Log File Generation (Optional) ---
	if crawlCtx.Err() != nil {
		log.Warnf("Skipping final visited log due to crawl context error: %v", crawlCtx.Err())
	} else if writeVisitedLog {
		visitedFilename := fmt.Sprintf("%s-visited.txt", utils.SanitizeFilename(seedParsed.Hostname()))
		visitedFilePath := filepath.Join(appCfg.Crawl.OutputDir, visitedFilename)
		if writeErr := store.WriteVisitedLog(visitedFilePath); writeErr != nil {
			log.Errorf("Error writing final visited log: %v", writeErr)
		}
	}

	// --- Completion summary, printed even on cancellation ---
	fmt.Printf("Captured %d page(s) in %v (%d failed, %d duplicate claims rejected). Artifacts in %s\n",
		stats.PagesCaptured, stats.Duration.Round(time.Millisecond), stats.PagesFailed,
		stats.ClaimsRejected, appCfg.Crawl.OutputDir)

	// --- Exit ---
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Warn("Crawl cancelled gracefully.")
			os.Exit(0)
		} else if errors.Is(err, context.DeadlineExceeded) {
			log.Error("Crawl timed out (global timeout).")
			os.Exit(1)
		} else {
			log.Errorf("Crawl finished with error: %v", err)
			os.Exit(1)
		}
	}

	log.Info("Crawl completed successfully.")
	os.Exit(0)
}
