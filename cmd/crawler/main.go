package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/ics-crawler/pkg/config"
	"github.com/Sriram-PR/ics-crawler/pkg/crawler"
	"github.com/Sriram-PR/ics-crawler/pkg/fetch"
	"github.com/Sriram-PR/ics-crawler/pkg/process"
	"github.com/Sriram-PR/ics-crawler/pkg/stats"
	"github.com/Sriram-PR/ics-crawler/pkg/storage"
	"github.com/Sriram-PR/ics-crawler/pkg/utils"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "crawl":
		runCrawl(os.Args[2:], false)
	case "resume":
		runCrawl(os.Args[2:], true)
	case "stats":
		runStats(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "version":
		fmt.Printf("ics-crawler %s\n", version)
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
	fmt.Fprintln(w, `ics-crawler - polite crawler for the UCI ICS domains

Usage:
  ics-crawler <command> [options]

Commands:
  crawl       Start a fresh crawl (discards frontier and stats)
  resume      Resume an interrupted crawl
  stats       Print the report for a stats file
  validate    Validate configuration file
  version     Show version info

Run 'ics-crawler <command> -h' for command-specific help.`)
}

// loadConfig loads and parses the config file
func loadConfig(path string) (*config.AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg config.AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// runCrawl handles both crawl and resume subcommands
func runCrawl(args []string, isResume bool) {
	cmdName := "crawl"
	if isResume {
		cmdName = "resume"
	}

	fs := flag.NewFlagSet(cmdName, flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	pprofAddr := fs.String("pprof", "", "pprof address, e.g. localhost:6060 (disabled by default)")
	writeVisitedLog := fs.Bool("write-visited-log", false, "Write url/state log of the frontier on completion")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ics-crawler %s [options]\n\nOptions:\n", cmdName)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(executeCrawl(*configFile, *logLevel, *pprofAddr, *writeVisitedLog, isResume))
}

// runValidate handles the validate subcommand
func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ics-crawler validate [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doValidate(*configFile, os.Stdout, os.Stderr))
}

// doValidate performs validation and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doValidate(configPath string, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
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

	fmt.Fprintf(stdout, "OK: %d seed(s), %d allowed domain(s), %d worker(s), politeness %v per host (%s scope)\n",
		len(appCfg.SeedURLs), len(appCfg.Filter.AllowedDomains), appCfg.NumWorkers,
		appCfg.PolitenessDelay, appCfg.PolitenessScope)
	fmt.Fprintln(stdout, "\nConfiguration valid.")
	return 0
}

// runStats handles the stats subcommand
func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file (used for stats_file)")
	statsFile := fs.String("file", "", "Stats file to read (overrides the config)")
	topN := fs.Int("top", stats.DefaultReportTopN, "Number of most common words to list")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ics-crawler stats [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doStats(*configFile, *statsFile, *topN, os.Stdout, os.Stderr))
}

// doStats prints the report for a persisted stats file. An explicit statsFile
// skips loading the config entirely.
func doStats(configPath, statsFile string, topN int, stdout, stderr io.Writer) int {
	if statsFile == "" {
		appCfg, err := loadConfig(configPath)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		if _, err := appCfg.Validate(); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		statsFile = appCfg.StatsFile
	}

	log := logrus.New()
	log.SetOutput(stderr)
	log.SetLevel(logrus.WarnLevel)

	agg, err := stats.Load(statsFile, logrus.NewEntry(log))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := agg.WriteReport(stdout, topN); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
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
		log.Infof("Setting log level to: %s", level.String())
	}

	return log
}

// loadAndValidateConfig loads the config file, validates it, and logs warnings.
func loadAndValidateConfig(configFile string, log *logrus.Entry) (*config.AppConfig, error) {
	log.Infof("Loading configuration from %s", configFile)
	appCfg, err := loadConfig(configFile)
	if err != nil {
		return nil, err
	}

	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		log.Warn(w)
	}
	if err != nil {
		return nil, err
	}
	return appCfg, nil
}

// startPprof starts the pprof HTTP server if addr is non-empty.
func startPprof(addr string, log *logrus.Entry) {
	if addr != "" {
		runtime.SetBlockProfileRate(1000)
		runtime.SetMutexProfileFraction(1000)
		go func() {
			log.Infof("Starting pprof server at http://%s/debug/pprof/", addr)
			if err := http.ListenAndServe(addr, nil); err != nil {
				log.Errorf("pprof server error: %v", err)
			}
		}()
	}
}

// handleSignals cancels the crawl on the first SIGINT/SIGTERM and forces an exit
// on a second signal or when graceful shutdown takes longer than 30s.
func handleSignals(cancel context.CancelFunc, log *logrus.Entry) (stop func()) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("PANIC in signal handler: %v", r)
			}
		}()
		var sig os.Signal
		select {
		case sig = <-sigChan:
		case <-done:
			return
		}
		log.Warnf("Received signal: %v. Initiating graceful shutdown...", sig)
		cancel()

		select {
		case sig = <-sigChan:
			log.Warnf("Received second signal: %v. Forcing exit.", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			log.Warn("Graceful shutdown period exceeded after signal. Forcing exit.")
			os.Exit(1)
		case <-done:
		}
	}()

	return func() {
		signal.Stop(sigChan)
		close(done)
	}
}

// executeCrawl wires the components, runs the crawl and returns the process exit code.
func executeCrawl(configFile, logLevelStr, pprofAddr string, writeVisitedLog, isResume bool) int {
	base := setupLogger(logLevelStr)
	log := base.WithField("run_id", uuid.NewString())

	appCfg, err := loadAndValidateConfig(configFile, log)
	if err != nil {
		log.Errorf("Config error: %v", err)
		return 1
	}
	logAppConfig(appCfg, log)
	if isResume {
		log.Info("Resume mode: continuing from persisted frontier and stats")
	} else {
		log.Info("Fresh crawl: discarding persisted frontier and stats")
	}

	startPprof(pprofAddr, log)

	crawlCtx, cancelCrawl := context.WithCancel(context.Background())
	defer cancelCrawl()
	stopSignals := handleSignals(cancelCrawl, log)
	defer stopSignals()

	// --- Storage ---
	store, err := storage.NewBadgerStore(crawlCtx, appCfg.StateDir, appCfg.PrimaryDomain, isResume, appCfg.SyncWrites(),
		log.WithField("component", "storage"))
	if err != nil {
		log.Errorf("Failed to initialize frontier store: %v", err)
		return 1
	}
	defer store.Close()

	// --- Stats ---
	statsLog := log.WithField("component", "stats")
	stopwords, err := stats.LoadStopwords(appCfg.StopwordsFile, statsLog)
	if err != nil {
		log.Errorf("Failed to load stopwords: %v", err)
		return 1
	}
	aggregator, err := stats.NewAggregator(appCfg.StatsFile, stopwords, appCfg.PrimaryDomain, isResume, statsLog)
	if err != nil {
		log.Errorf("Failed to initialize stats: %v", err)
		return 1
	}

	// --- HTTP Fetching ---
	fetchLog := log.WithField("component", "fetch")
	httpClient, err := fetch.NewClient(appCfg.HTTPClientSettings, appCfg.CacheServer, fetchLog)
	if err != nil {
		log.Errorf("Failed to initialize HTTP client: %v", err)
		return 1
	}
	fetcher := fetch.NewFetcher(httpClient, appCfg, fetchLog)

	// --- Crawler Instance ---
	crawlerInstance, err := crawler.New(crawlCtx, appCfg, crawler.Dependencies{
		Store:     store,
		Fetcher:   fetcher,
		Stats:     aggregator,
		Extractor: process.GoqueryExtractor{},
	}, log.WithField("component", "crawler"))
	if err != nil {
		log.Errorf("Failed to initialize crawler: %v", err)
		return 1
	}

	err = crawlerInstance.Run(crawlCtx)

	// --- Post-Crawl Actions ---
	if writeVisitedLog {
		visitedFilePath := filepath.Join(appCfg.StateDir, utils.StateFileName(appCfg.PrimaryDomain, "visited.txt"))
		// crawlCtx is already cancelled after an interrupt
		if writeErr := store.WriteVisitedLog(context.WithoutCancel(crawlCtx), visitedFilePath); writeErr != nil {
			log.Errorf("Error writing visited log: %v", writeErr)
		}
	}

	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			log.Warn("Crawl cancelled gracefully. Run 'resume' to continue.")
			return 0
		case errors.Is(err, context.DeadlineExceeded):
			log.Error("Crawl timed out (global timeout).")
			return 1
		default:
			log.Errorf("Crawl finished with error (%s): %v", utils.CategorizeError(err), err)
			return 1
		}
	}

	if reportErr := aggregator.WriteReport(os.Stdout, stats.DefaultReportTopN); reportErr != nil {
		log.Errorf("Failed to print report: %v", reportErr)
	}
	log.Info("Crawl completed successfully.")
	return 0
}

// logAppConfig logs the effective configuration
func logAppConfig(appCfg *config.AppConfig, log *logrus.Entry) {
	log.Infof("Config: Workers:%d, Politeness:%v (%s scope), GlobalRateLimit:%.2f/s, RobotsOnFailure:%s",
		appCfg.NumWorkers, appCfg.PolitenessDelay, appCfg.PolitenessScope, appCfg.GlobalRateLimit, appCfg.RobotsFailurePolicy)
	log.Infof("Config: Seeds:%d, AllowedDomains:%v, PrimaryDomain:%s, MaxPage:%dKB",
		len(appCfg.SeedURLs), appCfg.Filter.AllowedDomains, appCfg.PrimaryDomain, appCfg.MaxPageSizeKB)
	log.Infof("Config: StateDir:%s, StatsFile:%s, Stopwords:%s, SyncWrites:%t",
		appCfg.StateDir, appCfg.StatsFile, appCfg.StopwordsFile, appCfg.SyncWrites())
	log.Infof("Config Retries: Max:%d, InitialDelay:%v, MaxDelay:%v, GlobalCrawlTimeout:%v",
		appCfg.MaxRetries, appCfg.InitialRetryDelay, appCfg.MaxRetryDelay, appCfg.GlobalCrawlTimeout)
	log.Infof("Config HTTP Client: Timeout:%v, MaxIdle:%d, MaxIdlePerHost:%d, IdleTimeout:%v, TLSTimeout:%v, DialerTimeout:%v, MaxRedirects:%d",
		appCfg.HTTPClientSettings.Timeout, appCfg.HTTPClientSettings.MaxIdleConns, appCfg.HTTPClientSettings.MaxIdleConnsPerHost,
		appCfg.HTTPClientSettings.IdleConnTimeout, appCfg.HTTPClientSettings.TLSHandshakeTimeout, appCfg.HTTPClientSettings.DialerTimeout,
		appCfg.HTTPClientSettings.MaxRedirects)
	if appCfg.CacheServer != "" {
		log.Infof("Config: routing requests through cache server %s", appCfg.CacheServer)
	}
}
