package crawler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/Sriram-PR/ics-crawler/pkg/config"
	"github.com/Sriram-PR/ics-crawler/pkg/fetch"
	"github.com/Sriram-PR/ics-crawler/pkg/filter"
	"github.com/Sriram-PR/ics-crawler/pkg/frontier"
	"github.com/Sriram-PR/ics-crawler/pkg/models"
	"github.com/Sriram-PR/ics-crawler/pkg/parse"
	"github.com/Sriram-PR/ics-crawler/pkg/process"
	"github.com/Sriram-PR/ics-crawler/pkg/stats"
	"github.com/Sriram-PR/ics-crawler/pkg/storage"
	"github.com/Sriram-PR/ics-crawler/pkg/utils"
)

// Dependencies are the long-lived collaborators owned by the caller
type Dependencies struct {
	Store     storage.FrontierStore
	Fetcher   fetch.PageFetcher
	Stats     *stats.Aggregator
	Extractor process.HTMLExtractor // defaults to process.GoqueryExtractor
}

// Crawler runs the worker pool over a shared frontier
type Crawler struct {
	cfg *config.AppConfig
	log *logrus.Entry

	store    storage.FrontierStore
	frontier *frontier.Frontier
	filter   *filter.URLFilter
	robots   *fetch.RobotsCache
	fetcher  fetch.PageFetcher
	scraper  *process.LinkScraper
	stats    *stats.Aggregator

	sharedPacer   *fetch.RateLimiter // nil in per-worker politeness mode
	robotsPacer   *fetch.RateLimiter
	globalLimiter *rate.Limiter      // nil when global_rate_limit is 0
	hostLimiter   *fetch.HostLimiter // nil when max_requests_per_host is 0

	processedCounter atomic.Int64 // URLs taken through the full pipeline
	failedCounter    atomic.Int64 // fetches that produced no page
	linksAdded       atomic.Int64
}

// New wires the crawl components and loads the frontier (seeding it when empty)
func New(ctx context.Context, cfg *config.AppConfig, deps Dependencies, log *logrus.Entry) (*Crawler, error) {
	urlFilter, err := filter.New(cfg.Filter, log.WithField("component", "filter"))
	if err != nil {
		return nil, fmt.Errorf("building URL filter: %w", err)
	}

	extractor := deps.Extractor
	if extractor == nil {
		extractor = process.GoqueryExtractor{}
	}

	c := &Crawler{
		cfg:     cfg,
		log:     log,
		store:   deps.Store,
		filter:  urlFilter,
		fetcher: deps.Fetcher,
		stats:   deps.Stats,
		scraper: process.NewLinkScraper(extractor, deps.Stats, cfg.MaxPageSizeBytes(), log.WithField("component", "scraper")),
	}

	pacerLog := log.WithField("component", "politeness")
	if cfg.PolitenessScope == config.PolitenessScopeWorker {
		c.robotsPacer = fetch.NewRateLimiter(cfg.PolitenessDelay, pacerLog)
	} else {
		c.sharedPacer = fetch.NewRateLimiter(cfg.PolitenessDelay, pacerLog)
		c.robotsPacer = c.sharedPacer
	}
	c.robots = fetch.NewRobotsCache(deps.Fetcher, c.robotsPacer, cfg, log.WithField("component", "robots"))

	if cfg.GlobalRateLimit > 0 {
		burst := int(cfg.GlobalRateLimit)
		if burst < 1 {
			burst = 1
		}
		c.globalLimiter = rate.NewLimiter(rate.Limit(cfg.GlobalRateLimit), burst)
	}

	c.hostLimiter = fetch.NewHostLimiter(cfg.MaxRequestsPerHost, pacerLog)

	// Seeds only apply to an empty store
	var seeds []string
	if deps.Store.Count() == 0 {
		seeds = c.crawlableSeeds(ctx, cfg.SeedURLs)
	}
	c.frontier, err = frontier.New(ctx, deps.Store, deps.Stats, seeds, log.WithField("component", "frontier"))
	if err != nil {
		return nil, err
	}
	return c, nil
}

// crawlableSeeds canonicalizes the seeds and drops those the filter or robots.txt rejects
func (c *Crawler) crawlableSeeds(ctx context.Context, seeds []string) []string {
	valid := make([]string, 0, len(seeds))
	for i, seed := range seeds {
		seedLog := c.log.WithFields(logrus.Fields{"index": i, "url": seed})
		canonical, err := parse.Canonicalize(seed)
		if err != nil {
			seedLog.Warnf("Invalid seed URL, skipping: %v", err)
			continue
		}
		if !c.filter.IsCrawlable(canonical) {
			seedLog.Warn("Seed URL rejected by filter, skipping")
			continue
		}
		if !c.robots.CanFetch(ctx, canonical) {
			seedLog.WithField("error_category", utils.CategorizeError(utils.ErrRobotsDisallowed)).Warn("Seed URL disallowed by robots.txt, skipping")
			continue
		}
		valid = append(valid, canonical)
	}
	return valid
}

// Frontier exposes the crawl frontier, mainly for status reporting
func (c *Crawler) Frontier() *frontier.Frontier {
	return c.frontier
}

// Run starts num_workers workers and blocks until the frontier is drained, a fatal
// persistence error occurs, or ctx is done. An interrupted crawl returns ctx's error.
func (c *Crawler) Run(ctx context.Context) error {
	startTime := time.Now()
	if c.cfg.GlobalCrawlTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.GlobalCrawlTimeout)
		defer cancel()
	}

	counts := c.frontier.Counts()
	c.log.WithFields(logrus.Fields{
		"workers":          c.cfg.NumWorkers,
		"politeness_scope": c.cfg.PolitenessScope,
		"delay":            c.cfg.PolitenessDelay,
		"queued":           counts.Discovered,
		"completed":        counts.Completed,
	}).Info("Crawl starting")

	g, gctx := errgroup.WithContext(ctx)

	// Background maintenance stops once the workers are done
	bgCtx, stopBackground := context.WithCancel(gctx)
	var bg sync.WaitGroup
	bg.Add(3)
	go func() {
		defer bg.Done()
		c.reportProgress(bgCtx)
	}()
	go func() {
		defer bg.Done()
		c.store.RunGC(bgCtx, c.cfg.DBGCInterval)
	}()
	go func() {
		defer bg.Done()
		c.hostLimiter.RunEviction(bgCtx, 5*time.Minute)
	}()

	for i := 1; i <= c.cfg.NumWorkers; i++ {
		workerLog := c.log.WithField("worker_id", i)
		pacer := c.sharedPacer
		if pacer == nil {
			pacer = fetch.NewRateLimiter(c.cfg.PolitenessDelay, workerLog)
		}
		g.Go(func() error {
			return c.worker(gctx, pacer, workerLog)
		})
	}

	err := g.Wait()
	stopBackground()
	bg.Wait()

	c.logSummary(time.Since(startTime), err)
	if err != nil {
		return err
	}
	return ctx.Err()
}

// worker claims URLs until the frontier is empty with nothing in flight, or ctx is done.
// Only persistence failures are returned.
func (c *Crawler) worker(ctx context.Context, pacer *fetch.RateLimiter, workerLog *logrus.Entry) error {
	workerLog.Debug("Worker starting")
	defer workerLog.Debug("Worker finished")

	for {
		if ctx.Err() != nil {
			return nil
		}

		u, ok, err := c.frontier.GetNextURL()
		if err != nil {
			return err
		}
		if !ok {
			// Another worker still in flight may add URLs
			if c.frontier.InFlight() == 0 {
				workerLog.Info("Frontier drained, worker exiting")
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.cfg.IdlePollInterval):
			}
			continue
		}

		if err := c.processURL(ctx, u, pacer, workerLog); err != nil {
			return err
		}
	}
}

// processURL runs the fetch-scrape-enqueue pipeline for one claimed URL and marks it complete.
// If ctx ends mid-task the URL stays in progress so a resumed crawl picks it up again.
func (c *Crawler) processURL(ctx context.Context, u string, pacer *fetch.RateLimiter, workerLog *logrus.Entry) (fatal error) {
	taskLog := workerLog.WithField("url", u)
	startTime := time.Now()
	interrupted := false

	defer func() {
		if r := recover(); r != nil {
			taskLog.WithFields(logrus.Fields{
				"panic_info":  r,
				"duration":    time.Since(startTime).String(),
				"stack_trace": string(debug.Stack()),
			}).Error("PANIC recovered while processing URL")
			interrupted = false
		}
		if fatal != nil || interrupted {
			return
		}
		if err := c.frontier.MarkComplete(u); err != nil {
			fatal = err
			return
		}
		c.processedCounter.Add(1)
	}()

	// A robots.txt fetch for an uncached host counts as a request, so the page waits behind it
	if !c.robots.CanFetch(ctx, u) {
		if ctx.Err() != nil {
			interrupted = true
			return nil
		}
		taskLog.WithField("error_category", utils.CategorizeError(utils.ErrRobotsDisallowed)).Info("Disallowed by robots.txt, skipping")
		return nil
	}

	host := parse.Hostname(u)
	pacer.SyncHost(host, c.robotsPacer)
	if err := pacer.ApplyDelay(ctx, host, c.cfg.PolitenessDelay); err != nil {
		interrupted = true
		return nil
	}
	if c.globalLimiter != nil {
		if err := c.globalLimiter.Wait(ctx); err != nil {
			interrupted = true
			return nil
		}
	}

	release, err := c.hostLimiter.Acquire(ctx, host)
	if err != nil {
		interrupted = true
		return nil
	}
	resp := c.fetcher.Fetch(ctx, u)
	release()
	pacer.UpdateLastRequestTime(host)
	if ctx.Err() != nil {
		interrupted = true
		return nil
	}
	if resp.Band() != models.BandSuccess {
		c.failedCounter.Add(1)
	}

	links, err := c.scraper.ExtractAndRecord(u, resp)
	if err != nil {
		return err
	}

	added := 0
	for _, link := range links {
		if c.frontier.State(link) != models.StateUnset {
			continue
		}
		if !c.filter.IsCrawlable(link) {
			continue
		}
		if !c.robots.CanFetch(ctx, link) {
			if ctx.Err() != nil {
				interrupted = true
				return nil
			}
			taskLog.WithField("link", link).Trace("Link disallowed by robots.txt")
			continue
		}
		isNew, err := c.frontier.AddURL(link)
		if err != nil {
			if errors.Is(err, utils.ErrPersistence) {
				return err
			}
			taskLog.WithField("link", link).Debugf("Dropping link: %v", err)
			continue
		}
		if isNew {
			added++
		}
	}
	c.linksAdded.Add(int64(added))

	taskLog.WithFields(logrus.Fields{
		"status":   resp.Status,
		"links":    len(links),
		"new_urls": added,
		"duration": time.Since(startTime).String(),
	}).Debug("URL processed")
	return nil
}

func (c *Crawler) reportProgress(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.ProgressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			counts := c.frontier.Counts()
			summary := c.stats.Summary()
			c.log.WithFields(logrus.Fields{
				"queued":          counts.Discovered,
				"in_progress":     counts.InProgress,
				"completed":       counts.Completed,
				"processed_tasks": c.processedCounter.Load(),
				"failed_fetches":  c.failedCounter.Load(),
				"urls_seen":       summary.TotalURLsSeen,
				"pages_fetched":   summary.TotalPagesFetched,
			}).Info("Crawl Progress")
		}
	}
}

func (c *Crawler) logSummary(duration time.Duration, runErr error) {
	counts := c.frontier.Counts()
	summary := c.stats.Summary()

	robotsFetched := 0
	rulesets := c.robots.Rulesets()
	for _, rs := range rulesets {
		if rs.Fetched {
			robotsFetched++
		}
	}

	summaryLog := c.log
	if runErr != nil {
		summaryLog = summaryLog.WithField("error_category", utils.CategorizeError(runErr))
	}
	summaryLog.Info("========================================================================")
	summaryLog.Info("CRAWL FINISHED")
	summaryLog.Infof("Duration:         %v", duration.Round(time.Millisecond))
	summaryLog.Infof("Frontier:         %d completed, %d queued, %d in progress",
		counts.Completed, counts.Discovered, counts.InProgress)
	summaryLog.Infof("This run:         %d processed, %d failed fetches, %d new URLs",
		c.processedCounter.Load(), c.failedCounter.Load(), c.linksAdded.Load())
	summaryLog.Infof("Statistics:       %d URLs seen, %d pages fetched, %d unique words",
		summary.TotalURLsSeen, summary.TotalPagesFetched, summary.UniqueWords)
	summaryLog.Infof("Robots:           %d hosts, %d with robots.txt", len(rulesets), robotsFetched)
	if runErr != nil {
		summaryLog.Errorf("Crawl stopped: %v", runErr)
	}
	summaryLog.Info("========================================================================")
}
