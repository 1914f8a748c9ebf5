package fetch

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"
	"golang.org/x/sync/singleflight"

	"github.com/Sriram-PR/ics-crawler/pkg/config"
	"github.com/Sriram-PR/ics-crawler/pkg/models"
)

// PageFetcher is the fetch collaborator used for robots.txt requests
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) models.Response
}

// Pacer spaces out requests to a host
type Pacer interface {
	ApplyDelay(ctx context.Context, host string, minDelay time.Duration) error
	UpdateLastRequestTime(host string)
}

type robotsEntry struct {
	ruleset  models.RobotsRuleset
	data     *robotstxt.RobotsData // nil unless robots.txt returned 200 and parsed
	allowAll bool                  // decision used when data is nil
}

// RobotsCache fetches robots.txt once per host and answers allow/deny questions for the
// configured user agent. Concurrent first lookups for a host share a single fetch.
type RobotsCache struct {
	fetcher       PageFetcher
	pacer         Pacer
	delay         time.Duration
	userAgent     string
	denyOnFailure bool

	mu      sync.RWMutex
	entries map[string]*robotsEntry // canonical host (with non-default port) -> entry
	group   singleflight.Group

	log *logrus.Entry
}

// NewRobotsCache creates a RobotsCache
func NewRobotsCache(fetcher PageFetcher, pacer Pacer, cfg *config.AppConfig, log *logrus.Entry) *RobotsCache {
	return &RobotsCache{
		fetcher:       fetcher,
		pacer:         pacer,
		delay:         cfg.PolitenessDelay,
		userAgent:     cfg.UserAgent,
		denyOnFailure: cfg.RobotsFailurePolicy == config.RobotsPolicyDeny,
		entries:       make(map[string]*robotsEntry),
		log:           log,
	}
}

// CanFetch reports whether the user agent may fetch the canonical URL u.
// Unparseable URLs and lookups interrupted by ctx are not allowed.
func (rc *RobotsCache) CanFetch(ctx context.Context, u string) bool {
	target, err := url.Parse(u)
	if err != nil || target.Host == "" {
		return false
	}

	entry, err := rc.entryFor(ctx, target)
	if err != nil {
		rc.log.WithField("host", target.Host).Debugf("Robots lookup interrupted: %v", err)
		return false
	}
	if entry.data == nil {
		return entry.allowAll
	}
	return entry.data.TestAgent(target.RequestURI(), rc.userAgent)
}

func (rc *RobotsCache) entryFor(ctx context.Context, target *url.URL) (*robotsEntry, error) {
	host := target.Host

	rc.mu.RLock()
	entry, found := rc.entries[host]
	rc.mu.RUnlock()
	if found {
		return entry, nil
	}

	v, err, _ := rc.group.Do(host, func() (interface{}, error) {
		rc.mu.RLock()
		cached, ok := rc.entries[host]
		rc.mu.RUnlock()
		if ok {
			return cached, nil
		}

		fetched, err := rc.fetchRobots(ctx, target)
		if err != nil {
			return nil, err
		}
		rc.mu.Lock()
		rc.entries[host] = fetched
		rc.mu.Unlock()
		return fetched, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*robotsEntry), nil
}

// fetchRobots retrieves and parses robots.txt for target's host. It only fails if ctx is done;
// every other outcome is recorded according to the failure policy.
func (rc *RobotsCache) fetchRobots(ctx context.Context, target *url.URL) (*robotsEntry, error) {
	host := target.Host
	scheme := target.Scheme
	if scheme != "http" && scheme != "https" {
		scheme = "https"
	}
	robotsURL := (&url.URL{Scheme: scheme, Host: host, Path: "/robots.txt"}).String()
	robotsLog := rc.log.WithFields(logrus.Fields{"host": host, "robots_url": robotsURL})

	if err := rc.pacer.ApplyDelay(ctx, target.Hostname(), rc.delay); err != nil {
		return nil, err
	}
	robotsLog.Debug("Fetching robots.txt")
	resp := rc.fetcher.Fetch(ctx, robotsURL)
	rc.pacer.UpdateLastRequestTime(target.Hostname())
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	entry := &robotsEntry{
		ruleset: models.RobotsRuleset{Host: host, Status: resp.Status, FetchedAt: time.Now().UTC()},
	}

	if resp.Status == http.StatusOK {
		data, err := robotstxt.FromBytes(resp.Content)
		if err == nil {
			entry.data = data
			entry.ruleset.Fetched = true
			entry.ruleset.RawText = string(resp.Content)
			robotsLog.Info("Fetched and parsed robots.txt")
			return entry, nil
		}
		robotsLog.Warnf("Failed parsing robots.txt: %v", err)
	}

	entry.allowAll = !rc.denyOnFailure
	robotsLog.WithFields(logrus.Fields{
		"status":    resp.Status,
		"error":     resp.Error,
		"allow_all": entry.allowAll,
	}).Info("No usable robots.txt, applying failure policy")
	return entry, nil
}

// Rulesets returns the cached robots outcomes ordered by host
func (rc *RobotsCache) Rulesets() []models.RobotsRuleset {
	rc.mu.RLock()
	out := make([]models.RobotsRuleset, 0, len(rc.entries))
	for _, entry := range rc.entries {
		out = append(out, entry.ruleset)
	}
	rc.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Host < out[j].Host })
	return out
}
