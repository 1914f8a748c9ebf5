package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/ics-crawler/pkg/config"
	"github.com/Sriram-PR/ics-crawler/pkg/fetch"
	"github.com/Sriram-PR/ics-crawler/pkg/frontier"
	"github.com/Sriram-PR/ics-crawler/pkg/models"
	"github.com/Sriram-PR/ics-crawler/pkg/stats"
	"github.com/Sriram-PR/ics-crawler/pkg/storage"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

// testSite serves a small link graph and counts requests per path
type testSite struct {
	server *httptest.Server
	mu     sync.Mutex
	hits   map[string]int
	times  []time.Time // arrival time of every request
	delay  time.Duration
}

func newTestSite(t *testing.T, delay time.Duration) *testSite {
	t.Helper()
	site := &testSite{hits: make(map[string]int), delay: delay}
	pages := map[string]string{
		"/": `<html><body><h1>Home page</h1>
			<a href="/a">A</a> <a href="/b">B</a> <a href="/a#section">A again</a>
			<a href="/private/secret">Secret</a> <a href="/style.css">CSS</a>
			<a href="http://elsewhere.example/">Elsewhere</a> <a href="mailto:x@y.z">Mail</a></body></html>`,
		"/a": `<html><body><p>Alpha page with more words than home</p>
			<a href="/">Home</a> <a href="/c?id=1">C</a></body></html>`,
		"/c": `<html><body><p>Gamma</p><a href="/a">A</a></body></html>`,
	}
	site.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		site.mu.Lock()
		site.hits[r.URL.Path]++
		site.times = append(site.times, time.Now())
		delay := site.delay
		site.mu.Unlock()

		if r.URL.Path == "/robots.txt" {
			fmt.Fprint(w, "User-agent: *\nDisallow: /private\n")
			return
		}
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		body, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(site.server.Close)
	return site
}

func (s *testSite) setDelay(d time.Duration) {
	s.mu.Lock()
	s.delay = d
	s.mu.Unlock()
}

func (s *testSite) hitCounts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.hits))
	for k, v := range s.hits {
		out[k] = v
	}
	return out
}

func (s *testSite) requestTimes() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Time(nil), s.times...)
}

func testConfig(t *testing.T, seed string) *config.AppConfig {
	t.Helper()
	cfg := &config.AppConfig{
		UserAgent:        "IR test-crawler/1.0",
		SeedURLs:         []string{seed},
		NumWorkers:       3,
		PolitenessDelay:  time.Millisecond,
		PrimaryDomain:    "127.0.0.1",
		MaxPageSizeKB:    100,
		StateDir:         t.TempDir(),
		IdlePollInterval: 5 * time.Millisecond,
		ProgressInterval: time.Hour,
		DBGCInterval:     time.Hour,
		Filter: config.FilterConfig{
			AllowedDomains: []string{"127.0.0.1"},
		},
	}
	cfg.StatsFile = filepath.Join(cfg.StateDir, "crawl_stats.json")
	_, err := cfg.Validate()
	require.NoError(t, err)
	return cfg
}

type harness struct {
	cfg   *config.AppConfig
	store *storage.BadgerStore
	stats *stats.Aggregator
}

func openHarness(t *testing.T, cfg *config.AppConfig, resume bool) *harness {
	t.Helper()
	store, err := storage.NewBadgerStore(context.Background(), cfg.StateDir, "test", resume, false, testLogger())
	require.NoError(t, err)
	agg, err := stats.NewAggregator(cfg.StatsFile, stats.NewStopwordSet("with", "than"), cfg.PrimaryDomain, resume, testLogger())
	require.NoError(t, err)
	return &harness{cfg: cfg, store: store, stats: agg}
}

func (h *harness) crawler(t *testing.T) *Crawler {
	t.Helper()
	client, err := fetch.NewClient(h.cfg.HTTPClientSettings, "", testLogger())
	require.NoError(t, err)
	c, err := New(context.Background(), h.cfg, Dependencies{
		Store:   h.store,
		Fetcher: fetch.NewFetcher(client, h.cfg, testLogger()),
		Stats:   h.stats,
	}, testLogger())
	require.NoError(t, err)
	return c
}

func TestRun_CrawlsSiteOnce(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *config.AppConfig)
	}{
		{"shared host politeness", func(cfg *config.AppConfig) {}},
		{"per-worker politeness with global cap", func(cfg *config.AppConfig) {
			cfg.PolitenessScope = config.PolitenessScopeWorker
			cfg.GlobalRateLimit = 200
		}},
		{"single worker", func(cfg *config.AppConfig) { cfg.NumWorkers = 1 }},
		{"one fetch in flight per host", func(cfg *config.AppConfig) {
			cfg.PolitenessScope = config.PolitenessScopeWorker
			cfg.MaxRequestsPerHost = 1
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			site := newTestSite(t, 0)
			cfg := testConfig(t, site.server.URL)
			tt.mutate(cfg)
			h := openHarness(t, cfg, false)
			defer h.store.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
			defer cancel()
			require.NoError(t, h.crawler(t).Run(ctx))

			hits := site.hitCounts()
			assert.Equal(t, map[string]int{"/robots.txt": 1, "/": 1, "/a": 1, "/b": 1, "/c": 1}, hits)

			base := site.server.URL
			for _, u := range []string{base + "/", base + "/a", base + "/b", base + "/c?id=1"} {
				entry, err := h.store.GetEntry(u)
				require.NoError(t, err)
				require.NotNil(t, entry, u)
				assert.Equal(t, models.StateCompleted, entry.State, u)
			}
			assert.Equal(t, 4, h.store.Count())

			summary := h.stats.Summary()
			assert.Equal(t, 4, summary.TotalURLsSeen)
			assert.Equal(t, 3, summary.TotalPagesFetched)
			assert.Equal(t, base+"/a", summary.LongestPage.URL)
			assert.Equal(t, map[string]int{"127.0.0.1": 3}, h.stats.SubdomainCounts())
		})
	}
}

func TestRun_SpacesEveryRequestToAHost(t *testing.T) {
	const delay = 300 * time.Millisecond
	for _, scope := range []string{config.PolitenessScopeHost, config.PolitenessScopeWorker} {
		t.Run(scope, func(t *testing.T) {
			site := newTestSite(t, 0)
			cfg := testConfig(t, site.server.URL)
			cfg.NumWorkers = 1
			cfg.PolitenessDelay = delay
			cfg.PolitenessScope = scope
			h := openHarness(t, cfg, false)
			defer h.store.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
			defer cancel()
			require.NoError(t, h.crawler(t).Run(ctx))

			times := site.requestTimes()
			require.Len(t, times, 5, "robots.txt plus four pages")
			for i := 1; i < len(times); i++ {
				gap := times[i].Sub(times[i-1])
				assert.GreaterOrEqual(t, gap, delay, "request %d came %v after the previous one", i, gap)
			}
		})
	}
}

func TestRun_ResumeDoesNotRefetchCompleted(t *testing.T) {
	site := newTestSite(t, 0)
	cfg := testConfig(t, site.server.URL)

	h := openHarness(t, cfg, false)
	require.NoError(t, h.crawler(t).Run(context.Background()))
	require.NoError(t, h.store.Close())
	before := site.hitCounts()

	resumed := openHarness(t, cfg, true)
	defer resumed.store.Close()
	c := resumed.crawler(t)
	assert.Equal(t, frontier.Counts{Completed: 4}, c.Frontier().Counts())
	require.NoError(t, c.Run(context.Background()))

	assert.Equal(t, before, site.hitCounts())
	assert.Equal(t, 4, resumed.stats.Summary().TotalURLsSeen)
}

func TestRun_InterruptedCrawlResumes(t *testing.T) {
	site := newTestSite(t, 300*time.Millisecond)
	cfg := testConfig(t, site.server.URL)
	cfg.NumWorkers = 1

	h := openHarness(t, cfg, false)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := h.crawler(t).Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	entry, err := h.store.GetEntry(site.server.URL + "/")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, models.StateInProgress, entry.State)
	require.NoError(t, h.store.Close())

	site.setDelay(0)
	resumed := openHarness(t, cfg, true)
	defer resumed.store.Close()
	c := resumed.crawler(t)
	assert.Equal(t, frontier.Counts{Discovered: 1}, c.Frontier().Counts())
	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, 4, resumed.store.Count())
}

func TestRun_GlobalTimeout(t *testing.T) {
	site := newTestSite(t, 2*time.Second)
	cfg := testConfig(t, site.server.URL)
	cfg.GlobalCrawlTimeout = 100 * time.Millisecond

	h := openHarness(t, cfg, false)
	defer h.store.Close()

	start := time.Now()
	err := h.crawler(t).Run(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestNew_RejectsOutOfScopeSeeds(t *testing.T) {
	site := newTestSite(t, 0)
	cfg := testConfig(t, site.server.URL)
	cfg.SeedURLs = append(cfg.SeedURLs,
		"https://elsewhere.example/",
		site.server.URL+"/file.pdf",
		site.server.URL+"/private/secret",
	)

	h := openHarness(t, cfg, false)
	defer h.store.Close()
	c := h.crawler(t)

	assert.Equal(t, frontier.Counts{Discovered: 1}, c.Frontier().Counts())
	assert.Equal(t, 1, h.stats.Summary().TotalURLsSeen)
	entry, err := h.store.GetEntry(site.server.URL + "/private/secret")
	require.NoError(t, err)
	assert.Nil(t, entry, "robots-disallowed seed must not be stored")
	assert.Equal(t, map[string]int{"/robots.txt": 1}, site.hitCounts())
}
