package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Sriram-PR/ics-crawler/pkg/parse"
	"github.com/Sriram-PR/ics-crawler/pkg/utils"
)

// Defaults carried over from the reference crawl of the UCI ICS domains.
var (
	DefaultSeedURLs = []string{
		"https://www.ics.uci.edu",
		"https://www.cs.uci.edu",
		"https://www.informatics.uci.edu",
		"https://www.stat.uci.edu",
	}
	DefaultAllowedDomains = []string{"ics.uci.edu", "cs.uci.edu", "informatics.uci.edu", "stat.uci.edu"}
	DefaultTrapPaths      = []string{
		"events", "event/", "tag/", "seminar-series", "explore/department-seminars", "author/",
	}
	DefaultFilteredQueryPrefixes = []string{"filter", "limit", "order", "sort"}
)

const (
	defaultUserAgent     = "IR ics-crawler/1.0"
	defaultPrimaryDomain = "ics.uci.edu"
	defaultMaxPageSizeKB = 2000
	defaultMaxQueryParam = 2
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	if c.UserAgent == "" {
		warnings = append(warnings, fmt.Sprintf("user_agent is empty, defaulting to '%s'", defaultUserAgent))
		c.UserAgent = defaultUserAgent
	}

	if len(c.SeedURLs) == 0 {
		warnings = append(warnings, "seed_urls is empty, defaulting to the four UCI department homepages")
		c.SeedURLs = append([]string(nil), DefaultSeedURLs...)
	}
	for i, seed := range c.SeedURLs {
		u, parseErr := url.Parse(seed)
		if parseErr != nil || u.Scheme == "" || u.Host == "" {
			return warnings, fmt.Errorf("%w: seed_urls[%d] '%s' is not an absolute URL", utils.ErrConfigValidation, i, seed)
		}
	}

	if c.NumWorkers <= 0 {
		warnings = append(warnings, "num_workers should be > 0, defaulting to 4")
		c.NumWorkers = 4
	}

	if c.PolitenessDelay <= 0 {
		warnings = append(warnings, "politeness_delay should be > 0, defaulting to 500ms")
		c.PolitenessDelay = 500 * time.Millisecond
	}

	switch strings.ToLower(c.PolitenessScope) {
	case "":
		c.PolitenessScope = PolitenessScopeHost
	case PolitenessScopeHost, PolitenessScopeWorker:
		c.PolitenessScope = strings.ToLower(c.PolitenessScope)
	default:
		return warnings, fmt.Errorf("%w: politeness_scope must be '%s' or '%s', got '%s'",
			utils.ErrConfigValidation, PolitenessScopeHost, PolitenessScopeWorker, c.PolitenessScope)
	}

	if c.GlobalRateLimit < 0 {
		warnings = append(warnings, "global_rate_limit cannot be negative, disabling")
		c.GlobalRateLimit = 0
	}

	if c.MaxRequestsPerHost < 0 {
		warnings = append(warnings, "max_requests_per_host cannot be negative, disabling")
		c.MaxRequestsPerHost = 0
	}

	switch strings.ToLower(c.RobotsFailurePolicy) {
	case "":
		c.RobotsFailurePolicy = RobotsPolicyAllow
	case RobotsPolicyAllow, RobotsPolicyDeny:
		c.RobotsFailurePolicy = strings.ToLower(c.RobotsFailurePolicy)
	default:
		return warnings, fmt.Errorf("%w: robots_failure_policy must be '%s' or '%s', got '%s'",
			utils.ErrConfigValidation, RobotsPolicyAllow, RobotsPolicyDeny, c.RobotsFailurePolicy)
	}

	if c.PrimaryDomain == "" {
		c.PrimaryDomain = defaultPrimaryDomain
	}
	c.PrimaryDomain = strings.ToLower(strings.TrimPrefix(c.PrimaryDomain, "."))

	if c.MaxPageSizeKB <= 0 {
		c.MaxPageSizeKB = defaultMaxPageSizeKB
	}

	if c.StateDir == "" {
		warnings = append(warnings, "state_dir is empty, defaulting to './crawler_state'")
		c.StateDir = "./crawler_state"
	}
	if c.StatsFile == "" {
		warnings = append(warnings, "stats_file is empty, defaulting to './crawl_stats.json'")
		c.StatsFile = "./crawl_stats.json"
	}
	if c.StopwordsFile == "" {
		c.StopwordsFile = "./stopwords.txt"
	}

	if c.IdlePollInterval <= 0 {
		c.IdlePollInterval = 500 * time.Millisecond
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = 30 * time.Second
	}
	if c.DBGCInterval <= 0 {
		c.DBGCInterval = 10 * time.Minute
	}
	if c.GlobalCrawlTimeout < 0 {
		warnings = append(warnings, "global_crawl_timeout cannot be negative, disabling timeout")
		c.GlobalCrawlTimeout = 0
	}

	if c.CacheServer != "" {
		if u, parseErr := url.Parse(c.CacheServer); parseErr != nil || u.Host == "" {
			return warnings, fmt.Errorf("%w: cache_server '%s' is not a valid proxy URL", utils.ErrConfigValidation, c.CacheServer)
		}
	}

	// The crawl never re-fetches a URL, so transport retries are opt-in
	if c.MaxRetries < 0 {
		warnings = append(warnings, "max_retries cannot be negative, setting to 0")
		c.MaxRetries = 0
	}
	if c.MaxRetries > 0 {
		if c.InitialRetryDelay <= 0 {
			c.InitialRetryDelay = 1 * time.Second
		}
		if c.MaxRetryDelay <= 0 {
			c.MaxRetryDelay = 30 * time.Second
		}
		if c.InitialRetryDelay > c.MaxRetryDelay {
			warnings = append(warnings, fmt.Sprintf(
				"initial_retry_delay (%v) > max_retry_delay (%v), using max_retry_delay for initial",
				c.InitialRetryDelay, c.MaxRetryDelay))
			c.InitialRetryDelay = c.MaxRetryDelay
		}
	}

	c.validateHTTPClientSettings()

	filterWarnings, err := c.Filter.Validate()
	warnings = append(warnings, filterWarnings...)
	if err != nil {
		return warnings, err
	}

	return warnings, nil
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = 30 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 2
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
	if h.MaxRedirects <= 0 {
		h.MaxRedirects = 10
	}
}

// Validate applies filter defaults when a list is omitted entirely.
// An explicitly empty allowed_domains list is fatal; other explicit empty lists disable that check.
func (f *FilterConfig) Validate() (warnings []string, err error) {
	if f.AllowedDomains == nil {
		f.AllowedDomains = append([]string(nil), DefaultAllowedDomains...)
	}
	if len(f.AllowedDomains) == 0 {
		return nil, fmt.Errorf("%w: filter.allowed_domains is empty, nothing would be crawlable", utils.ErrConfigValidation)
	}
	for i, d := range f.AllowedDomains {
		f.AllowedDomains[i] = strings.ToLower(strings.Trim(strings.TrimSpace(d), "."))
	}

	if f.TrapPaths == nil {
		f.TrapPaths = append([]string(nil), DefaultTrapPaths...)
	}
	if f.FilteredQueryPrefixes == nil {
		f.FilteredQueryPrefixes = append([]string(nil), DefaultFilteredQueryPrefixes...)
	}
	if f.MaxQueryParams <= 0 {
		f.MaxQueryParams = defaultMaxQueryParam
	}

	if _, err := utils.CompileRegexPatterns(f.ExcludePatterns); err != nil {
		return warnings, err
	}
	for i, h := range f.ExcludeHosts {
		f.ExcludeHosts[i] = parse.NormalizeHost(strings.TrimSpace(h))
	}
	if _, err := utils.CompileHostGlobs(f.ExcludeHosts); err != nil {
		return warnings, err
	}

	if f.AllowTildePaths && len(f.TildeHosts) > 0 {
		warnings = append(warnings, "filter.tilde_hosts is set but allow_tilde_paths is true; tilde rule inactive")
	}
	for i, h := range f.TildeHosts {
		f.TildeHosts[i] = parse.NormalizeHost(strings.TrimSpace(h))
	}
	return warnings, nil
}
