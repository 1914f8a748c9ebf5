package config

import "time"

// Politeness scopes
const (
	PolitenessScopeHost   = "host"   // One shared per-host clock for the whole pool
	PolitenessScopeWorker = "worker" // Each worker keeps its own per-host clock
)

// Robots.txt failure policies
const (
	RobotsPolicyAllow = "allow" // Unreachable or non-200 robots.txt means no restrictions
	RobotsPolicyDeny  = "deny"  // Unreachable or non-200 robots.txt disallows the whole host
)

// FilterConfig controls which canonical URLs are considered crawlable
type FilterConfig struct {
	AllowedDomains        []string `yaml:"allowed_domains"`
	TrapPaths             []string `yaml:"trap_paths"`                 // Prefixes of the slash-trimmed path
	MaxQueryParams        int      `yaml:"max_query_params"`           // Reject queries with more distinct params
	FilteredQueryPrefixes []string `yaml:"filtered_query_prefixes"`    // Reject params whose name starts with one of these
	ExcludePatterns       []string `yaml:"exclude_patterns,omitempty"` // Extra regexes matched against the path
	ExcludeHosts          []string `yaml:"exclude_hosts,omitempty"`    // Host globs ('*' stays within a label, '**' spans labels)
	AllowTildePaths       bool     `yaml:"allow_tilde_paths"`          // Disable the /~ personal-directory rule
	TildeHosts            []string `yaml:"tilde_hosts,omitempty"`      // Hosts the /~ rule applies to; empty = all
}

// AppConfig holds the application configuration
type AppConfig struct {
	UserAgent           string           `yaml:"user_agent"`
	SeedURLs            []string         `yaml:"seed_urls"`
	NumWorkers          int              `yaml:"num_workers"`
	PolitenessDelay     time.Duration    `yaml:"politeness_delay"`
	PolitenessScope     string           `yaml:"politeness_scope"`
	GlobalRateLimit     float64          `yaml:"global_rate_limit,omitempty"`     // Requests/second across the pool, 0 = unlimited
	MaxRequestsPerHost  int              `yaml:"max_requests_per_host,omitempty"` // Page fetches in flight per host, 0 = unlimited
	RobotsFailurePolicy string           `yaml:"robots_failure_policy"`
	PrimaryDomain       string           `yaml:"primary_domain"` // Subdomain page counts are kept for hosts under this suffix
	MaxPageSizeKB       int              `yaml:"max_page_size_kb"`
	StateDir            string           `yaml:"state_dir"`
	StatsFile           string           `yaml:"stats_file"`
	StopwordsFile       string           `yaml:"stopwords_file"`
	FrontierSyncWrites  *bool            `yaml:"frontier_sync_writes,omitempty"`
	IdlePollInterval    time.Duration    `yaml:"idle_poll_interval,omitempty"`
	ProgressInterval    time.Duration    `yaml:"progress_interval,omitempty"`
	DBGCInterval        time.Duration    `yaml:"db_gc_interval,omitempty"`
	GlobalCrawlTimeout  time.Duration    `yaml:"global_crawl_timeout,omitempty"`
	CacheServer         string           `yaml:"cache_server,omitempty"` // Optional caching proxy URL
	MaxRetries          int              `yaml:"max_retries,omitempty"`
	InitialRetryDelay   time.Duration    `yaml:"initial_retry_delay,omitempty"`
	MaxRetryDelay       time.Duration    `yaml:"max_retry_delay,omitempty"`
	HTTPClientSettings  HTTPClientConfig `yaml:"http_client_settings,omitempty"`
	Filter              FilterConfig     `yaml:"filter"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Overall request timeout
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"`
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"` // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`
	MaxRedirects          int           `yaml:"max_redirects,omitempty"`
}

// MaxPageSizeBytes returns the configured body limit in bytes
func (c *AppConfig) MaxPageSizeBytes() int64 {
	return int64(c.MaxPageSizeKB) * 1024
}

// SyncWrites reports whether frontier writes are fsynced before returning
func (c *AppConfig) SyncWrites() bool {
	if c.FrontierSyncWrites == nil {
		return true
	}
	return *c.FrontierSyncWrites
}
