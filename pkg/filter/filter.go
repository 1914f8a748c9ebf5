package filter

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/gobwas/glob"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/ics-crawler/pkg/config"
	"github.com/Sriram-PR/ics-crawler/pkg/parse"
	"github.com/Sriram-PR/ics-crawler/pkg/utils"
)

// blockedExtensions matches paths ending in a non-HTML file extension.
var blockedExtensions = regexp.MustCompile(`(?i)\.(css|js|bmp|gif|jpe?g|ico` +
	`|png|tiff?|mid|mp2|mp3|mp4|lif|rle` +
	`|wav|avi|mov|mpeg|ram|m4v|mkv|ogg|ogv|pdf` +
	`|ps|eps|tex|ppt|pptx|ppsx|doc|docx|xls|xlsx|names` +
	`|data|dat|exe|bz2|tar|msi|bin|7z|psd|dmg|iso` +
	`|epub|dll|cnf|tgz|sha1` +
	`|thmx|mso|arff|rtf|jar|csv` +
	`|java|php|py|txt|sql|war|apk|rpm` +
	`|rm|smil|wmv|swf|wma|zip|rar|gz)$`)

// URLFilter decides whether a canonical URL may enter the frontier.
// It is immutable after construction and safe for concurrent use.
type URLFilter struct {
	allowedDomains  []string
	trapPaths       []string
	maxQueryParams  int
	queryPrefixes   []string
	excludePatterns []*regexp.Regexp
	excludeHosts    []glob.Glob
	blockTilde      bool
	tildeHosts      map[string]struct{}
	log             *logrus.Entry
}

// New builds a URLFilter from validated filter configuration.
func New(cfg config.FilterConfig, log *logrus.Entry) (*URLFilter, error) {
	patterns, err := utils.CompileRegexPatterns(cfg.ExcludePatterns)
	if err != nil {
		return nil, err
	}
	hostGlobs, err := utils.CompileHostGlobs(cfg.ExcludeHosts)
	if err != nil {
		return nil, err
	}
	f := &URLFilter{
		allowedDomains:  cfg.AllowedDomains,
		trapPaths:       cfg.TrapPaths,
		maxQueryParams:  cfg.MaxQueryParams,
		queryPrefixes:   cfg.FilteredQueryPrefixes,
		excludePatterns: patterns,
		excludeHosts:    hostGlobs,
		blockTilde:      !cfg.AllowTildePaths,
		tildeHosts:      make(map[string]struct{}, len(cfg.TildeHosts)),
		log:             log,
	}
	for _, h := range cfg.TildeHosts {
		f.tildeHosts[h] = struct{}{}
	}
	return f, nil
}

// IsInScope reports whether the URL's host is an allowed domain or a dot-bounded subdomain of one.
func (f *URLFilter) IsInScope(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	return f.hostInScope(parsed.Hostname())
}

func (f *URLFilter) hostInScope(host string) bool {
	host = parse.NormalizeHost(host)
	if host == "" {
		return false
	}
	for _, d := range f.allowedDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// IsCrawlable applies the scheme, scope, host-exclusion, trap-path, query, extension and personal-directory checks in order.
// It never fails; a URL that cannot be parsed is simply not crawlable.
func (f *URLFilter) IsCrawlable(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	reason := f.rejectReason(parsed)
	if reason != "" {
		f.log.WithFields(logrus.Fields{"url": u, "reason": reason}).Trace("URL rejected by filter")
		return false
	}
	return true
}

// rejectReason returns the name of the first failing check, or "" when the URL passes all of them.
func (f *URLFilter) rejectReason(u *url.URL) string {
	if u.Scheme != "http" && u.Scheme != "https" {
		return "scheme"
	}
	host := u.Hostname()
	if !f.hostInScope(host) {
		return "scope"
	}
	if utils.MatchesAnyGlob(f.excludeHosts, parse.NormalizeHost(host)) {
		return "excluded_host"
	}

	trimmed := strings.Trim(u.Path, "/")
	for _, p := range f.trapPaths {
		if strings.HasPrefix(trimmed, p) {
			return "trap_path"
		}
	}

	if u.RawQuery != "" {
		params, _ := url.ParseQuery(u.RawQuery)
		if len(params) > f.maxQueryParams {
			return "query_param_count"
		}
		for name := range params {
			for _, prefix := range f.queryPrefixes {
				if strings.HasPrefix(name, prefix) {
					return "query_param_name"
				}
			}
		}
	}

	if blockedExtensions.MatchString(u.Path) {
		return "extension"
	}
	if utils.MatchesAny(f.excludePatterns, u.Path) {
		return "exclude_pattern"
	}

	if f.blockTilde && strings.HasPrefix(u.Path, "/~") && f.tildeApplies(host) {
		return "tilde_path"
	}
	return ""
}

func (f *URLFilter) tildeApplies(host string) bool {
	if len(f.tildeHosts) == 0 {
		return true
	}
	_, ok := f.tildeHosts[parse.NormalizeHost(host)]
	return ok
}
