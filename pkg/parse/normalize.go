package parse

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/Sriram-PR/ics-crawler/pkg/utils"
)

// NormalizeURL produces the canonical string form of a parsed URL.
// It lowercases the scheme and host, strips leading "www." labels and default ports (80 for http, 443 for https),
// drops userinfo and the fragment, and turns an empty path into "/". Path case and the query string are preserved.
// Does not modify the input *url.URL
func NormalizeURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	normalized := *u

	normalized.Scheme = strings.ToLower(normalized.Scheme)
	normalized.User = nil
	normalized.Host = NormalizeHost(normalized.Host)

	host, port, err := net.SplitHostPort(normalized.Host)
	if err == nil {
		if (normalized.Scheme == "http" && port == "80") ||
			(normalized.Scheme == "https" && port == "443") {
			normalized.Host = host
		}
	}

	if normalized.Opaque == "" && normalized.Host != "" && normalized.Path == "" {
		normalized.Path = "/"
		normalized.RawPath = ""
	}

	normalized.Fragment = ""
	normalized.RawFragment = ""
	normalized.ForceQuery = false

	return normalized.String()
}

// NormalizeHost lowercases a host (optionally with port) and strips every leading "www." label.
func NormalizeHost(host string) string {
	host = strings.ToLower(host)
	for strings.HasPrefix(host, "www.") {
		host = host[len("www."):]
	}
	return host
}

// Canonicalize parses an absolute URL string and returns its canonical form.
// Input that cannot be parsed, or has no scheme, yields an error wrapping utils.ErrMalformedURL.
func Canonicalize(raw string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %w", utils.ErrMalformedURL, err)
	}
	if parsed.Scheme == "" {
		return "", fmt.Errorf("%w: '%s' has no scheme", utils.ErrMalformedURL, raw)
	}
	return NormalizeURL(parsed), nil
}

// Resolve resolves href against base (absolute-URL resolution per RFC 3986) and canonicalizes the result.
func Resolve(base, href string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("%w: base '%s': %w", utils.ErrMalformedURL, base, err)
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", fmt.Errorf("%w: href '%s': %w", utils.ErrMalformedURL, href, err)
	}
	resolved := baseURL.ResolveReference(ref)
	if resolved.Scheme == "" {
		return "", fmt.Errorf("%w: '%s' resolved against '%s' has no scheme", utils.ErrMalformedURL, href, base)
	}
	return NormalizeURL(resolved), nil
}

// Hostname returns the lowercased host of a canonical URL without port, or "" if it cannot be parsed.
func Hostname(canonical string) string {
	u, err := url.Parse(canonical)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
