package fetch

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/ics-crawler/pkg/config"
)

var errTooManyRedirects = errors.New("too many redirects")

// NewClient creates the shared HTTP client. When cacheServer is set every request is sent
// through that proxy instead of the environment's proxy settings.
func NewClient(cfg config.HTTPClientConfig, cacheServer string, log *logrus.Entry) (*http.Client, error) {
	dialer := &net.Dialer{
		Timeout:   cfg.DialerTimeout,
		KeepAlive: cfg.DialerKeepAlive,
	}

	proxy := http.ProxyFromEnvironment
	if cacheServer != "" {
		proxyURL, err := url.Parse(cacheServer)
		if err != nil {
			return nil, fmt.Errorf("parse cache server '%s': %w", cacheServer, err)
		}
		proxy = http.ProxyURL(proxyURL)
		log.Infof("Routing requests through cache server %s", proxyURL.Redacted())
	}

	transport := &http.Transport{
		Proxy:                  proxy,
		DialContext:            dialer.DialContext,
		ForceAttemptHTTP2:      true,
		MaxIdleConns:           cfg.MaxIdleConns,
		MaxIdleConnsPerHost:    cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:        cfg.IdleConnTimeout,
		TLSHandshakeTimeout:    cfg.TLSHandshakeTimeout,
		ExpectContinueTimeout:  cfg.ExpectContinueTimeout,
		MaxResponseHeaderBytes: 1 << 20,
	}
	if cfg.ForceAttemptHTTP2 != nil {
		transport.ForceAttemptHTTP2 = *cfg.ForceAttemptHTTP2
	}

	maxRedirects := cfg.MaxRedirects
	if maxRedirects <= 0 {
		maxRedirects = 10
	}

	client := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("%w: stopped after %d", errTooManyRedirects, maxRedirects)
			}
			log.Debugf("Redirecting: %s -> %s (hop %d)", via[len(via)-1].URL, req.URL, len(via))
			return nil
		},
	}
	log.WithFields(logrus.Fields{
		"timeout":       cfg.Timeout,
		"max_redirects": maxRedirects,
	}).Debug("HTTP client initialized")
	return client, nil
}
