package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/ics-crawler/pkg/config"
	"github.com/Sriram-PR/ics-crawler/pkg/models"
	"github.com/Sriram-PR/ics-crawler/pkg/utils"
)

// Fetcher issues GET requests with optional retries and converts the outcome into a models.Response
type Fetcher struct {
	client *http.Client
	cfg    *config.AppConfig // user agent, body limit and retry settings
	log    *logrus.Entry
}

// NewFetcher creates a new Fetcher instance
func NewFetcher(client *http.Client, cfg *config.AppConfig, log *logrus.Entry) *Fetcher {
	return &Fetcher{
		client: client,
		cfg:    cfg,
		log:    log,
	}
}

// Fetch downloads rawURL. It never returns an error: failures are reported through the
// reserved 6xx statuses and Response.Error. At most max_page_size_kb+1 bytes of a 2xx body
// are read so callers can detect oversized pages.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) models.Response {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return models.Response{
			Status: models.StatusRequestError,
			Error:  fmt.Errorf("%w: %w", utils.ErrRequestCreation, err).Error(),
			URL:    rawURL,
		}
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := f.FetchWithRetry(ctx, req)
	if resp == nil {
		if err == nil {
			err = utils.ErrFetchFailure
		}
		return models.Response{Status: models.StatusTransportError, Error: err.Error(), URL: rawURL}
	}
	defer resp.Body.Close()

	result := models.Response{Status: resp.StatusCode, URL: rawURL}
	if resp.Request != nil && resp.Request.URL != nil {
		result.URL = resp.Request.URL.String()
	}
	if err != nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		result.Error = err.Error()
		return result
	}

	var body io.Reader = resp.Body
	if limit := f.cfg.MaxPageSizeBytes(); limit > 0 {
		body = io.LimitReader(resp.Body, limit+1)
	}
	content, err := io.ReadAll(body)
	if err != nil {
		f.log.WithField("url", rawURL).Warnf("Failed reading body: %v", err)
		return models.Response{
			Status: models.StatusBodyReadError,
			Error:  fmt.Errorf("%w: %w", utils.ErrResponseBodyRead, err).Error(),
			URL:    result.URL,
		}
	}
	result.Content = content
	return result
}

// FetchWithRetry performs req with exponential backoff and jitter for transient network errors,
// 5xx and 429 responses. On a 2xx the response is returned with a nil error. For other 4xx and
// non-2xx statuses both the response and an error are returned; the caller must close the body.
func (f *Fetcher) FetchWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error
	var currentResp *http.Response

	reqLog := f.log.WithField("url", req.URL.String())

	maxRetries := f.cfg.MaxRetries
	initialRetryDelay := f.cfg.InitialRetryDelay
	maxRetryDelay := f.cfg.MaxRetryDelay

	for attempt := 0; attempt <= maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return nil, fmt.Errorf("context cancelled (%v) during retry backoff after error: %w", ctx.Err(), lastErr)
			}
			return nil, fmt.Errorf("context cancelled before first attempt: %w", ctx.Err())
		default:
		}

		if attempt > 0 {
			backoff := float64(initialRetryDelay) * math.Pow(2, float64(attempt-1))
			delay := time.Duration(backoff)
			if delay <= 0 || delay > maxRetryDelay {
				delay = maxRetryDelay
			}

			// +/- 10% jitter
			var jitter time.Duration
			if jitterRange := int64(delay) / 5; jitterRange > 0 {
				jitter = time.Duration(rand.Int63n(jitterRange)) - (delay / 10)
			}
			finalDelay := delay + jitter
			if finalDelay < 0 {
				finalDelay = 0
			}

			reqLog.WithFields(logrus.Fields{"attempt": attempt, "max_retries": maxRetries, "delay": finalDelay}).Warn("Retrying request...")

			timer := time.NewTimer(finalDelay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				if lastErr != nil {
					return nil, fmt.Errorf("context cancelled (%v) during retry delay after error: %w", ctx.Err(), lastErr)
				}
				return nil, fmt.Errorf("context cancelled during retry delay: %w", ctx.Err())
			}
		}

		currentResp, lastErr = f.client.Do(req.WithContext(ctx))

		if lastErr != nil {
			if currentResp != nil {
				io.Copy(io.Discard, currentResp.Body)
				currentResp.Body.Close()
				currentResp = nil
			}
			// Client timeouts are retried; cancellation of the caller's context is not
			if errors.Is(lastErr, context.Canceled) || (errors.Is(lastErr, context.DeadlineExceeded) && ctx.Err() != nil) {
				return nil, lastErr
			}
			if errors.Is(lastErr, errTooManyRedirects) {
				return nil, fmt.Errorf("%w: %w", utils.ErrFetchFailure, lastErr)
			}
			reqLog.WithField("attempt", attempt).Debugf("Network error: %v", lastErr)
			continue
		}

		statusCode := currentResp.StatusCode
		resLog := reqLog.WithFields(logrus.Fields{"status_code": statusCode, "attempt": attempt})

		switch {
		case statusCode >= 200 && statusCode < 300:
			resLog.Trace("Successfully fetched")
			return currentResp, nil

		case statusCode >= 500 && attempt < maxRetries:
			resLog.Debug("Server error, retrying")
			lastErr = fmt.Errorf("%w: status %s", utils.ErrServerHTTPError, currentResp.Status)
			io.Copy(io.Discard, currentResp.Body)
			currentResp.Body.Close()
			currentResp = nil

		case statusCode == http.StatusTooManyRequests && attempt < maxRetries:
			resLog.Debug("Received 429 Too Many Requests, retrying")
			lastErr = fmt.Errorf("%w: status %s", utils.ErrClientHTTPError, currentResp.Status)
			io.Copy(io.Discard, currentResp.Body)
			currentResp.Body.Close()
			currentResp = nil

		case statusCode >= 500:
			return currentResp, fmt.Errorf("%w: status %s", utils.ErrServerHTTPError, currentResp.Status)

		case statusCode >= 400:
			return currentResp, fmt.Errorf("%w: status %s", utils.ErrClientHTTPError, currentResp.Status)

		default:
			return currentResp, fmt.Errorf("%w: status %s", utils.ErrOtherHTTPError, currentResp.Status)
		}
	}

	if maxRetries > 0 {
		reqLog.Warnf("All %d fetch attempts failed. Last error: %v", maxRetries+1, lastErr)
	}
	if lastErr == nil {
		return nil, utils.ErrRetryFailed
	}
	if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
		return nil, lastErr
	}
	return nil, fmt.Errorf("%w: %w", utils.ErrRetryFailed, lastErr)
}
