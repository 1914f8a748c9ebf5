package process

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/ics-crawler/pkg/models"
	"github.com/Sriram-PR/ics-crawler/pkg/parse"
	"github.com/Sriram-PR/ics-crawler/pkg/utils"
)

// PageRecorder receives the text of every page that is parsed
type PageRecorder interface {
	RecordPage(pageURL, text string) error
}

// LinkScraper turns a fetch result into outbound links, feeding page text to the recorder
type LinkScraper struct {
	extractor HTMLExtractor
	recorder  PageRecorder
	maxBytes  int64
	log       *logrus.Entry
}

// NewLinkScraper creates a LinkScraper. Bodies longer than maxBytes are skipped.
func NewLinkScraper(extractor HTMLExtractor, recorder PageRecorder, maxBytes int64, log *logrus.Entry) *LinkScraper {
	return &LinkScraper{
		extractor: extractor,
		recorder:  recorder,
		maxBytes:  maxBytes,
		log:       log,
	}
}

// ExtractAndRecord returns the canonical absolute form of every link on a successfully fetched
// page, duplicates included. Non-2xx, empty and oversized responses yield no links.
// The error is non-nil only when recording page statistics failed.
func (ls *LinkScraper) ExtractAndRecord(sourceURL string, resp models.Response) ([]string, error) {
	pageLog := ls.log.WithFields(logrus.Fields{"url": sourceURL, "status": resp.Status})

	switch resp.Band() {
	case models.BandSuccess:
	case models.BandRedirect:
		pageLog.Debugf("Unfollowed redirect: %s", resp.Error)
		return nil, nil
	case models.BandClientError, models.BandServerError:
		pageLog.WithField("error_category", utils.CategorizeError(statusError(resp.Status))).Infof("Fetch failed: %s", resp.Error)
		return nil, nil
	case models.BandCrawlerError:
		pageLog.Errorf("Crawler-side fetch error: %s", resp.Error)
		return nil, nil
	default:
		pageLog.Warnf("Unexpected status: %s", resp.Error)
		return nil, nil
	}

	if len(resp.Content) == 0 {
		pageLog.WithField("error_category", utils.CategorizeError(utils.ErrOversizedOrEmpty)).Debug("Empty body, skipping")
		return nil, nil
	}
	if ls.maxBytes > 0 && int64(len(resp.Content)) > ls.maxBytes {
		pageLog.WithField("error_category", utils.CategorizeError(utils.ErrOversizedOrEmpty)).
			Infof("Body exceeds %d bytes, skipping", ls.maxBytes)
		return nil, nil
	}

	extraction, err := ls.extractor.Extract(resp.Content)
	if err != nil {
		pageLog.WithField("error_category", utils.CategorizeError(err)).Warnf("Extraction failed: %v", err)
		return nil, nil
	}

	if err := ls.recorder.RecordPage(sourceURL, extraction.Text); err != nil {
		return nil, err
	}

	links := make([]string, 0, len(extraction.Hrefs))
	for _, href := range extraction.Hrefs {
		resolved, err := parse.Resolve(sourceURL, href)
		if err != nil {
			pageLog.Debugf("Dropping href '%s': %v", href, err)
			continue
		}
		links = append(links, resolved)
	}
	pageLog.WithField("links", len(links)).Trace("Page scraped")
	return links, nil
}

func statusError(status int) error {
	if status >= 500 {
		return fmt.Errorf("%w: status %d", utils.ErrServerHTTPError, status)
	}
	return fmt.Errorf("%w: status %d", utils.ErrClientHTTPError, status)
}
