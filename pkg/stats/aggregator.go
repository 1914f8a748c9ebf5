package stats

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/ics-crawler/pkg/models"
	"github.com/Sriram-PR/ics-crawler/pkg/parse"
	"github.com/Sriram-PR/ics-crawler/pkg/utils"
)

const (
	persistAttempts     = 3
	persistInitialDelay = 50 * time.Millisecond
)

// Aggregator accumulates crawl statistics and persists the full snapshot after every mutation
type Aggregator struct {
	mu            sync.Mutex
	path          string
	stats         *models.CrawlStats
	stopwords     StopwordSet
	primaryDomain string
	readOnly      bool
	log           *logrus.Entry
}

// Summary is the scalar part of the statistics, used for progress logging
type Summary struct {
	TotalURLsSeen     int
	TotalPagesFetched int
	LongestPage       models.LongestPage
	UniqueWords       int
	Subdomains        int
}

// NewAggregator opens the stats file at path. When resume is set the existing file is loaded
// (a missing file starts from zero); otherwise the file is reset to zero values.
func NewAggregator(path string, stopwords StopwordSet, primaryDomain string, resume bool, log *logrus.Entry) (*Aggregator, error) {
	a := &Aggregator{
		path:          path,
		stats:         models.NewCrawlStats(),
		stopwords:     stopwords,
		primaryDomain: strings.ToLower(primaryDomain),
		log:           log,
	}
	if a.stopwords == nil {
		a.stopwords = StopwordSet{}
	}

	if resume {
		loaded, err := readStats(path)
		switch {
		case err == nil:
			a.stats = loaded
			log.WithFields(logrus.Fields{
				"urls_seen":     loaded.TotalURLsSeen,
				"pages_fetched": loaded.TotalPagesFetched,
				"unique_words":  loaded.WordFrequencies.Len(),
			}).Info("Resumed crawl statistics")
			return a, nil
		case errors.Is(err, os.ErrNotExist):
			log.Warnf("Stats file '%s' not found, starting from zero", path)
		default:
			return nil, err
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.persistLocked(); err != nil {
		return nil, err
	}
	return a, nil
}

// Load opens an existing stats file for reporting. The returned aggregator rejects mutations.
func Load(path string, log *logrus.Entry) (*Aggregator, error) {
	loaded, err := readStats(path)
	if err != nil {
		return nil, err
	}
	return &Aggregator{path: path, stats: loaded, stopwords: StopwordSet{}, readOnly: true, log: log}, nil
}

func readStats(path string) (*models.CrawlStats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w: read stats '%s': %w", utils.ErrPersistence, utils.ErrFilesystem, path, err)
	}
	loaded := models.NewCrawlStats()
	if err := json.Unmarshal(data, loaded); err != nil {
		return nil, fmt.Errorf("%w: %w: JSON stats '%s': %w", utils.ErrPersistence, utils.ErrParsing, path, err)
	}
	if loaded.WordFrequencies == nil {
		loaded.WordFrequencies = models.NewWordFrequencies()
	}
	if loaded.SubdomainPageCounts == nil {
		loaded.SubdomainPageCounts = make(map[string]int)
	}
	return loaded, nil
}

// RecordURLSeen counts one newly discovered unique URL
func (a *Aggregator) RecordURLSeen() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats.TotalURLsSeen++
	return a.persistLocked()
}

// RecordPage folds the visible text of one fetched page into the statistics.
// The word count used for the longest page includes stopwords.
func (a *Aggregator) RecordPage(pageURL, text string) error {
	tokens := Tokenize(text)
	host := parse.NormalizeHost(parse.Hostname(pageURL))

	a.mu.Lock()
	defer a.mu.Unlock()

	a.stats.TotalPagesFetched++
	if len(tokens) > a.stats.LongestPage.WordCount {
		a.stats.LongestPage = models.LongestPage{URL: pageURL, WordCount: len(tokens)}
	}

	freq := a.stats.WordFrequencies
	for _, tok := range tokens {
		if a.stopwords.Contains(tok) {
			continue
		}
		count, _ := freq.Get(tok)
		freq.Set(tok, count+1)
	}

	if a.underPrimaryDomain(host) {
		a.stats.SubdomainPageCounts[host]++
	}
	return a.persistLocked()
}

func (a *Aggregator) underPrimaryDomain(host string) bool {
	if host == "" || a.primaryDomain == "" {
		return false
	}
	return host == a.primaryDomain || strings.HasSuffix(host, "."+a.primaryDomain)
}

// TopWords returns up to n words by descending count. Equal counts keep first-insertion order.
func (a *Aggregator) TopWords(n int) []models.WordCount {
	if n <= 0 {
		return nil
	}
	a.mu.Lock()
	words := make([]models.WordCount, 0, a.stats.WordFrequencies.Len())
	for pair := a.stats.WordFrequencies.Oldest(); pair != nil; pair = pair.Next() {
		words = append(words, models.WordCount{Word: pair.Key, Count: pair.Value})
	}
	a.mu.Unlock()

	sort.SliceStable(words, func(i, j int) bool {
		return words[i].Count > words[j].Count
	})
	if len(words) > n {
		words = words[:n]
	}
	return words
}

// Summary returns the current totals
func (a *Aggregator) Summary() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Summary{
		TotalURLsSeen:     a.stats.TotalURLsSeen,
		TotalPagesFetched: a.stats.TotalPagesFetched,
		LongestPage:       a.stats.LongestPage,
		UniqueWords:       a.stats.WordFrequencies.Len(),
		Subdomains:        len(a.stats.SubdomainPageCounts),
	}
}

// SubdomainCounts returns a copy of the per-subdomain page counts
func (a *Aggregator) SubdomainCounts() map[string]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]int, len(a.stats.SubdomainPageCounts))
	for host, count := range a.stats.SubdomainPageCounts {
		out[host] = count
	}
	return out
}

// persistLocked writes the snapshot with retries; caller holds mu.
func (a *Aggregator) persistLocked() error {
	if a.readOnly {
		return fmt.Errorf("%w: stats '%s' opened read-only", utils.ErrPersistence, a.path)
	}
	data, err := json.MarshalIndent(a.stats, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal stats: %w", utils.ErrPersistence, err)
	}

	delay := persistInitialDelay
	for attempt := 1; ; attempt++ {
		err = writeFileAtomic(a.path, data)
		if err == nil {
			return nil
		}
		if attempt >= persistAttempts {
			break
		}
		a.log.WithError(err).Warnf("Stats write attempt %d/%d failed, retrying in %v", attempt, persistAttempts, delay)
		time.Sleep(delay)
		delay *= 2
	}
	return fmt.Errorf("%w: %w: write stats '%s' after %d attempts: %w",
		utils.ErrPersistence, utils.ErrFilesystem, a.path, persistAttempts, err)
}

// writeFileAtomic writes data to a temp file in the target directory and renames it into place
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
