package models

import (
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// FrontierEntry is the persisted record for one canonical URL
type FrontierEntry struct {
	URL          string        `json:"url"`
	State        FrontierState `json:"state"`
	DiscoveredAt time.Time     `json:"discovered_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Response is the result of a single fetch. Status carries either the HTTP status
// or a reserved 6xx code; Error is set whenever the fetch did not succeed.
type Response struct {
	Status  int
	Error   string
	URL     string // Final URL after redirects
	Content []byte // nil when no body was read
}

// Band returns the status band of the response
func (r Response) Band() StatusBand {
	return BandFor(r.Status)
}

// RobotsRuleset records the outcome of the one robots.txt fetch made for a host
type RobotsRuleset struct {
	Host      string    `json:"host"`
	RawText   string    `json:"raw_text,omitempty"`
	Fetched   bool      `json:"fetched"` // True only when robots.txt returned 200 and parsed
	Status    int       `json:"status"`
	FetchedAt time.Time `json:"fetched_at"`
}

// LongestPage is the page with the highest word count seen so far
type LongestPage struct {
	URL       string `json:"url"`
	WordCount int    `json:"word_count"`
}

// WordFrequencies maps word -> count, iterating in first-insertion order
type WordFrequencies = orderedmap.OrderedMap[string, int]

// NewWordFrequencies returns an empty insertion-ordered frequency map
func NewWordFrequencies() *WordFrequencies {
	return orderedmap.New[string, int]()
}

// CrawlStats is the crawl-wide statistics snapshot persisted after every mutation
type CrawlStats struct {
	TotalURLsSeen       int              `json:"total_urls_seen"`
	TotalPagesFetched   int              `json:"total_pages_fetched"`
	LongestPage         LongestPage      `json:"longest_page"`
	WordFrequencies     *WordFrequencies `json:"word_frequencies"`
	SubdomainPageCounts map[string]int   `json:"subdomain_page_counts"`
}

// NewCrawlStats returns the zero-valued statistics with initialized maps
func NewCrawlStats() *CrawlStats {
	return &CrawlStats{
		WordFrequencies:     NewWordFrequencies(),
		SubdomainPageCounts: make(map[string]int),
	}
}

// WordCount is a single word and its frequency
type WordCount struct {
	Word  string
	Count int
}
