package stats

import (
	"bufio"
	"fmt"
	"io"
	"sort"
)

// DefaultReportTopN is the number of words listed by WriteReport when topN <= 0
const DefaultReportTopN = 50

// WriteReport prints the human-readable crawl summary
func (a *Aggregator) WriteReport(w io.Writer, topN int) error {
	if topN <= 0 {
		topN = DefaultReportTopN
	}
	summary := a.Summary()
	top := a.TopWords(topN)
	subdomains := a.SubdomainCounts()

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%d total unique URLs discovered\n", summary.TotalURLsSeen)
	fmt.Fprintf(bw, "%d pages fetched\n", summary.TotalPagesFetched)
	if summary.LongestPage.URL == "" {
		fmt.Fprintln(bw, "Longest page: none recorded")
	} else {
		fmt.Fprintf(bw, "Longest page is %s with %d words\n", summary.LongestPage.URL, summary.LongestPage.WordCount)
	}

	fmt.Fprintf(bw, "\n%d most common words:\n", topN)
	for i, wc := range top {
		fmt.Fprintf(bw, "%2d. %s (%d)\n", i+1, wc.Word, wc.Count)
	}

	hosts := make([]string, 0, len(subdomains))
	for host := range subdomains {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	fmt.Fprintf(bw, "\nNumber of subdomains discovered: %d\n", len(hosts))
	for _, host := range hosts {
		fmt.Fprintf(bw, "%s, %d\n", host, subdomains[host])
	}
	return bw.Flush()
}
