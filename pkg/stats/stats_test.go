package stats

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/ics-crawler/pkg/models"
	"github.com/Sriram-PR/ics-crawler/pkg/utils"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func newTestAggregator(t *testing.T, stopwords StopwordSet) (*Aggregator, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "crawl_stats.json")
	agg, err := NewAggregator(path, stopwords, "ics.uci.edu", false, testLogger())
	require.NoError(t, err)
	return agg, path
}

func frequencies(t *testing.T, agg *Aggregator) []models.WordCount {
	t.Helper()
	var out []models.WordCount
	for pair := agg.stats.WordFrequencies.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, models.WordCount{Word: pair.Key, Count: pair.Value})
	}
	return out
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"the", "quick", "quick", "fox-jumps"}, Tokenize("The Quick, quick fox-jumps"))
	assert.Equal(t, []string{"can't", "stop"}, Tokenize("I can't stop 42 a"))
	assert.Empty(t, Tokenize("1 2 3 x y"))
}

func TestRecordPage_WordFrequencies(t *testing.T) {
	agg, _ := newTestAggregator(t, NewStopwordSet("the"))

	require.NoError(t, agg.RecordPage("https://ics.uci.edu/a", "The Quick, quick fox-jumps"))

	assert.Equal(t, []models.WordCount{{Word: "quick", Count: 2}, {Word: "fox-jumps", Count: 1}}, frequencies(t, agg))
	summary := agg.Summary()
	assert.Equal(t, 1, summary.TotalPagesFetched)
	assert.Equal(t, models.LongestPage{URL: "https://ics.uci.edu/a", WordCount: 4}, summary.LongestPage)
}

func TestRecordPage_LongestPageStrictlyGreater(t *testing.T) {
	agg, _ := newTestAggregator(t, nil)

	require.NoError(t, agg.RecordPage("https://ics.uci.edu/first", "alpha beta gamma"))
	require.NoError(t, agg.RecordPage("https://ics.uci.edu/tie", "delta epsilon zeta"))
	assert.Equal(t, "https://ics.uci.edu/first", agg.Summary().LongestPage.URL)

	require.NoError(t, agg.RecordPage("https://ics.uci.edu/longer", "one two three four"))
	assert.Equal(t, models.LongestPage{URL: "https://ics.uci.edu/longer", WordCount: 4}, agg.Summary().LongestPage)

	require.NoError(t, agg.RecordPage("https://ics.uci.edu/empty", ""))
	assert.Equal(t, 4, agg.Summary().TotalPagesFetched)
}

func TestRecordPage_SubdomainCounts(t *testing.T) {
	agg, _ := newTestAggregator(t, nil)

	for _, u := range []string{
		"https://ics.uci.edu/",
		"https://ics.uci.edu/people",
		"http://vision.ics.uci.edu/",
		"https://www.ics.uci.edu/about",
		"https://cs.uci.edu/",
		"https://physics.uci.edu/",
	} {
		require.NoError(t, agg.RecordPage(u, "words here"))
	}

	assert.Equal(t, map[string]int{"ics.uci.edu": 3, "vision.ics.uci.edu": 1}, agg.SubdomainCounts())
}

func TestTopWords_TieOrder(t *testing.T) {
	agg, _ := newTestAggregator(t, nil)
	require.NoError(t, agg.RecordPage("https://ics.uci.edu/", "zebra apple mango apple zebra kiwi"))

	assert.Equal(t, []models.WordCount{
		{Word: "zebra", Count: 2},
		{Word: "apple", Count: 2},
		{Word: "mango", Count: 1},
	}, agg.TopWords(3))
	assert.Len(t, agg.TopWords(100), 4)
	assert.Nil(t, agg.TopWords(0))
}

func TestPersistence_RoundTrip(t *testing.T) {
	agg, path := newTestAggregator(t, NewStopwordSet("and"))
	require.NoError(t, agg.RecordURLSeen())
	require.NoError(t, agg.RecordURLSeen())
	require.NoError(t, agg.RecordPage("https://vision.ics.uci.edu/", "zulu and yankee and zulu xray"))

	resumed, err := NewAggregator(path, NewStopwordSet("and"), "ics.uci.edu", true, testLogger())
	require.NoError(t, err)

	assert.Equal(t, agg.Summary(), resumed.Summary())
	assert.Equal(t, frequencies(t, agg), frequencies(t, resumed))
	assert.Equal(t, agg.TopWords(10), resumed.TopWords(10))
	assert.Equal(t, agg.SubdomainCounts(), resumed.SubdomainCounts())

	require.NoError(t, resumed.RecordURLSeen())
	assert.Equal(t, 3, resumed.Summary().TotalURLsSeen)
}

func TestPersistence_FileLayout(t *testing.T) {
	agg, path := newTestAggregator(t, nil)
	require.NoError(t, agg.RecordPage("https://ics.uci.edu/", "bravo alpha"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, key := range []string{"total_urls_seen", "total_pages_fetched", "longest_page", "word_frequencies", "subdomain_page_counts"} {
		assert.Contains(t, raw, key)
	}
	assert.Less(t, strings.Index(string(raw["word_frequencies"]), "bravo"), strings.Index(string(raw["word_frequencies"]), "alpha"))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files are renamed into place")
}

func TestNewAggregator_ResetAndMissing(t *testing.T) {
	agg, path := newTestAggregator(t, nil)
	require.NoError(t, agg.RecordURLSeen())

	fresh, err := NewAggregator(path, nil, "ics.uci.edu", false, testLogger())
	require.NoError(t, err)
	assert.Equal(t, 0, fresh.Summary().TotalURLsSeen)

	missing := filepath.Join(t.TempDir(), "nested", "stats.json")
	resumed, err := NewAggregator(missing, nil, "ics.uci.edu", true, testLogger())
	require.NoError(t, err)
	assert.Equal(t, Summary{}, resumed.Summary())
	assert.FileExists(t, missing)
}

func TestNewAggregator_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := NewAggregator(path, nil, "ics.uci.edu", true, testLogger())
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrPersistence)
}

func TestPersistence_WriteFailure(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))

	_, err := NewAggregator(filepath.Join(blocker, "stats.json"), nil, "ics.uci.edu", false, testLogger())
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrPersistence)
	assert.ErrorIs(t, err, utils.ErrFilesystem)
}

func TestLoad_ReadOnly(t *testing.T) {
	agg, path := newTestAggregator(t, nil)
	require.NoError(t, agg.RecordURLSeen())

	report, err := Load(path, testLogger())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Summary().TotalURLsSeen)
	assert.ErrorIs(t, report.RecordURLSeen(), utils.ErrPersistence)

	_, err = Load(filepath.Join(t.TempDir(), "absent.json"), testLogger())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWriteReport(t *testing.T) {
	agg, _ := newTestAggregator(t, NewStopwordSet("the"))
	require.NoError(t, agg.RecordURLSeen())
	require.NoError(t, agg.RecordURLSeen())
	require.NoError(t, agg.RecordPage("https://vision.ics.uci.edu/", "the robot vision robot"))
	require.NoError(t, agg.RecordPage("https://ics.uci.edu/", "robot"))

	var buf bytes.Buffer
	require.NoError(t, agg.WriteReport(&buf, 2))
	out := buf.String()

	assert.Contains(t, out, "2 total unique URLs discovered\n")
	assert.Contains(t, out, "2 pages fetched\n")
	assert.Contains(t, out, "Longest page is https://vision.ics.uci.edu/ with 4 words\n")
	assert.Contains(t, out, " 1. robot (3)\n")
	assert.Contains(t, out, " 2. vision (1)\n")
	assert.Contains(t, out, "Number of subdomains discovered: 2\nics.uci.edu, 1\nvision.ics.uci.edu, 1\n")
}

func TestLoadStopwords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stopwords.txt")
	require.NoError(t, os.WriteFile(path, []byte("The\nand\n\n  of  \n"), 0644))

	set, err := LoadStopwords(path, testLogger())
	require.NoError(t, err)
	assert.Len(t, set, 3)
	assert.True(t, set.Contains("the"))
	assert.True(t, set.Contains("of"))

	missing, err := LoadStopwords(filepath.Join(t.TempDir(), "none.txt"), testLogger())
	require.NoError(t, err)
	assert.Empty(t, missing)
}
