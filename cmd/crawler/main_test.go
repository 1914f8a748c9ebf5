package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/ics-crawler/pkg/stats"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0644))
	return cfgPath
}

func TestLoadConfig_ValidFile(t *testing.T) {
	cfgPath := writeConfig(t, `
user_agent: "IR test 12345678"
seed_urls: ["https://www.ics.uci.edu"]
num_workers: 4
politeness_delay: 750ms
politeness_scope: worker
filter:
  allowed_domains: ["ics.uci.edu"]
  max_query_params: 3
`)

	cfg, err := loadConfig(cfgPath)

	require.NoError(t, err)
	assert.Equal(t, 4, cfg.NumWorkers)
	assert.Equal(t, 750*time.Millisecond, cfg.PolitenessDelay)
	assert.Equal(t, "worker", cfg.PolitenessScope)
	assert.Equal(t, []string{"ics.uci.edu"}, cfg.Filter.AllowedDomains)
	assert.Equal(t, 3, cfg.Filter.MaxQueryParams)
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	_, err := loadConfig("/nonexistent/path/config.yaml")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	cfgPath := writeConfig(t, "{{invalid yaml")

	_, err := loadConfig(cfgPath)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestDoValidate_Valid(t *testing.T) {
	cfgPath := writeConfig(t, `
user_agent: "IR test"
seed_urls: ["https://www.ics.uci.edu", "https://www.stat.uci.edu"]
num_workers: 2
politeness_delay: 500ms
state_dir: "./state"
stats_file: "./stats.json"
`)

	var stdout, stderr bytes.Buffer
	exitCode := doValidate(cfgPath, &stdout, &stderr)

	assert.Equal(t, 0, exitCode)
	assert.Contains(t, stdout.String(), "OK: 2 seed(s), 4 allowed domain(s), 2 worker(s)")
	assert.Contains(t, stdout.String(), "host scope")
	assert.Contains(t, stdout.String(), "Configuration valid")
	assert.Empty(t, stderr.String())
}

func TestDoValidate_ExampleConfig(t *testing.T) {
	var stdout, stderr bytes.Buffer
	exitCode := doValidate(filepath.Join("..", "..", "config.example.yaml"), &stdout, &stderr)

	assert.Equal(t, 0, exitCode, stderr.String())
	assert.NotContains(t, stdout.String(), "WARN")
	assert.Contains(t, stdout.String(), "OK: 4 seed(s), 4 allowed domain(s), 4 worker(s)")
}

func TestDoValidate_WarnsOnDefaults(t *testing.T) {
	cfgPath := writeConfig(t, "num_workers: 0\n")

	var stdout, stderr bytes.Buffer
	exitCode := doValidate(cfgPath, &stdout, &stderr)

	assert.Equal(t, 0, exitCode)
	assert.Contains(t, stdout.String(), "WARN: seed_urls is empty")
	assert.Contains(t, stdout.String(), "WARN: num_workers should be > 0")
}

func TestDoValidate_InvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad scope", "politeness_scope: everywhere\n"},
		{"relative seed", "seed_urls: [\"/people\"]\n"},
		{"empty allow-list", "filter:\n  allowed_domains: []\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfgPath := writeConfig(t, tt.content)

			var stdout, stderr bytes.Buffer
			exitCode := doValidate(cfgPath, &stdout, &stderr)

			assert.Equal(t, 1, exitCode)
			assert.Contains(t, stderr.String(), "ERROR")
			assert.NotContains(t, stdout.String(), "Configuration valid")
		})
	}
}

func TestDoValidate_ConfigNotFound(t *testing.T) {
	var stdout, stderr bytes.Buffer
	exitCode := doValidate("/nonexistent.yaml", &stdout, &stderr)

	assert.Equal(t, 1, exitCode)
	assert.Contains(t, stderr.String(), "Error")
}

func writeStatsFile(t *testing.T) string {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	path := filepath.Join(t.TempDir(), "crawl_stats.json")
	agg, err := stats.NewAggregator(path, stats.NewStopwordSet("the"), "ics.uci.edu", false, logrus.NewEntry(log))
	require.NoError(t, err)
	require.NoError(t, agg.RecordURLSeen())
	require.NoError(t, agg.RecordURLSeen())
	require.NoError(t, agg.RecordPage("https://vision.ics.uci.edu/", "the robots parse the robots"))
	return path
}

func TestDoStats_ExplicitFile(t *testing.T) {
	statsPath := writeStatsFile(t)

	var stdout, stderr bytes.Buffer
	exitCode := doStats("/nonexistent.yaml", statsPath, 10, &stdout, &stderr)

	assert.Equal(t, 0, exitCode)
	out := stdout.String()
	assert.Contains(t, out, "2 total unique URLs discovered")
	assert.Contains(t, out, "1 pages fetched")
	assert.Contains(t, out, "Longest page is https://vision.ics.uci.edu/ with 5 words")
	assert.Contains(t, out, "robots (2)")
	assert.NotContains(t, out, "the (")
	assert.Contains(t, out, "vision.ics.uci.edu, 1")
}

func TestDoStats_FromConfig(t *testing.T) {
	statsPath := writeStatsFile(t)
	cfgPath := writeConfig(t, "stats_file: \""+statsPath+"\"\n")

	var stdout, stderr bytes.Buffer
	exitCode := doStats(cfgPath, "", 10, &stdout, &stderr)

	assert.Equal(t, 0, exitCode)
	assert.Contains(t, stdout.String(), "1 pages fetched")
}

func TestDoStats_Errors(t *testing.T) {
	t.Run("missing stats file", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		exitCode := doStats("", filepath.Join(t.TempDir(), "absent.json"), 10, &stdout, &stderr)

		assert.Equal(t, 1, exitCode)
		assert.Contains(t, stderr.String(), "Error")
	})

	t.Run("missing config", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		exitCode := doStats("/nonexistent.yaml", "", 10, &stdout, &stderr)

		assert.Equal(t, 1, exitCode)
		assert.Contains(t, stderr.String(), "read config")
	})
}

func TestSetupLogger(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, setupLogger("debug").GetLevel())
	assert.Equal(t, logrus.InfoLevel, setupLogger("not-a-level").GetLevel())
}

func TestPrintUsageTo(t *testing.T) {
	var buf bytes.Buffer
	printUsageTo(&buf)

	out := buf.String()
	assert.Contains(t, out, "crawl")
	assert.Contains(t, out, "resume")
	assert.Contains(t, out, "stats")
	assert.Contains(t, out, "validate")
	assert.Contains(t, out, "version")
}
