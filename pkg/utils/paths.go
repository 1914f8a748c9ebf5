package utils

import (
	"regexp"
	"strings"
)

var unsafeStateNameChars = regexp.MustCompile(`[^a-z0-9._-]+`)

const maxStateNameLength = 100

// StateFileName builds "<name>_<suffix>" for entries under the state directory.
// The name is lowercased and each run of characters outside [a-z0-9._-] becomes one underscore.
func StateFileName(name, suffix string) string {
	clean := unsafeStateNameChars.ReplaceAllString(strings.ToLower(name), "_")
	clean = strings.Trim(clean, "_.")
	if len(clean) > maxStateNameLength {
		clean = strings.Trim(clean[:maxStateNameLength], "_.")
	}
	if clean == "" {
		clean = "crawl"
	}
	if suffix == "" {
		return clean
	}
	return clean + "_" + suffix
}
