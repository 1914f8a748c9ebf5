package utils

import (
	"fmt"
	"regexp"

	"github.com/gobwas/glob"
)

// CompileRegexPatterns compiles regex strings into usable *regexp.Regexp objects.
// Empty patterns are skipped; an invalid pattern yields an ErrConfigValidation error.
func CompileRegexPatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for i, pattern := range patterns {
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid regex pattern #%d ('%s'): %w", ErrConfigValidation, i+1, pattern, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

// MatchesAny reports whether s matches at least one of the patterns.
func MatchesAny(patterns []*regexp.Regexp, s string) bool {
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// CompileHostGlobs compiles host patterns with '.' as the separator, so '*' matches one label.
// Empty patterns are skipped; an invalid pattern yields an ErrConfigValidation error.
func CompileHostGlobs(patterns []string) ([]glob.Glob, error) {
	compiled := make([]glob.Glob, 0, len(patterns))
	for i, pattern := range patterns {
		if pattern == "" {
			continue
		}
		g, err := glob.Compile(pattern, '.')
		if err != nil {
			return nil, fmt.Errorf("%w: invalid host glob #%d ('%s'): %w", ErrConfigValidation, i+1, pattern, err)
		}
		compiled = append(compiled, g)
	}
	return compiled, nil
}

// MatchesAnyGlob reports whether s matches at least one of the globs.
func MatchesAnyGlob(globs []glob.Glob, s string) bool {
	for _, g := range globs {
		if g.Match(s) {
			return true
		}
	}
	return false
}
