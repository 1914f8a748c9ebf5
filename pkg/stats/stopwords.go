package stats

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/ics-crawler/pkg/utils"
)

// StopwordSet holds lowercased words excluded from frequency counts. Read-only after construction.
type StopwordSet map[string]struct{}

// NewStopwordSet builds a set from the given words
func NewStopwordSet(words ...string) StopwordSet {
	set := make(StopwordSet, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			set[w] = struct{}{}
		}
	}
	return set
}

// Contains reports whether word is a stopword
func (s StopwordSet) Contains(word string) bool {
	_, ok := s[word]
	return ok
}

// LoadStopwords reads one stopword per line. A missing file yields an empty set and a warning.
func LoadStopwords(path string, log *logrus.Entry) (StopwordSet, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Warnf("Stopwords file '%s' not found, counting every word", path)
			return StopwordSet{}, nil
		}
		return nil, fmt.Errorf("%w: open stopwords '%s': %w", utils.ErrFilesystem, path, err)
	}
	defer file.Close()

	var words []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		words = append(words, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: read stopwords '%s': %w", utils.ErrFilesystem, path, err)
	}

	set := NewStopwordSet(words...)
	log.Debugf("Loaded %d stopwords from '%s'", len(set), path)
	return set, nil
}
