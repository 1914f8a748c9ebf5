package log

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// BadgerLogger implements badger.Logger on top of a logrus entry.
// Badger reports routine compaction and flush activity at info level; those lines are demoted
// to debug so they do not drown the crawl progress log.
type BadgerLogger struct {
	entry *logrus.Entry
}

// NewBadgerLogger creates a new adapter
func NewBadgerLogger(entry *logrus.Entry) *BadgerLogger {
	return &BadgerLogger{entry: entry}
}

func (l *BadgerLogger) Errorf(f string, v ...interface{}) { l.entry.Errorf(trim(f), v...) }

func (l *BadgerLogger) Warningf(f string, v ...interface{}) { l.entry.Warnf(trim(f), v...) }

func (l *BadgerLogger) Infof(f string, v ...interface{}) { l.entry.Debugf(trim(f), v...) }

func (l *BadgerLogger) Debugf(f string, v ...interface{}) { l.entry.Tracef(trim(f), v...) }

// trim drops the trailing newline badger appends to most format strings
func trim(f string) string {
	return strings.TrimRight(f, "\n")
}
