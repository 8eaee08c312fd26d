package storage

import (
	"fmt"
	"log/slog"
	"strings"
)

// badgerLogger routes BadgerDB's own logging into slog, keeping only warnings and errors
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	slog.Error("badger: " + clean(format, args...))
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	slog.Warn("badger: " + clean(format, args...))
}

func (badgerLogger) Infof(string, ...interface{}) {}

func (badgerLogger) Debugf(string, ...interface{}) {}

func clean(format string, args ...interface{}) string {
	return strings.TrimRight(fmt.Sprintf(format, args...), "\n")
}
