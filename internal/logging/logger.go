// Package logging implements the diagnostic logger used across the cache.
// It follows the house style of this project's structural ancestor: a thin
// wrapper around the standard log.Logger with a verbosity gate, writing
// either to stderr or to a named file (not both), rather than a
// structured-logging framework.
package logging

import (
	"fmt"
	"log"
	"os"
	"time"
)

// Logger writes verbosity-gated diagnostic lines. The zero value is a
// disabled logger (every call is a no-op); construct an enabled one with New.
type Logger struct {
	impl      *log.Logger
	fileName  string
	verbosity int
}

// New returns a Logger. If enabled is false, Info/Error are no-ops (used
// when CLCACHE_LOG is unset, per spec §6). fileName, if non-empty, directs
// output to that file instead of stderr.
func New(enabled bool, fileName string, verbosity int) (*Logger, error) {
	if !enabled {
		return &Logger{}, nil
	}

	var out *os.File
	if fileName != "" {
		f, err := os.OpenFile(fileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("logging: opening %s: %w", fileName, err)
		}
		out = f
	} else {
		out = os.Stderr
	}

	return &Logger{
		impl:      log.New(out, "", 0),
		fileName:  fileName,
		verbosity: verbosity,
	}, nil
}

func formatLine(prefix string, v ...any) string {
	return fmt.Sprintf("%s %s %s", time.Now().Format("2006-01-02 15:04:05.000"), prefix, fmt.Sprintln(v...))
}

// Info logs v at the given verbosity level if the logger's configured
// verbosity is at least that high.
func (l *Logger) Info(verbosity int, v ...any) {
	if l == nil || l.impl == nil || l.verbosity < verbosity {
		return
	}
	_ = l.impl.Output(0, formatLine("INFO", v...))
}

// Error always logs, regardless of verbosity.
func (l *Logger) Error(v ...any) {
	if l == nil || l.impl == nil {
		return
	}
	_ = l.impl.Output(0, formatLine("ERROR", v...))
}

// RotateLogFile reopens the log file, for use after external log rotation
// (e.g. logrotate renaming the old file).
func (l *Logger) RotateLogFile() error {
	if l == nil || l.fileName == "" {
		return nil
	}
	f, err := os.OpenFile(l.fileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	l.impl = log.New(f, "", 0)
	return nil
}
