// Package logs implements a small leveled-logging backend in the style of
// btcsuite's btclog: a Backend fans output out to a set of BackendWriters,
// and each subsystem gets its own Logger with an independently adjustable
// Level.
package logs

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Level is the level at which a message is being logged.
type Level uint32

// Supported logging levels, from the least to the most severe.
const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelCritical
	LevelOff
)

var levelStrings = map[Level]string{
	LevelTrace:    "TRC",
	LevelDebug:    "DBG",
	LevelInfo:     "INF",
	LevelWarn:     "WRN",
	LevelError:    "ERR",
	LevelCritical: "CRT",
	LevelOff:      "OFF",
}

// String returns the string representation of the level.
func (l Level) String() string {
	if s, ok := levelStrings[l]; ok {
		return s
	}
	return "UNK"
}

// LevelFromString returns the Level matching the given case-insensitive
// string, and whether the match succeeded. An unrecognized string maps to
// LevelInfo, a "defaults to info" policy.
func LevelFromString(s string) (level Level, ok bool) {
	switch strings.ToLower(s) {
	case "trace":
		return LevelTrace, true
	case "debug":
		return LevelDebug, true
	case "info":
		return LevelInfo, true
	case "warn", "warning":
		return LevelWarn, true
	case "error":
		return LevelError, true
	case "critical":
		return LevelCritical, true
	case "off":
		return LevelOff, true
	}
	return LevelInfo, false
}

// BackendWriter is a sink that a Backend writes formatted log lines to. A
// writer may filter by level (e.g. an error-only file).
type BackendWriter struct {
	minLevel Level
	w        io.Writer
}

// NewAllLevelsBackendWriter returns a BackendWriter that accepts every level.
func NewAllLevelsBackendWriter(w io.Writer) *BackendWriter {
	return &BackendWriter{minLevel: LevelTrace, w: w}
}

// NewErrorBackendWriter returns a BackendWriter that only accepts Error and
// more severe levels.
func NewErrorBackendWriter(w io.Writer) *BackendWriter {
	return &BackendWriter{minLevel: LevelError, w: w}
}

// Backend multiplexes formatted log lines from every subsystem Logger to
// its writers.
type Backend struct {
	writers []*BackendWriter
	mtx     sync.Mutex
	closed  bool
}

// NewBackend creates a logging backend writing to the given writers.
func NewBackend(writers []*BackendWriter) *Backend {
	return &Backend{writers: writers}
}

// Logger returns a new Logger for the given subsystem tag, defaulting to
// LevelInfo.
func (b *Backend) Logger(subsystemTag string) *Logger {
	l := &Logger{tag: subsystemTag, backend: b}
	l.level = uint32(LevelInfo)
	return l
}

// Close closes every underlying writer that implements io.Closer.
func (b *Backend) Close() error {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	var firstErr error
	for _, bw := range b.writers {
		if c, ok := bw.w.(io.Closer); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (b *Backend) print(tag string, level Level, msg string) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	if b.closed {
		return
	}
	line := fmt.Sprintf("%s [%s] %s %s\n", time.Now().Format("2006-01-02 15:04:05.000"), level, tag, msg)
	for _, bw := range b.writers {
		if level < bw.minLevel {
			continue
		}
		_, _ = io.WriteString(bw.w, line)
	}
}

// Logger is a per-subsystem leveled logger sharing a Backend.
type Logger struct {
	tag     string
	backend *Backend
	level   uint32
}

// Level returns the logger's current level.
func (l *Logger) Level() Level {
	return Level(atomic.LoadUint32(&l.level))
}

// SetLevel sets the logger's level.
func (l *Logger) SetLevel(level Level) {
	atomic.StoreUint32(&l.level, uint32(level))
}

// Backend returns the Logger's backend.
func (l *Logger) Backend() *Backend {
	return l.backend
}

func (l *Logger) write(level Level, format string, args ...interface{}) {
	if level < l.Level() {
		return
	}
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	l.backend.print(l.tag, level, msg)
}

// Tracef logs a formatted message at LevelTrace.
func (l *Logger) Tracef(format string, args ...interface{}) { l.write(LevelTrace, format, args...) }

// Debugf logs a formatted message at LevelDebug.
func (l *Logger) Debugf(format string, args ...interface{}) { l.write(LevelDebug, format, args...) }

// Infof logs a formatted message at LevelInfo.
func (l *Logger) Infof(format string, args ...interface{}) { l.write(LevelInfo, format, args...) }

// Warnf logs a formatted message at LevelWarn.
func (l *Logger) Warnf(format string, args ...interface{}) { l.write(LevelWarn, format, args...) }

// Errorf logs a formatted message at LevelError.
func (l *Logger) Errorf(format string, args ...interface{}) { l.write(LevelError, format, args...) }

// Criticalf logs a formatted message at LevelCritical.
func (l *Logger) Criticalf(format string, args ...interface{}) {
	l.write(LevelCritical, format, args...)
}

// discardWriter is used by tests that don't care about log output.
var discardWriter = NewAllLevelsBackendWriter(io.Discard)

// NewTestBackend returns a Backend useful in unit tests.
func NewTestBackend() *Backend {
	return NewBackend([]*BackendWriter{discardWriter})
}
