// Package corelog is the concurrency-safe, levelled logger shared by every
// worker in the capture core. It is adapted from the ingest pipeline's
// logger: a process-wide singleton writing to stdout and, optionally, a
// rotated-by-the-shell log file.
package corelog

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"
)

// Level enumerates severity tiers.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	FATAL
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}

func (l Level) String() string {
	if int(l) < len(levelNames) {
		return levelNames[l]
	}
	return "UNKNOWN"
}

// Logger is a concurrency-safe, levelled logger used across the core.
type Logger struct {
	mu    sync.Mutex
	level Level
	inner *log.Logger
	file  *os.File

	rateMu   sync.Mutex
	lastWarn map[string]time.Time
}

var (
	global  *Logger
	initOne sync.Once
)

// Init creates the singleton logger. Call once at startup; subsequent calls
// are no-ops so tests and library callers can call it defensively.
func Init(minLevel Level, logFilePath string) *Logger {
	initOne.Do(func() {
		var writers []io.Writer
		writers = append(writers, os.Stdout)

		var f *os.File
		if logFilePath != "" {
			var err error
			f, err = os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err == nil {
				writers = append(writers, f)
			} else {
				log.Printf("[WARN] could not open log file %s: %v\n", logFilePath, err)
			}
		}

		mw := io.MultiWriter(writers...)
		global = &Logger{
			level: minLevel,
			inner: log.New(mw, "", 0),
			file:  f,
		}
	})
	return global
}

// L returns the global logger, initializing a stdout-only INFO logger if
// nothing has called Init yet.
func L() *Logger {
	if global == nil {
		return Init(INFO, "")
	}
	return global
}

// Close flushes and closes the log file, if any.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		_ = l.file.Close()
	}
}

func (l *Logger) log(lvl Level, format string, args ...any) {
	if lvl < l.level {
		return
	}
	ts := time.Now().Format("2006-01-02 15:04:05.000")
	msg := fmt.Sprintf(format, args...)
	l.mu.Lock()
	l.inner.Printf("[%s] %s  %s", lvl, ts, msg)
	l.mu.Unlock()

	if lvl == FATAL {
		os.Exit(1)
	}
}

func (l *Logger) Debug(f string, a ...any) { l.log(DEBUG, f, a...) }
func (l *Logger) Info(f string, a ...any)  { l.log(INFO, f, a...) }
func (l *Logger) Warn(f string, a ...any)  { l.log(WARN, f, a...) }
func (l *Logger) Error(f string, a ...any) { l.log(ERROR, f, a...) }
func (l *Logger) Fatal(f string, a ...any) { l.log(FATAL, f, a...) }

// WarnEvery logs at WARN level under key at most once per interval,
// collapsing hot-path warnings (queue saturation, outlet push failures) to
// the "at most once per second" ceiling spec.md §7 requires instead of
// flooding the log at frame rate.
func (l *Logger) WarnEvery(key string, interval time.Duration, format string, args ...any) {
	l.rateMu.Lock()
	if l.lastWarn == nil {
		l.lastWarn = make(map[string]time.Time)
	}
	now := time.Now()
	if last, ok := l.lastWarn[key]; ok && now.Sub(last) < interval {
		l.rateMu.Unlock()
		return
	}
	l.lastWarn[key] = now
	l.rateMu.Unlock()

	l.log(WARN, format, args...)
}
