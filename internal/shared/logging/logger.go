// Package logging provides the printf-style logging contract used across the
// hierarchy core and its surrounding plumbing. Loggers are injected, never
// ambient; the core stays testable without a process-wide singleton.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger defines a minimal, printf-style logging contract.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop returns a logger that discards all output.
func Nop() Logger {
	return nopLogger{}
}

// OrNop returns logger when non-nil, otherwise a no-op logger.
func OrNop(logger Logger) Logger {
	if logger == nil {
		return Nop()
	}
	return logger
}

// Level is the severity of a log message.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	default:
		return "ERROR"
	}
}

const logDirEnvVar = "NAVI_LOG_DIR"

var (
	fileOnce sync.Once
	fileDest io.Writer
)

// logDestination resolves the shared log sink once: the navi-hierarchy.log
// file under NAVI_LOG_DIR (default ~/.navi/logs), falling back to stderr.
func logDestination() io.Writer {
	fileOnce.Do(func() {
		dir := os.Getenv(logDirEnvVar)
		if dir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				fileDest = os.Stderr
				return
			}
			dir = filepath.Join(home, ".navi", "logs")
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fileDest = os.Stderr
			return
		}
		f, err := os.OpenFile(filepath.Join(dir, "navi-hierarchy.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fileDest = os.Stderr
			return
		}
		fileDest = f
	})
	return fileDest
}

type componentLogger struct {
	mu        sync.Mutex
	out       *log.Logger
	component string
	level     Level
}

// NewComponentLogger returns the default application logger scoped to a
// component name.
func NewComponentLogger(component string) Logger {
	return &componentLogger{
		out:       log.New(logDestination(), "", 0),
		component: component,
		level:     LevelDebug,
	}
}

// NewWriterLogger returns a component logger writing to w. Used by tests and
// the CLI to direct output explicitly.
func NewWriterLogger(w io.Writer, component string, level Level) Logger {
	return &componentLogger{
		out:       log.New(w, "", 0),
		component: component,
		level:     level,
	}
}

func (l *componentLogger) logf(level Level, format string, args ...any) {
	if level < l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out.Printf("%s [%s] [%s] %s",
		time.Now().Format("2006-01-02 15:04:05.000"),
		level, l.component, fmt.Sprintf(format, args...))
}

func (l *componentLogger) Debug(format string, args ...any) { l.logf(LevelDebug, format, args...) }
func (l *componentLogger) Info(format string, args ...any)  { l.logf(LevelInfo, format, args...) }
func (l *componentLogger) Warn(format string, args ...any)  { l.logf(LevelWarn, format, args...) }
func (l *componentLogger) Error(format string, args ...any) { l.logf(LevelError, format, args...) }

type multiLogger struct {
	loggers []Logger
}

// Multi returns a logger fan-out that calls every non-nil logger in order.
func Multi(loggers ...Logger) Logger {
	flattened := make([]Logger, 0, len(loggers))
	for _, logger := range loggers {
		if logger == nil {
			continue
		}
		if ml, ok := logger.(*multiLogger); ok {
			flattened = append(flattened, ml.loggers...)
			continue
		}
		flattened = append(flattened, logger)
	}
	switch len(flattened) {
	case 0:
		return Nop()
	case 1:
		return flattened[0]
	}
	return &multiLogger{loggers: flattened}
}

func (l *multiLogger) Debug(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Debug(format, args...)
	}
}

func (l *multiLogger) Info(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Info(format, args...)
	}
}

func (l *multiLogger) Warn(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Warn(format, args...)
	}
}

func (l *multiLogger) Error(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Error(format, args...)
	}
}
