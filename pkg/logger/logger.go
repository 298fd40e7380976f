// Package logger is the process-wide log facade. Nothing is written until
// Init or SetOutput is called.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

var (
	globalLogger *log.Logger
	logFile      *os.File
	level        = log.InfoLevel
	mu           sync.Mutex
)

func newLogger(w io.Writer) *log.Logger {
	l := log.NewWithOptions(w, log.Options{
		Prefix:          "stepbind",
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.000000",
		Level:           level,
	})
	return l
}

// Init initializes the global logger with the specified log file path.
func Init(logPath string) error {
	mu.Lock()
	defer mu.Unlock()

	// Close previous log file if exists
	if logFile != nil {
		logFile.Close()
	}

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	logFile = f
	globalLogger = newLogger(f)
	return nil
}

// SetOutput sends log output to w instead of a file. A nil writer disables logging.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	if w == nil {
		globalLogger = nil
		return
	}
	globalLogger = newLogger(w)
}

// SetLevel sets the minimum level: debug, info, warn or error.
func SetLevel(name string) error {
	lvl, err := log.ParseLevel(name)
	if err != nil {
		return fmt.Errorf("invalid log level %q", name)
	}

	mu.Lock()
	defer mu.Unlock()

	level = lvl
	if globalLogger != nil {
		globalLogger.SetLevel(lvl)
	}
	return nil
}

// Close closes the log file.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	globalLogger = nil
}

// Info logs an info message.
func Info(format string, v ...interface{}) {
	logf(log.InfoLevel, format, v...)
}

// Debug logs a debug message.
func Debug(format string, v ...interface{}) {
	logf(log.DebugLevel, format, v...)
}

// Warn logs a warning message.
func Warn(format string, v ...interface{}) {
	logf(log.WarnLevel, format, v...)
}

// Error logs an error message.
func Error(format string, v ...interface{}) {
	logf(log.ErrorLevel, format, v...)
}

// Timed logs msg with the elapsed time since start at debug level.
func Timed(start time.Time, msg string) {
	mu.Lock()
	defer mu.Unlock()

	if globalLogger != nil {
		globalLogger.Debug(msg, "elapsed", time.Since(start).Round(time.Microsecond))
	}
}

func logf(lvl log.Level, format string, v ...interface{}) {
	mu.Lock()
	defer mu.Unlock()

	if globalLogger != nil {
		globalLogger.Logf(lvl, format, v...)
	}
}

// GetWriter returns the log file for direct writing (e.g. for raw output).
func GetWriter() io.Writer {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		return logFile
	}
	return io.Discard
}
