// Package logger provides structured logging with console and rotating file output.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// rotation limits for the log file
const (
	maxFileSizeMB  = 10
	maxFileBackups = 5
)

// Logger wraps zerolog for structured logging.
type Logger struct {
	zerolog.Logger
}

// New creates a new logger with the specified level and optional file output.
// The file is rotated by size; it always receives debug level and above.
func New(level string, logFile string) (*Logger, error) {
	return newWithConsole(os.Stdout, level, logFile)
}

func newWithConsole(console io.Writer, level string, logFile string) (*Logger, error) {
	// parse log level
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = "warn"
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	writers := []io.Writer{
		levelWriter{
			Writer: zerolog.ConsoleWriter{Out: console, TimeFormat: "15:04:05"},
			min:    lvl,
		},
	}

	// add file writer if specified
	if logFile != "" {
		// create directory if it doesn't exist
		if err := os.MkdirAll(filepath.Dir(logFile), 0755); err != nil {
			return nil, err
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    maxFileSizeMB,
			MaxBackups: maxFileBackups,
		})
	}

	multi := zerolog.MultiLevelWriter(writers...)

	minLevel := lvl
	if logFile != "" && minLevel > zerolog.DebugLevel {
		minLevel = zerolog.DebugLevel
	}

	logger := zerolog.New(multi).
		Level(minLevel).
		With().
		Timestamp().
		Caller().
		Logger()

	return &Logger{logger}, nil
}

// levelWriter drops events below min before they reach the console.
type levelWriter struct {
	io.Writer
	min zerolog.Level
}

func (w levelWriter) WriteLevel(l zerolog.Level, p []byte) (int, error) {
	if l < w.min {
		return len(p), nil
	}
	return w.Write(p)
}

// Global is the global logger instance for convenience.
var Global *Logger

// Init initializes the global logger.
func Init(level string, logFile string) error {
	l, err := New(level, logFile)
	if err != nil {
		return err
	}
	Global = l
	return nil
}

// Get returns the global logger.
// Returns a no-op logger if not initialized.
func Get() *Logger {
	if Global == nil {
		// return a no-op logger (writes to discard)
		noop := zerolog.Nop()
		return &Logger{noop}
	}
	return Global
}

// Nop returns a logger that discards everything. Handy in tests.
func Nop() *Logger {
	return &Logger{zerolog.Nop()}
}
