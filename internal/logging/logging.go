// Package logging configures the process-wide structured logger and derives
// contextual loggers for tables, cursors and transactions.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	logger   *slog.Logger
	loggerMu sync.RWMutex
	logFile  *os.File
)

// Config holds logger configuration.
type Config struct {
	Level      string // debug, info, warn or error
	Format     string // text or json
	OutputPath string // empty for stderr
}

// ParseLevel maps a level name to a slog level; unknown names map to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds a logger writing to w.
func New(w io.Writer, cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Init installs the process-wide logger. Calling Init again replaces the
// previous logger and closes its file.
func Init(cfg Config) error {
	loggerMu.Lock()
	defer loggerMu.Unlock()

	var w io.Writer = os.Stderr
	var f *os.File
	if cfg.OutputPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.OutputPath), 0o750); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
		var err error
		f, err = os.OpenFile(cfg.OutputPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		w = f
	}
	if logFile != nil {
		_ = logFile.Close()
	}
	logFile = f
	logger = New(w, cfg)
	return nil
}

// Close closes the log file, if any, and resets the logger to the default.
func Close() error {
	loggerMu.Lock()
	defer loggerMu.Unlock()

	logger = nil
	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	return err
}

// Get returns the process-wide logger. Before Init it returns a logger that
// discards everything below warn.
func Get() *slog.Logger {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	if l != nil {
		return l
	}
	return New(os.Stderr, Config{Level: "warn"})
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// WithTable returns l annotated with a table name.
func WithTable(l *slog.Logger, table string) *slog.Logger {
	return l.With("table", table)
}

// WithCursor returns l annotated with a cursor id and table name.
func WithCursor(l *slog.Logger, id, table string) *slog.Logger {
	return l.With("cursor", id, "table", table)
}
