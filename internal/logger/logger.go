package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// FileName is the combined session log inside the data directory.
const FileName = "server.log"

// Default logging configuration constants
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Config describes the combined session log file. Service, proxy and watchdog
// output all land in Path. Rotation parameters follow lumberjack semantics
// and only apply to the watchdog's own writer; children hold a plain
// O_APPEND descriptor because they outlive whoever launched them.
type Config struct {
	Path       string // combined log file
	MaxSizeMB  int    // megabytes before rotation (default 10)
	MaxBackups int    // number of backups to keep (default 3)
	MaxAgeDays int    // days to keep (default 7)
	Compress   bool   // Gzip rotated files
}

// Writer returns a rotating writer on Path.
func (c Config) Writer() io.WriteCloser {
	return &lj.Logger{
		Filename:   c.Path,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

// OpenSink opens Path for appending, creating it if needed.
func (c Config) OpenSink() (*os.File, error) {
	if c.Path == "" {
		return nil, fmt.Errorf("log path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(c.Path), 0o750); err != nil {
		return nil, err
	}
	// #nosec G304
	return os.OpenFile(c.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
}

// New returns a plain text logger for files, tagged with component.
func New(w io.Writer, level slog.Level, component string) *slog.Logger {
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(h).With(slog.String("component", component))
}

// NewConsole returns a colored logger for interactive CLI output.
func NewConsole(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(NewColorTextHandler(w, &slog.HandlerOptions{Level: level}, verbose))
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
