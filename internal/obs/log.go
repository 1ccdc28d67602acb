package obs

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	loggerOnce sync.Once
	logger     *slog.Logger
)

// Logger returns the shared structured logger used across the service.
func Logger() *slog.Logger {
	loggerOnce.Do(func() {
		logger = NewLogger(os.Stdout, os.Getenv("LOG_LEVEL"))
	})
	return logger
}

// SetLogger replaces the shared logger. Call before serving traffic.
func SetLogger(l *slog.Logger) {
	loggerOnce.Do(func() {})
	logger = l
}

// NewLogger builds a JSON logger writing one object per line.
func NewLogger(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel maps debug/info/warn/error to slog levels; unknown values mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
