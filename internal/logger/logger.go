// Package logger provides structured logging setup for ChangeGuard.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/Strob0t/ChangeGuard/internal/config"
)

// Logger bundles the configured *slog.Logger with its runtime level so the
// level can change on config reload.
type Logger struct {
	*slog.Logger
	level *slog.LevelVar
}

// SetLevel changes the minimum level of every record emitted from now on.
func (l *Logger) SetLevel(s string) {
	l.level.Set(parseLevel(s))
}

// New creates a logger from the given Logging config.
// Output is JSON to stdout with a "service" attribute on every record and
// request/evaluation correlation attributes taken from the context.
func New(cfg config.Logging) (*Logger, Closer) {
	return NewWithWriter(os.Stdout, cfg)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, cfg config.Logging) (*Logger, Closer) {
	level := &slog.LevelVar{}
	level.Set(parseLevel(cfg.Level))

	var handler slog.Handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})

	var closer Closer = nopCloser{}
	if cfg.Async {
		buf, workers := cfg.AsyncBuffer, cfg.AsyncWorkers
		if buf <= 0 {
			buf = 4096
		}
		if workers <= 0 {
			workers = 1
		}
		ah := NewAsyncHandler(handler, buf, workers)
		handler, closer = ah, ah
	}

	l := slog.New(&contextHandler{inner: handler}).With("service", cfg.Service)
	return &Logger{Logger: l, level: level}, closer
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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
