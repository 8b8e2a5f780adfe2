package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	once   sync.Once
	logger *slog.Logger
)

// Options configures a logger handle.
type Options struct {
	Level  string    // debug | info | warn | error
	Format string    // json | text
	Writer io.Writer // defaults to os.Stderr
}

// New builds a logger from opts without touching the process default.
// Output defaults to stderr: stdout belongs to protocol traffic.
func New(opts Options) *slog.Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	hopts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}

	var handler slog.Handler
	if strings.EqualFold(opts.Format, "text") {
		handler = slog.NewTextHandler(w, hopts)
	} else {
		handler = slog.NewJSONHandler(w, hopts)
	}
	return slog.New(handler)
}

// ParseLevel maps a level name to a slog level.
// logic: default to INFO. If level is invalid, fallback to INFO.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup initializes the process-wide logger once and returns it.
func Setup(opts Options) *slog.Logger {
	once.Do(func() {
		logger = New(opts)
		slog.SetDefault(logger)
	})
	return logger
}

// Get returns the configured logger, or a default one if Setup hasn't been called.
func Get() *slog.Logger {
	if logger == nil {
		Setup(Options{Level: "INFO"})
	}
	return logger
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// Or returns l when non-nil, otherwise the process logger scoped to component.
func Or(l *slog.Logger, component string) *slog.Logger {
	if l != nil {
		return l
	}
	return WithComponent(component)
}

// WithComponent returns a logger with the component field set.
func WithComponent(name string) *slog.Logger {
	return Get().With(slog.String("component", name))
}

// WithCheck returns a logger with the check field set.
func WithCheck(l *slog.Logger, name string) *slog.Logger {
	return Or(l, "check").With(slog.String("check", name))
}

// WithRun returns a logger with the run_id field set.
func WithRun(l *slog.Logger, id string) *slog.Logger {
	return Or(l, "harness").With(slog.String("run_id", id))
}
