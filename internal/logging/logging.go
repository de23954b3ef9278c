// Package logging builds the slog loggers used across screenrec.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go2tv.app/screenrec/internal/config"
)

const (
	// EnvDebug forces debug level when set to 1.
	EnvDebug = "SCREENREC_DEBUG"
	// EnvDebugFile redirects log output to an append-only file.
	EnvDebugFile = "SCREENREC_DEBUG_FILE"
)

var (
	debugOutputOnce sync.Once
	debugOutput     io.Writer
)

// DebugEnabled reports whether SCREENREC_DEBUG=1.
func DebugEnabled() bool {
	return strings.TrimSpace(os.Getenv(EnvDebug)) == "1"
}

// DebugWriter returns the SCREENREC_DEBUG_FILE sink, or fallback when unset or
// unopenable.
func DebugWriter(fallback io.Writer) io.Writer {
	debugOutputOnce.Do(func() {
		p := strings.TrimSpace(os.Getenv(EnvDebugFile))
		if p == "" {
			return
		}
		f, err := os.OpenFile(p, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "screenrec debug log open failed: %v\n", err)
			return
		}
		debugOutput = f
	})
	if debugOutput != nil {
		return debugOutput
	}
	return fallback
}

// New creates a logger for cfg writing to w. The environment debug toggles
// take precedence over cfg.
func New(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	if DebugEnabled() {
		cfg.Level = "debug"
	}
	w = DebugWriter(w)

	opts := &slog.HandlerOptions{
		Level:     ParseLevel(cfg.Level),
		AddSource: cfg.AddSource,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && cfg.TimeFormat != "" {
				if t, ok := a.Value.Any().(time.Time); ok {
					return slog.String(slog.TimeKey, t.Format(cfg.TimeFormat))
				}
			}
			return a
		},
	}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// ParseLevel converts a level name to slog.Level, defaulting to info.
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

// WithComponent tags logger with a component name.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return OrDefault(logger).With(slog.String("component", component))
}

// OrDefault returns logger, or slog.Default() when nil.
func OrDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ShouldLogEvery rate-limits a hot log line to once per period. last holds the
// unix nanos of the previous emission.
func ShouldLogEvery(last *atomic.Int64, period time.Duration) bool {
	if last == nil || period <= 0 {
		return true
	}

	now := time.Now().UnixNano()
	for {
		prev := last.Load()
		if prev != 0 && time.Duration(now-prev) < period {
			return false
		}
		if last.CompareAndSwap(prev, now) {
			return true
		}
	}
}
