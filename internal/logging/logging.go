// Package logging configures the process-wide structured logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LevelCritical marks failures that lose or misroute mail and need an operator.
const LevelCritical = slog.Level(12)

// Options controls Setup.
type Options struct {
	// Level is one of debug, info, warn, error. Unknown values mean info.
	Level string
	// Debug forces debug level.
	Debug bool
	// DebugFile, when set together with Debug, also receives every record.
	DebugFile string
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "critical":
		return LevelCritical
	default:
		return slog.LevelInfo
	}
}

// New builds a JSON logger writing to w.
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceLevel,
	}))
}

// Setup installs the default logger. The returned closer releases the debug
// file, if one was opened.
func Setup(opts Options) (*slog.Logger, io.Closer, error) {
	level := ParseLevel(opts.Level)
	var out io.Writer = os.Stdout
	var closer io.Closer = nopCloser{}

	if opts.Debug {
		level = slog.LevelDebug
		if opts.DebugFile != "" {
			f, err := os.OpenFile(opts.DebugFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				return nil, nil, fmt.Errorf("opening debug log: %w", err)
			}
			out = io.MultiWriter(os.Stdout, f)
			closer = f
		}
	}

	logger := New(out, level)
	slog.SetDefault(logger)
	return logger, closer, nil
}

func replaceLevel(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		if lvl, ok := a.Value.Any().(slog.Level); ok && lvl >= LevelCritical {
			a.Value = slog.StringValue("CRITICAL")
		}
	}
	return a
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
