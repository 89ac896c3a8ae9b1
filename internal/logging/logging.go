package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	Format string // "json" (default) or "text"
	Level  string // debug, info (default), warn, error
	File   string // optional rotated copy of the output
}

// Init sets a JSON (default) or text slog handler based on the provided options.
// Records carrying a run id in their context get a "run_id" attribute.
func Init(service string, opts Options) *slog.Logger {
	format := strings.ToLower(strings.TrimSpace(opts.Format))

	var out io.Writer = os.Stdout
	if opts.File != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		})
	}

	logger := slog.New(NewHandler(newHandler(out, format, opts.Level))).With("service", service)
	slog.SetDefault(logger)

	if format != "" && format != "json" && format != "text" {
		logger.Warn("unknown log format, defaulting to json", "format", format)
	}
	return logger
}

func newHandler(w io.Writer, format, level string) slog.Handler {
	hopts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if format == "text" {
		return slog.NewTextHandler(w, hopts)
	}
	return slog.NewJSONHandler(w, hopts)
}

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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
