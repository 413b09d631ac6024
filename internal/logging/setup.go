package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/log"

	"brokercrm/internal/config"
)

// New builds the process logger. Text output goes through charmbracelet/log,
// JSON output through the stdlib slog handler.
func New(cfg config.LogConfig, w io.Writer) *slog.Logger {
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(jsonHandler(cfg.Level, w))
	}
	return slog.New(textHandler(cfg.Level, w))
}

func textHandler(level string, w io.Writer) slog.Handler {
	if w == nil {
		w = os.Stderr
	}
	reportCaller := false
	reportTimestamp := true
	lvl := log.InfoLevel
	switch strings.ToLower(level) {
	case "trace":
		reportCaller = true
		lvl = log.DebugLevel
	case "debug":
		lvl = log.DebugLevel
	case "warn", "warning":
		lvl = log.WarnLevel
	case "error":
		lvl = log.ErrorLevel
	}
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: reportTimestamp,
		ReportCaller:    reportCaller,
		Level:           lvl,
	})
}

func jsonHandler(level string, w io.Writer) slog.Handler {
	if w == nil {
		w = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if strings.EqualFold(level, "trace") {
		opts.AddSource = true
	}
	return slog.NewJSONHandler(w, opts)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "trace", "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Discard returns a logger that drops everything; handy in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
