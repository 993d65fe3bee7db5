package app

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger is the app-wide logger type (slog).
type Logger = *slog.Logger

// redacted replaces secret attribute values in every handler.
const redacted = "[redacted]"

// NewLogger builds the process logger and installs it as the slog default.
// format is json, text or pretty; w defaults to stderr so stdout stays free
// for command output.
func NewLogger(level, format string, color bool, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{
		Level:       parseLogLevel(level),
		ReplaceAttr: redactAttr,
	}

	var h slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "pretty":
		h = newPrettyHandler(w, opts, color)
	case "text":
		h = slog.NewTextHandler(w, opts)
	default:
		opts.AddSource = true
		h = slog.NewJSONHandler(w, opts)
	}

	log := slog.New(h)
	slog.SetDefault(log)
	return log
}

func parseLogLevel(level string) slog.Level {
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

// isSecretKey reports attribute keys whose values must never reach a log line.
func isSecretKey(key string) bool {
	switch strings.ToLower(key) {
	case "token", "access_token", "refresh_token", "password", "authorization", "cookie", "set-cookie", "jwt":
		return true
	}
	return false
}

func redactAttr(_ []string, a slog.Attr) slog.Attr {
	if isSecretKey(a.Key) {
		return slog.String(a.Key, redacted)
	}
	return a
}
