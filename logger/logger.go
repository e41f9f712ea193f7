// Package logger provides structured logging for the realtime client with
// automatic redaction of credentials.
//
// This package wraps Go's standard log/slog with convenience functions for:
//   - Realtime connection and event logging
//   - Automatic API key and bearer token redaction
//   - Contextual logging with session and conversation identifiers
//   - Level-based verbosity control
//
// All exported functions use the global DefaultLogger.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

var (
	// DefaultLogger is the global structured logger instance.
	// It is safe for concurrent use and initialized with slog.LevelInfo by default.
	DefaultLogger *slog.Logger
)

func init() {
	DefaultLogger = newLogger(os.Stderr, ParseLevel(os.Getenv("LOG_LEVEL")), false)
}

// ParseLevel maps a textual level (debug, info, warn, error) onto a slog.Level.
// Unknown or empty values yield slog.LevelInfo.
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

func newLogger(w io.Writer, level slog.Level, json bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var inner slog.Handler
	if json {
		inner = slog.NewJSONHandler(w, opts)
	} else {
		inner = slog.NewTextHandler(w, opts)
	}
	return slog.New(NewContextHandler(inner))
}

// Configure replaces DefaultLogger with one writing to w at the given level.
// When json is true records are emitted as JSON lines.
func Configure(w io.Writer, level slog.Level, json bool) {
	DefaultLogger = newLogger(w, level, json)
}

// SetLevel changes the logging level for all subsequent log operations.
func SetLevel(level slog.Level) {
	DefaultLogger = newLogger(os.Stderr, level, false)
}

// SetVerbose enables debug-level logging when verbose is true, otherwise sets info-level.
func SetVerbose(verbose bool) {
	if verbose {
		SetLevel(slog.LevelDebug)
	} else {
		SetLevel(slog.LevelInfo)
	}
}

// Info logs an informational message with structured key-value attributes.
func Info(msg string, args ...any) {
	DefaultLogger.Info(msg, args...)
}

// InfoContext logs an informational message with context fields attached.
func InfoContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.InfoContext(ctx, msg, args...)
}

// Debug logs a debug-level message with structured attributes.
func Debug(msg string, args ...any) {
	DefaultLogger.Debug(msg, args...)
}

// DebugContext logs a debug message with context fields attached.
func DebugContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.DebugContext(ctx, msg, args...)
}

// Warn logs a warning message with structured attributes.
// Use for recoverable errors such as dropped audio buffers.
func Warn(msg string, args ...any) {
	DefaultLogger.Warn(msg, args...)
}

// WarnContext logs a warning message with context fields attached.
func WarnContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.WarnContext(ctx, msg, args...)
}

// Error logs an error message with structured attributes.
func Error(msg string, args ...any) {
	DefaultLogger.Error(msg, args...)
}

// ErrorContext logs an error message with context fields attached.
func ErrorContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.ErrorContext(ctx, msg, args...)
}

// Enabled reports whether the global logger emits records at level.
func Enabled(level slog.Level) bool {
	return DefaultLogger.Enabled(context.Background(), level)
}

// Connection logs a realtime connection lifecycle transition.
func Connection(ctx context.Context, state, url string, attrs ...any) {
	allAttrs := make([]any, 0, 4+len(attrs))
	allAttrs = append(allAttrs,
		"state", state,
		"url", RedactSensitiveData(url),
	)
	allAttrs = append(allAttrs, attrs...)
	InfoContext(ctx, "realtime connection", allAttrs...)
}

// Event logs a single wire event at debug level. It is a no-op when debug
// logging is disabled so it can sit on hot paths.
func Event(ctx context.Context, direction, eventType string, attrs ...any) {
	if !Enabled(slog.LevelDebug) {
		return
	}
	allAttrs := make([]any, 0, 4+len(attrs))
	allAttrs = append(allAttrs,
		"direction", direction,
		"type", eventType,
	)
	allAttrs = append(allAttrs, attrs...)
	DebugContext(ctx, "realtime event", allAttrs...)
}

var (
	// apiKeyPatterns matches credential formats that must never reach log output.
	apiKeyPatterns = []*regexp.Regexp{
		regexp.MustCompile(`sk-[a-zA-Z0-9_-]{32,}`),    // OpenAI API keys
		regexp.MustCompile(`Bearer\s+[a-zA-Z0-9_.-]+`), // Bearer tokens
		regexp.MustCompile(`api-key=[a-zA-Z0-9]{16,}`), // Azure keys in query strings
		regexp.MustCompile(`ek_[a-zA-Z0-9]{16,}`),      // Ephemeral client secrets
	}
)

// RedactSensitiveData removes API keys and other sensitive information from strings.
// Keys keep their first four characters for debugging; bearer tokens are fully hidden.
func RedactSensitiveData(input string) string {
	result := input

	for _, pattern := range apiKeyPatterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			switch {
			case strings.HasPrefix(match, "Bearer"):
				return "Bearer [REDACTED]"
			case strings.HasPrefix(match, "api-key="):
				return "api-key=[REDACTED]"
			case len(match) > 8:
				return match[:4] + "...[REDACTED]"
			default:
				return "[REDACTED]"
			}
		})
	}

	return result
}

// RedactHeaders returns a copy of headers with every value passed through
// RedactSensitiveData. Azure "api-key" headers are hidden entirely.
func RedactHeaders(headers map[string][]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, vs := range headers {
		v := strings.Join(vs, ",")
		if strings.EqualFold(k, "api-key") {
			v = "[REDACTED]"
		}
		out[k] = RedactSensitiveData(v)
	}
	return out
}
