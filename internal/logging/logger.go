// Package logging provides structured logging for imapd.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

type contextKey string

const (
	sessionIDKey  contextKey = "session_id"
	remoteAddrKey contextKey = "remote_addr"
	mailboxKey    contextKey = "mailbox"
	commandKey    contextKey = "command"
)

// Logger wraps slog with imapd-specific context extraction.
type Logger struct {
	*slog.Logger
}

// Config configures the logger.
type Config struct {
	Level     string // debug, info, warn, error
	Format    string // json, text
	Output    string // stdout, stderr, or file path
	AddSource bool
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "json", Output: "stdout"}
}

// New creates a new Logger with the given configuration.
func New(cfg Config) (*Logger, error) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var output io.Writer
	switch cfg.Output {
	case "stdout", "":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, err
		}
		output = f
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format(time.RFC3339Nano))
				}
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(output, opts)
	} else {
		handler = slog.NewJSONHandler(output, opts)
	}

	return &Logger{Logger: slog.New(handler)}, nil
}

// Default returns a logger using DefaultConfig.
func Default() *Logger {
	l, _ := New(DefaultConfig())
	return l
}

// WithSessionID returns a new context carrying a per-connection
// identifier, so every log line for one session can be correlated.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// WithRemoteAddr returns a new context carrying the peer address
// (after PROXY-PROTOCOL resolution, when applicable).
func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, remoteAddrKey, addr)
}

// WithMailbox returns a new context carrying the selected mailbox name.
func WithMailbox(ctx context.Context, mailbox string) context.Context {
	return context.WithValue(ctx, mailboxKey, mailbox)
}

// WithCommand returns a new context carrying the IMAP command tag/name
// currently being processed.
func WithCommand(ctx context.Context, command string) context.Context {
	return context.WithValue(ctx, commandKey, command)
}

func extractContextAttrs(ctx context.Context) []any {
	var attrs []any
	if v := ctx.Value(sessionIDKey); v != nil {
		attrs = append(attrs, "session_id", v)
	}
	if v := ctx.Value(remoteAddrKey); v != nil {
		attrs = append(attrs, "remote_addr", v)
	}
	if v := ctx.Value(mailboxKey); v != nil {
		attrs = append(attrs, "mailbox", v)
	}
	if v := ctx.Value(commandKey); v != nil {
		attrs = append(attrs, "command", v)
	}
	return attrs
}

// InfoContext logs an info message, pulling session/mailbox/command
// fields out of ctx when present.
func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.Logger.InfoContext(ctx, msg, append(extractContextAttrs(ctx), args...)...)
}

// WarnContext logs a warning message with context fields.
func (l *Logger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.Logger.WarnContext(ctx, msg, append(extractContextAttrs(ctx), args...)...)
}

// ErrorContext logs an error message with context fields.
func (l *Logger) ErrorContext(ctx context.Context, msg string, err error, args ...any) {
	attrs := extractContextAttrs(ctx)
	if err != nil {
		attrs = append(attrs, "error", err.Error())
	}
	l.Logger.ErrorContext(ctx, msg, append(attrs, args...)...)
}

// DebugContext logs a debug message with context fields.
func (l *Logger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.Logger.DebugContext(ctx, msg, append(extractContextAttrs(ctx), args...)...)
}

// WithError returns a logger with the error attached.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return &Logger{Logger: l.Logger.With("error", err.Error())}
}

// WithFields returns a logger with additional fields attached.
func (l *Logger) WithFields(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}
