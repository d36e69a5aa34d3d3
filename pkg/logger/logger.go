// Package logger configures the process-wide slog logger and carries
// request-scoped attributes, such as the request and course ids, through
// contexts.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

type (
	requestIDKey struct{}
	attrsKey     struct{}
)

// Setup installs the default logger for a service. Output goes to stdout.
func Setup(service, level, format string) *slog.Logger {
	return SetupWriter(os.Stdout, service, level, format)
}

// SetupWriter is Setup with an explicit destination. format is "json" or
// anything else for text.
func SetupWriter(w io.Writer, service, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	l := slog.New(handler)
	if service != "" {
		l = l.With("service", service)
	}
	slog.SetDefault(l)
	return l
}

// ParseLevel accepts slog level names in any case ("warn", "DEBUG",
// "info+2"). Unknown input means info.
func ParseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestID returns the request id stored in ctx, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// With returns a context whose FromContext logger also carries args.
func With(ctx context.Context, args ...any) context.Context {
	prev, _ := ctx.Value(attrsKey{}).([]any)
	merged := make([]any, 0, len(prev)+len(args))
	merged = append(merged, prev...)
	merged = append(merged, args...)
	return context.WithValue(ctx, attrsKey{}, merged)
}

// FromContext returns the default logger with the request id and any
// attributes added through With.
func FromContext(ctx context.Context) *slog.Logger {
	logger := slog.Default()
	if id := RequestID(ctx); id != "" {
		logger = logger.With("request_id", id)
	}
	if args, ok := ctx.Value(attrsKey{}).([]any); ok && len(args) > 0 {
		logger = logger.With(args...)
	}
	return logger
}
