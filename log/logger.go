package log

import (
	"context"
	"strings"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) String() string {
	return levelToString(l)
}

type Logger interface {
	// With adds persistent fields to a derived logger.
	// Accepts either alternating "key", value pairs or a single map[string]any.
	With(args ...any) Logger

	// WithError adds a persistent "error" field to a derived logger.
	WithError(err error) Logger

	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)
}

type fieldsKey struct{}

// ContextWith returns a context carrying additional log fields. Every entry
// written with the returned context includes them, so per-invocation values
// such as the request id only need to be attached once.
func ContextWith(ctx context.Context, args ...any) context.Context {
	add := parseArgs(args...)
	if len(add) == 0 {
		return ctx
	}
	prev := contextFields(ctx)
	merged := make(map[string]any, len(prev)+len(add))
	for k, v := range prev {
		merged[k] = v
	}
	for k, v := range add {
		merged[k] = v
	}
	return context.WithValue(ctx, fieldsKey{}, merged)
}

func contextFields(ctx context.Context) map[string]any {
	if ctx == nil {
		return nil
	}
	m, _ := ctx.Value(fieldsKey{}).(map[string]any)
	return m
}
