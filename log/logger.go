package log

import (
	"context"
	"io"
	"log/slog"
)

// Logger is the structured logger shared by every authflow component.
type Logger interface {
	With(args ...any) Logger

	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	DebugContext(ctx context.Context, msg string, args ...any)
	InfoContext(ctx context.Context, msg string, args ...any)
	WarnContext(ctx context.Context, msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)
}

// NewNop returns a Logger that discards everything.
func NewNop() Logger {
	return SlogLogger{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// Or returns l, or a no-op logger when l is nil.
func Or(l Logger) Logger {
	if l == nil {
		return NewNop()
	}
	return l
}
