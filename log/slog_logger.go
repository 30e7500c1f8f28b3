package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Config struct {
	LogLevel  string `yaml:"level" env:"LEVEL"`
	LogFormat string `yaml:"format" env:"FORMAT"`
	LogPath   string `yaml:"path" env:"PATH"`
	LogOutput string `yaml:"output" env:"OUTPUT"`
}

type SlogLogger struct {
	logger *slog.Logger
	closer io.Closer
}

var _ Logger = (*SlogLogger)(nil)

func getConfig(cfg ...Config) Config {
	var c Config
	if len(cfg) > 0 {
		c = cfg[0]
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	if c.LogFormat == "" {
		c.LogFormat = "text"
	}

	if c.LogOutput == "" {
		c.LogOutput = "stderr"
	}

	if c.LogPath == "" {
		c.LogPath = "./log/authflow.log"
	}

	return c
}

// NewSlogLogger builds a slog backed Logger. Records carry any attributes
// attached to the context with ContextWith.
func NewSlogLogger(c ...Config) (*SlogLogger, error) {
	cfg := getConfig(c...)

	w, closer, err := openOutput(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to set output: %w", err)
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}

	var h slog.Handler
	if strings.EqualFold(cfg.LogFormat, "json") {
		opts.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(a.Value.Time().Format(time.DateTime))
			}
			return a
		}
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}

	return &SlogLogger{logger: slog.New(&ctxHandler{base: h}), closer: closer}, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func (l SlogLogger) With(args ...any) Logger {
	return SlogLogger{logger: l.logger.With(args...)}
}

func (l SlogLogger) Debug(msg string, args ...any) {
	l.logger.Debug(msg, args...)
}

func (l SlogLogger) Info(msg string, args ...any) {
	l.logger.Info(msg, args...)
}

func (l SlogLogger) Warn(msg string, args ...any) {
	l.logger.Warn(msg, args...)
}

func (l SlogLogger) Error(msg string, args ...any) {
	l.logger.Error(msg, args...)
}

func (l SlogLogger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.logger.DebugContext(ctx, msg, args...)
}

func (l SlogLogger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.logger.InfoContext(ctx, msg, args...)
}

func (l SlogLogger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.logger.WarnContext(ctx, msg, args...)
}

func (l SlogLogger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.logger.ErrorContext(ctx, msg, args...)
}

func (l SlogLogger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

func openOutput(cfg Config) (io.Writer, io.Closer, error) {
	switch strings.ToLower(cfg.LogOutput) {
	case "stdout":
		return os.Stdout, nil, nil
	case "file":
		if err := os.MkdirAll(filepath.Dir(cfg.LogPath), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create output dir: %w", err)
		}
		f, err := os.OpenFile(cfg.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open output file: %w", err)
		}
		return f, f, nil
	}
	return os.Stderr, nil, nil
}

type ctxAttrsKey struct{}

// ContextWith returns a copy of ctx carrying extra log attributes, e.g. the
// provider id of the attempt being processed.
func ContextWith(ctx context.Context, args ...any) context.Context {
	prev, _ := ctx.Value(ctxAttrsKey{}).([]any)
	attrs := make([]any, 0, len(prev)+len(args))
	attrs = append(attrs, prev...)
	attrs = append(attrs, args...)
	return context.WithValue(ctx, ctxAttrsKey{}, attrs)
}

type ctxHandler struct {
	base slog.Handler
}

func (h *ctxHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

func (h *ctxHandler) Handle(ctx context.Context, r slog.Record) error {
	if attrs, ok := ctx.Value(ctxAttrsKey{}).([]any); ok && len(attrs) > 0 {
		r = r.Clone()
		r.Add(attrs...)
	}
	return h.base.Handle(ctx, r)
}

func (h *ctxHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ctxHandler{base: h.base.WithAttrs(attrs)}
}

func (h *ctxHandler) WithGroup(name string) slog.Handler {
	return &ctxHandler{base: h.base.WithGroup(name)}
}
