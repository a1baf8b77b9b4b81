// Package logging carries run correlation attributes through contexts into
// slog records.
package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"
)

type ctxKey int

const (
	runIDKey ctxKey = iota
	processIDKey
	scriptKey
	actionKey
)

// WithRunID returns a context with the run ID set.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

// WithProcessID returns a context with the process ID set.
func WithProcessID(ctx context.Context, pid int64) context.Context {
	return context.WithValue(ctx, processIDKey, pid)
}

// WithScript returns a context with the script name set.
func WithScript(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, scriptKey, name)
}

// WithAction returns a context with the action name set.
func WithAction(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, actionKey, name)
}

func RunID(ctx context.Context) string {
	v, _ := ctx.Value(runIDKey).(string)
	return v
}

// ProcessID returns the process ID, or 0 if absent.
func ProcessID(ctx context.Context) int64 {
	v, _ := ctx.Value(processIDKey).(int64)
	return v
}

func Script(ctx context.Context) string {
	v, _ := ctx.Value(scriptKey).(string)
	return v
}

func Action(ctx context.Context) string {
	v, _ := ctx.Value(actionKey).(string)
	return v
}

// correlationAttrs returns the non-empty correlation attributes of ctx.
func correlationAttrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	if v := RunID(ctx); v != "" {
		attrs = append(attrs, slog.String("run_id", v))
	}
	if v := ProcessID(ctx); v != 0 {
		attrs = append(attrs, slog.Int64("process_id", v))
	}
	if v := Script(ctx); v != "" {
		attrs = append(attrs, slog.String("script", v))
	}
	if v := Action(ctx); v != "" {
		attrs = append(attrs, slog.String("action", v))
	}
	return attrs
}

// LogWith returns a logger enriched with the correlation attributes of ctx.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	for _, a := range correlationAttrs(ctx) {
		logger = logger.With(a)
	}
	return logger
}

// CorrelationHandler wraps an slog.Handler, injecting the correlation
// attributes of the record context. Use logger.InfoContext(ctx, ...).
type CorrelationHandler struct {
	inner slog.Handler
}

func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(correlationAttrs(ctx)...)
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}

// ParseLevel maps debug, info, warn and error to slog levels. Anything else is info.
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

// New builds a correlated logger writing text or json (format) to w.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var inner slog.Handler
	if strings.EqualFold(format, "json") {
		inner = slog.NewJSONHandler(w, opts)
	} else {
		inner = slog.NewTextHandler(w, opts)
	}
	return slog.New(NewCorrelationHandler(inner))
}
