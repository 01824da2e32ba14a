// Package logger is the bot's slog front end. Every line carries the active
// trace and span IDs; trading events are also attached to the span.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	bottrace "capital-trading-bot/internal/trace"
)

var (
	globalLogger    atomic.Pointer[slog.Logger]
	detailedLogging atomic.Bool
)

type LogConfig struct {
	Level    string // DEBUG, INFO, WARN, ERROR
	Format   string // json or text
	Detailed bool   // caller source on every line, debug lines enabled
	File     string // append here instead of stdout
	Writer   io.Writer
}

// Init configures logging from LOG_LEVEL, LOG_FORMAT, LOG_DETAILED and LOG_FILE.
func Init() error {
	return InitWithConfig(LoadConfigFromEnv())
}

func LoadConfigFromEnv() LogConfig {
	return LogConfig{
		Level:    getEnvOrDefault("LOG_LEVEL", "INFO"),
		Format:   getEnvOrDefault("LOG_FORMAT", "json"),
		Detailed: getEnvOrDefault("LOG_DETAILED", "false") == "true",
		File:     os.Getenv("LOG_FILE"),
	}
}

func InitWithConfig(cfg LogConfig) error {
	level := parseLogLevel(cfg.Level)
	detailedLogging.Store(cfg.Detailed || level == slog.LevelDebug)

	w := cfg.Writer
	if w == nil {
		w = os.Stdout
		if cfg.File != "" {
			f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return fmt.Errorf("open log file: %w", err)
			}
			w = f
		}
	}

	// Source is added by logWithTrace so wrappers can report their caller.
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	l := slog.New(handler)
	globalLogger.Store(l)
	slog.SetDefault(l)
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func base() *slog.Logger {
	if l := globalLogger.Load(); l != nil {
		return l
	}
	return slog.Default()
}

func Debug(ctx context.Context, msg string, args ...any) {
	if !detailedLogging.Load() {
		return
	}
	logWithTrace(ctx, slog.LevelDebug, msg, 2, args...)
}

func Info(ctx context.Context, msg string, args ...any) {
	logWithTrace(ctx, slog.LevelInfo, msg, 2, args...)
}

func Warn(ctx context.Context, msg string, args ...any) {
	logWithTrace(ctx, slog.LevelWarn, msg, 2, args...)
}

func Error(ctx context.Context, msg string, args ...any) {
	logWithTrace(ctx, slog.LevelError, msg, 2, args...)
}

// ErrorWithErr also marks the active span as failed.
func ErrorWithErr(ctx context.Context, msg string, err error, args ...any) {
	recordSpanError(ctx, err)
	logWithTrace(ctx, slog.LevelError, msg, 2, append([]any{"error", err}, args...)...)
}

// DebugSkip, InfoSkip and ErrorWithErrSkip are used by wrappers that want the
// source location of their own caller instead of the wrapper itself.
func DebugSkip(ctx context.Context, skip int, msg string, args ...any) {
	if !detailedLogging.Load() {
		return
	}
	logWithTrace(ctx, slog.LevelDebug, msg, 2+skip, args...)
}

func InfoSkip(ctx context.Context, skip int, msg string, args ...any) {
	logWithTrace(ctx, slog.LevelInfo, msg, 2+skip, args...)
}

func ErrorWithErrSkip(ctx context.Context, skip int, msg string, err error, args ...any) {
	recordSpanError(ctx, err)
	logWithTrace(ctx, slog.LevelError, msg, 2+skip, append([]any{"error", err}, args...)...)
}

func recordSpanError(ctx context.Context, err error) {
	if err == nil || !bottrace.Enabled() {
		return
	}
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// logWithTrace prepends trace fields. skip counts frames up to the real caller.
func logWithTrace(ctx context.Context, level slog.Level, msg string, skip int, args ...any) {
	if traceID, spanID, ok := bottrace.GetTraceFields(ctx); ok {
		args = append([]any{"trace_id", traceID, "span_id", spanID}, args...)
	}

	if detailedLogging.Load() {
		if pc, file, line, ok := runtime.Caller(skip); ok {
			if fn := runtime.FuncForPC(pc); fn != nil {
				args = append(args, "source", slog.GroupValue(
					slog.String("function", fn.Name()),
					slog.String("file", file),
					slog.Int("line", line),
				))
			}
		}
	}

	base().Log(ctx, level, msg, args...)
}

func spanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	if !bottrace.Enabled() {
		return
	}
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		span.AddEvent(name, trace.WithAttributes(attrs...))
	}
}

// Decision is logged at INFO whatever the level.
func Decision(ctx context.Context, epic, action string, confidence float64, reason string, fields ...any) {
	spanEvent(ctx, "trading_decision",
		attribute.String("epic", epic),
		attribute.String("action", action),
		attribute.Float64("confidence", confidence),
		attribute.String("reason", reason),
	)
	logWithTrace(ctx, slog.LevelInfo, "Trading decision made", 2, append([]any{
		"type", "DECISION",
		"epic", epic,
		"action", action,
		"confidence", confidence,
		"reason", reason,
	}, fields...)...)
}

func Trade(ctx context.Context, epic, direction string, size, price float64, dealRef string, fields ...any) {
	spanEvent(ctx, "trade_executed",
		attribute.String("epic", epic),
		attribute.String("direction", direction),
		attribute.Float64("size", size),
		attribute.Float64("price", price),
		attribute.String("deal_reference", dealRef),
	)
	logWithTrace(ctx, slog.LevelInfo, "Trade executed", 2, append([]any{
		"type", "TRADE",
		"epic", epic,
		"direction", direction,
		"size", size,
		"price", price,
		"deal_reference", dealRef,
	}, fields...)...)
}

// Blocked records an order the bot decided not to send. event is a stable
// tag such as TRADE_BLOCKED_SIZE that alerts can match on.
func Blocked(ctx context.Context, epic, event, reason string, fields ...any) {
	spanEvent(ctx, "trade_blocked",
		attribute.String("epic", epic),
		attribute.String("event", event),
		attribute.String("reason", reason),
	)
	logWithTrace(ctx, slog.LevelWarn, "Trade blocked", 2, append([]any{
		"type", "BLOCKED",
		"epic", epic,
		"event", event,
		"reason", reason,
	}, fields...)...)
}
