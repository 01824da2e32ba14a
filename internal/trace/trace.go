package trace

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const serviceName = "capital-trading-bot"

// Version is stamped at build time with -ldflags "-X .../trace.Version=...".
var Version = "dev"

type Config struct {
	Enabled     bool
	File        string  // spans are appended here; stdout when empty
	SampleRatio float64 // 0 < r <= 1
	Writer      io.Writer
}

var (
	mu       sync.RWMutex
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
	closer   io.Closer
)

// LoadConfigFromEnv reads TRACE_ENABLED, TRACE_FILE and TRACE_SAMPLE_RATIO.
func LoadConfigFromEnv() Config {
	cfg := Config{
		Enabled:     os.Getenv("TRACE_ENABLED") == "true",
		File:        os.Getenv("TRACE_FILE"),
		SampleRatio: 1,
	}
	if v, err := strconv.ParseFloat(os.Getenv("TRACE_SAMPLE_RATIO"), 64); err == nil && v > 0 && v <= 1 {
		cfg.SampleRatio = v
	}
	return cfg
}

func Init() error {
	return InitWithConfig(LoadConfigFromEnv())
}

func InitWithConfig(cfg Config) error {
	if !cfg.Enabled {
		return nil
	}

	w := cfg.Writer
	var c io.Closer
	if w == nil {
		w = os.Stdout
		if cfg.File != "" {
			f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return fmt.Errorf("open trace file: %w", err)
			}
			w, c = f, f
		}
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return err
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(Version),
		),
	)
	if err != nil {
		return err
	}

	ratio := cfg.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	)
	otel.SetTracerProvider(tp)

	mu.Lock()
	provider, closer = tp, c
	tracer = tp.Tracer(serviceName)
	mu.Unlock()
	return nil
}

// Shutdown flushes pending spans and disables tracing.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	tp, c := provider, closer
	provider, closer, tracer = nil, nil, nil
	mu.Unlock()

	if tp == nil {
		return nil
	}
	err := tp.Shutdown(ctx)
	if c != nil {
		_ = c.Close()
	}
	return err
}

func current() trace.Tracer {
	mu.RLock()
	defer mu.RUnlock()
	return tracer
}

func StartSpan(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	t := current()
	if t == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.Start(ctx, spanName, opts...)
}

func Enabled() bool {
	return current() != nil
}

func GetTraceFields(ctx context.Context) (traceID, spanID string, ok bool) {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return "", "", false
	}
	return sc.TraceID().String(), sc.SpanID().String(), true
}
