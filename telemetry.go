package skyline

import (
	"context"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// multiHandler fans out slog records to multiple handlers.
type multiHandler struct {
	handlers []slog.Handler
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range m.handlers {
		if h.Enabled(ctx, r.Level) {
			_ = h.Handle(ctx, r)
		}
	}
	return nil
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		handlers[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		handlers[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}

// InitTelemetry configures slog and tracing to ship to an OTLP collector
// when SKYLINE_OTLP_ENDPOINT is set. Logs always go to stderr; the
// collector is additive. Transfer RPCs pick up the installed tracer
// provider and ship spans through the same collector.
// Returns a shutdown function that flushes the batch processors.
func InitTelemetry() func() {
	endpoint := os.Getenv("SKYLINE_OTLP_ENDPOINT")
	if endpoint == "" {
		return func() {}
	}

	ctx := context.Background()

	logOpts := []otlploghttp.Option{otlploghttp.WithEndpoint(endpoint)}
	if key := os.Getenv("SKYLINE_OTLP_API_KEY"); key != "" {
		logOpts = append(logOpts, otlploghttp.WithHeaders(map[string]string{
			"Authorization": "Bearer " + key,
		}))
	}

	logExporter, err := otlploghttp.New(ctx, logOpts...)
	if err != nil {
		slog.Error("Failed to create OTLP log exporter, continuing with stderr only.", "error", err)
		return func() {}
	}

	logProvider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)),
	)

	otelHandler := otelslog.NewHandler("skyline", otelslog.WithLoggerProvider(logProvider))
	textHandler := slog.NewTextHandler(os.Stderr, nil)

	slog.SetDefault(slog.New(&multiHandler{
		handlers: []slog.Handler{textHandler, otelHandler},
	}))

	traceExporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(endpoint))
	if err != nil {
		slog.Error("Failed to create OTLP trace exporter, continuing without traces.", "error", err)
		return func() {
			_ = logProvider.Shutdown(context.Background())
		}
	}

	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
	)
	otel.SetTracerProvider(traceProvider)

	slog.Info("OTLP telemetry enabled.", "endpoint", endpoint)

	return func() {
		_ = traceProvider.Shutdown(context.Background())
		_ = logProvider.Shutdown(context.Background())
	}
}
