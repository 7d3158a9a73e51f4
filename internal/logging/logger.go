// Package logging wraps structured logging with OpenTelemetry trace
// correlation. StartSpan is called directly by internal/handler around
// each served connection.
package logging

import (
	"context"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger pairs a structured slog.Logger with an OpenTelemetry tracer so
// every log line can be correlated to the span that produced it.
type Logger struct {
	slogger *slog.Logger
	tracer  trace.Tracer
}

// NewLogger constructs a Logger that emits JSON to stdout and derives
// spans from the named tracer.
func NewLogger(service string) *Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: true,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Key = "timestamp"
			}
			return a
		},
	})

	return &Logger{
		slogger: slog.New(handler),
		tracer:  otel.Tracer(service),
	}
}

// Debug logs a debug-level message correlated to ctx's active span.
func (l *Logger) Debug(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.logWithTrace(ctx, slog.LevelDebug, msg, attrs...)
}

// Info logs an informational message correlated to ctx's active span.
func (l *Logger) Info(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.logWithTrace(ctx, slog.LevelInfo, msg, attrs...)
}

// Warn logs a warning, for recoverable faults like a classified
// connection reset (internal/faultrecovery).
func (l *Logger) Warn(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.logWithTrace(ctx, slog.LevelWarn, msg, attrs...)
}

// Error logs err against msg and marks the active span as failed.
func (l *Logger) Error(ctx context.Context, msg string, err error, attrs ...slog.Attr) {
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		if span := trace.SpanFromContext(ctx); span.IsRecording() {
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
		}
	}
	l.logWithTrace(ctx, slog.LevelError, msg, attrs...)
}

// Fatal logs err against msg and terminates the process — reserved for
// unrecoverable startup failures like a failed bind/listen.
func (l *Logger) Fatal(ctx context.Context, msg string, err error, attrs ...slog.Attr) {
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	l.logWithTrace(ctx, slog.LevelError, msg, attrs...)
	os.Exit(1)
}

func (l *Logger) logWithTrace(ctx context.Context, level slog.Level, msg string, attrs ...slog.Attr) {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		attrs = append(attrs,
			slog.String("trace_id", span.SpanContext().TraceID().String()),
			slog.String("span_id", span.SpanContext().SpanID().String()),
		)
	}
	attrs = append(attrs,
		slog.String("service", "cacheproxy"),
		slog.Time("timestamp", time.Now()),
	)
	l.slogger.LogAttrs(ctx, level, msg, attrs...)
}

// StartSpan starts a new span named operationName as a child of ctx's
// current span, returning the derived context to thread through the
// rest of the connection's handling.
func (l *Logger) StartSpan(ctx context.Context, operationName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return l.tracer.Start(ctx, operationName, trace.WithAttributes(attrs...))
}

// WithFields returns a Logger that prepends attrs to every subsequent log
// line, without mutating l.
func (l *Logger) WithFields(attrs ...slog.Attr) *Logger {
	anyAttrs := make([]any, len(attrs))
	for i, a := range attrs {
		anyAttrs[i] = a
	}
	return &Logger{
		slogger: l.slogger.With(anyAttrs...),
		tracer:  l.tracer,
	}
}
