package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type (
	// ZapLogger wraps a *zap.SugaredLogger for runtime logging. Unlike the
	// Goa-specific clue/log wrapper this replaces, it carries no dependency
	// on a Goa service context — it is usable from any entry point
	// (ExecutionManager, Mirror, CLI).
	ZapLogger struct {
		l *zap.SugaredLogger
	}

	// OtelMetrics wraps OTEL metrics for runtime instrumentation.
	OtelMetrics struct {
		meter metric.Meter
	}

	// OtelTracer wraps OTEL tracing for runtime tracing.
	OtelTracer struct {
		tracer trace.Tracer
	}

	otelSpan struct {
		span trace.Span
	}
)

// NewZapLogger constructs a Logger backed by the given zap logger. Pass
// zap.NewProduction() or zap.NewDevelopment() depending on deployment mode.
func NewZapLogger(l *zap.Logger) Logger {
	return ZapLogger{l: l.Sugar()}
}

// NewOtelMetrics constructs a Metrics recorder that delegates to OTEL
// metrics. Configure the global MeterProvider before invoking kernel
// methods.
func NewOtelMetrics() Metrics {
	return &OtelMetrics{meter: otel.Meter("github.com/lbliii/sunwell")}
}

// NewOtelTracer constructs a Tracer that delegates to OTEL tracing.
func NewOtelTracer() Tracer {
	return &OtelTracer{tracer: otel.Tracer("github.com/lbliii/sunwell")}
}

func (z ZapLogger) Debug(_ context.Context, msg string, keyvals ...any) {
	z.l.Debugw(msg, keyvals...)
}

func (z ZapLogger) Info(_ context.Context, msg string, keyvals ...any) {
	z.l.Infow(msg, keyvals...)
}

func (z ZapLogger) Warn(_ context.Context, msg string, keyvals ...any) {
	z.l.Warnw(msg, keyvals...)
}

func (z ZapLogger) Error(_ context.Context, msg string, keyvals ...any) {
	z.l.Errorw(msg, keyvals...)
}

// IncCounter increments a counter metric by value.
func (m *OtelMetrics) IncCounter(name string, value float64, tags ...string) {
	counter, err := m.meter.Float64Counter(name)
	if err != nil {
		return
	}
	counter.Add(context.Background(), value, metric.WithAttributes(tagsToAttrs(tags)...))
}

// RecordTimer records a duration histogram metric.
func (m *OtelMetrics) RecordTimer(name string, duration time.Duration, tags ...string) {
	histogram, err := m.meter.Float64Histogram(name)
	if err != nil {
		return
	}
	histogram.Record(context.Background(), duration.Seconds(), metric.WithAttributes(tagsToAttrs(tags)...))
}

// RecordGauge records a gauge-like value. OTEL has no synchronous gauge, so
// this records into a histogram suffixed "_gauge", matching the fallback
// strategy the teacher uses for the same reason.
func (m *OtelMetrics) RecordGauge(name string, value float64, tags ...string) {
	histogram, err := m.meter.Float64Histogram(name + "_gauge")
	if err != nil {
		return
	}
	histogram.Record(context.Background(), value, metric.WithAttributes(tagsToAttrs(tags)...))
}

// Start creates a new span with the given name.
func (t *OtelTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span) {
	newCtx, span := t.tracer.Start(ctx, name, opts...)
	return newCtx, &otelSpan{span: span}
}

// Span retrieves the current span from the context.
func (t *OtelTracer) Span(ctx context.Context) Span {
	return &otelSpan{span: trace.SpanFromContext(ctx)}
}

func (s *otelSpan) End(opts ...trace.SpanEndOption) { s.span.End(opts...) }

func (s *otelSpan) AddEvent(name string, attrs ...any) {
	s.span.AddEvent(name, trace.WithAttributes(kvSliceToAttrs(attrs)...))
}

func (s *otelSpan) SetStatus(code codes.Code, description string) {
	s.span.SetStatus(code, description)
}

func (s *otelSpan) RecordError(err error, opts ...trace.EventOption) {
	s.span.RecordError(err, opts...)
}

func tagsToAttrs(tags []string) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	for i := 0; i < len(tags); i += 2 {
		k := tags[i]
		v := ""
		if i+1 < len(tags) {
			v = tags[i+1]
		}
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}

func kvSliceToAttrs(keyvals []any) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	for i := 0; i < len(keyvals); i += 2 {
		k, _ := keyvals[i].(string)
		var v any
		if i+1 < len(keyvals) {
			v = keyvals[i+1]
		}
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(k, val))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		default:
			attrs = append(attrs, attribute.String(k, ""))
		}
	}
	return attrs
}
