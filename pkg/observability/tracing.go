// Package observability provides OpenTelemetry tracing for extraction queries.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ServiceName is the instrumentation scope of every span.
const ServiceName = "nebula-extract"

// QueryTracer starts spans for the statements of one partition.
type QueryTracer struct {
	job       string
	partition int
	tracer    trace.Tracer
}

// NewQueryTracer creates a tracer on tp; a nil tp uses the global provider,
// which is a no-op until InitTracing runs.
func NewQueryTracer(tp trace.TracerProvider, job string, partition int) *QueryTracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &QueryTracer{
		job:       job,
		partition: partition,
		tracer:    tp.Tracer(ServiceName),
	}
}

// Start opens a span named "extract.<kind>" carrying the statement text.
func (qt *QueryTracer) Start(ctx context.Context, kind, statement string) (context.Context, *Span) {
	ctx, span := qt.tracer.Start(ctx, "extract."+kind, trace.WithSpanKind(trace.SpanKindClient))
	s := &Span{span: span, startTime: time.Now()}
	s.SetAttribute("db.statement", statement)
	s.SetAttribute("extract.job", qt.job)
	s.SetAttribute("extract.partition", qt.partition)
	s.SetAttribute("extract.kind", kind)
	return ctx, s
}

// Span represents a tracing span with batched attributes
type Span struct {
	span       trace.Span
	startTime  time.Time
	attributes []attribute.KeyValue
}

// SetAttribute adds an attribute to the span (batched for performance)
func (s *Span) SetAttribute(key string, value interface{}) {
	var attr attribute.KeyValue

	switch v := value.(type) {
	case string:
		attr = attribute.String(key, v)
	case int:
		attr = attribute.Int(key, v)
	case int64:
		attr = attribute.Int64(key, v)
	case float64:
		attr = attribute.Float64(key, v)
	case bool:
		attr = attribute.Bool(key, v)
	default:
		attr = attribute.String(key, fmt.Sprintf("%v", v))
	}

	s.attributes = append(s.attributes, attr)
}

// Elapsed returns the time since the span started.
func (s *Span) Elapsed() time.Duration { return time.Since(s.startTime) }

// End records err, if any, and ends the span.
func (s *Span) End(err error) {
	if len(s.attributes) > 0 {
		s.span.SetAttributes(s.attributes...)
	}
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	s.span.End()
}
