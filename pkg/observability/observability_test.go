package observability

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestQueryTracer(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	qt := NewQueryTracer(tp, "orders", 2)

	_, span := qt.Start(context.Background(), "scan", `SELECT * FROM "orders"`)
	span.End(nil)

	_, span = qt.Start(context.Background(), "bound_probe", `SELECT MAX("id") AS max_value FROM "orders"`)
	span.End(errors.New("relation does not exist"))

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)

	assert.Equal(t, "extract.scan", spans[0].Name)
	assert.Equal(t, codes.Ok, spans[0].Status.Code)
	assert.Contains(t, spans[0].Attributes, attribute.String("db.statement", `SELECT * FROM "orders"`))
	assert.Contains(t, spans[0].Attributes, attribute.Int("extract.partition", 2))

	assert.Equal(t, "extract.bound_probe", spans[1].Name)
	assert.Equal(t, codes.Error, spans[1].Status.Code)
	assert.Equal(t, "relation does not exist", spans[1].Status.Description)
}

func TestNoopTracerBeforeInit(t *testing.T) {
	qt := NewQueryTracer(nil, "orders", 0)
	_, span := qt.Start(context.Background(), "scan", "SELECT 1")
	assert.NotPanics(t, func() { span.End(nil) })
}

func TestInitTracing(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultTracingConfig("test")
	cfg.Writer = &buf

	tp, err := InitTracing(cfg)
	require.NoError(t, err)

	_, span := NewQueryTracer(nil, "orders", 0).Start(context.Background(), "scan", "SELECT 1")
	span.End(nil)

	require.NoError(t, tp.ForceFlush(context.Background()))
	assert.Contains(t, buf.String(), "extract.scan")
	require.NoError(t, Shutdown(context.Background()))
}
