package tracing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func recordSpans(t *testing.T, fn func(ctx context.Context, tp *sdktrace.TracerProvider)) []sdktrace.ReadOnlySpan {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	fn(context.Background(), tp)
	require.NoError(t, tp.Shutdown(context.Background()))
	return recorder.Ended()
}

func TestNewFileExporter_CreatesParentDirectories(t *testing.T) {
	tracePath := filepath.Join(t.TempDir(), "nested", "dir", "traces.jsonl")

	exporter, err := NewFileExporter(tracePath)
	require.NoError(t, err)

	_, err = os.Stat(tracePath)
	require.NoError(t, err)
	require.NoError(t, exporter.Shutdown(context.Background()))
}

func TestNewFileExporter_Appends(t *testing.T) {
	tracePath := filepath.Join(t.TempDir(), "traces.jsonl")
	require.NoError(t, os.WriteFile(tracePath, []byte(`{"existing":true}`+"\n"), 0o644))

	spans := recordSpans(t, func(ctx context.Context, tp *sdktrace.TracerProvider) {
		_, span := tp.Tracer("test").Start(ctx, SpanCompileString)
		span.End()
	})

	exporter, err := NewFileExporter(tracePath)
	require.NoError(t, err)
	require.NoError(t, exporter.ExportSpans(context.Background(), spans))
	require.NoError(t, exporter.Shutdown(context.Background()))

	data, err := os.ReadFile(tracePath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	require.Equal(t, `{"existing":true}`, lines[0])
}

func TestWriterExporter_RecordShape(t *testing.T) {
	spans := recordSpans(t, func(ctx context.Context, tp *sdktrace.TracerProvider) {
		tracer := tp.Tracer("test")
		ctx, parent := tracer.Start(ctx, SpanCompileFile)
		_, child := tracer.Start(ctx, SpanCompileString)
		child.SetAttributes(attribute.Int(AttrSourceBytes, 42))
		child.AddEvent(EventResponseParsed, trace.WithAttributes(attribute.Bool(AttrStreamed, true)))
		child.RecordError(errors.New("bad"))
		child.SetStatus(codes.Error, "compilation failed")
		child.End()
		parent.SetStatus(codes.Ok, "")
		parent.End()
	})
	require.Len(t, spans, 2)

	var buf bytes.Buffer
	exporter := NewWriterExporter(&buf)
	require.NoError(t, exporter.ExportSpans(context.Background(), spans))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var child, parent SpanRecord
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &child))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &parent))

	require.Equal(t, SpanCompileString, child.Name)
	require.Equal(t, "ERROR", child.Status)
	require.Equal(t, "compilation failed", child.StatusMsg)
	require.Equal(t, float64(42), child.Attributes[AttrSourceBytes])
	require.Equal(t, parent.SpanID, child.ParentSpanID)
	require.Equal(t, parent.TraceID, child.TraceID)
	require.NotEmpty(t, child.Events)
	require.Equal(t, EventResponseParsed, child.Events[0].Name)

	require.Equal(t, "OK", parent.Status)
	require.Empty(t, parent.ParentSpanID)
}

func TestWriterExporter_AfterShutdown(t *testing.T) {
	spans := recordSpans(t, func(ctx context.Context, tp *sdktrace.TracerProvider) {
		_, span := tp.Tracer("test").Start(ctx, SpanCompileString)
		span.End()
	})

	exporter := NewWriterExporter(&bytes.Buffer{})
	require.NoError(t, exporter.Shutdown(context.Background()))
	require.Error(t, exporter.ExportSpans(context.Background(), spans))
	require.NoError(t, exporter.ExportSpans(context.Background(), nil))
}
