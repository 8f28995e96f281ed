package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// These tests mutate the global provider, so they do not run in parallel.

func TestInitRequiresServiceName(t *testing.T) {
	_, err := Init(context.Background(), Config{})
	require.Error(t, err)
}

func TestMiddlewareRecordsSpansAndContinuesTraces(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	shutdown, err := Init(context.Background(),
		Config{ServiceName: "coordinator-test", Version: "test", NodeID: "node-1", SampleRatio: 1},
		sdktrace.WithSpanProcessor(recorder),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	var inner trace.SpanContext
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner = trace.SpanContextFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	parent := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x01, 0x02, 0x03},
		SpanID:     trace.SpanID{0x04},
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/newJob", nil)
	otel.GetTextMapPropagator().Inject(
		trace.ContextWithRemoteSpanContext(context.Background(), parent),
		propagation.HeaderCarrier(req.Header),
	)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.True(t, inner.IsValid())
	require.Equal(t, parent.TraceID(), inner.TraceID())

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, "POST /api/newJob", spans[0].Name())
}

func TestMiddlewareSkipsProbes(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	shutdown, err := Init(context.Background(), Config{ServiceName: "coordinator-test", SampleRatio: 1},
		sdktrace.WithSpanProcessor(recorder))
	require.NoError(t, err)
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Empty(t, recorder.Ended())
}
