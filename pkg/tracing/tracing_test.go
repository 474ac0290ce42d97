package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingProvider() (*Provider, *tracetest.SpanRecorder) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	return &Provider{
		tp:         tp,
		tracer:     tp.Tracer("test"),
		propagator: propagation.TraceContext{},
	}, recorder
}

func TestDisabledProvider(t *testing.T) {
	p, err := InitTracer(context.Background(), Config{ServiceName: "subgen"})
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	_, span := p.StartSpan(context.Background(), "noop")
	span.End()
	assert.False(t, span.SpanContext().IsSampled())
}

func TestTransportInjectsTraceparent(t *testing.T) {
	var traceparent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceparent = r.Header.Get("traceparent")
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p, recorder := newRecordingProvider()
	client := &http.Client{Transport: p.Transport(nil)}

	resp, err := client.Get(srv.URL + "/job-status/abc")
	require.NoError(t, err)
	resp.Body.Close()

	assert.NotEmpty(t, traceparent)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /job-status/abc", spans[0].Name())
}

func TestNilProviderIsSafe(t *testing.T) {
	var p *Provider
	ctx, span := p.StartSpan(context.Background(), "x")
	span.End()
	assert.NotNil(t, ctx)
	assert.Equal(t, http.DefaultTransport, p.Transport(nil))
	assert.NoError(t, p.Shutdown(context.Background()))
}
