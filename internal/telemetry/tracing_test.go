package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitTracerProvider(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp, err := InitTracerProvider(context.Background(), "harvester-test", sdktrace.WithSpanProcessor(recorder))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := Tracer().Start(context.Background(), "harvest.run")
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	span.End()

	require.NotEmpty(t, carrier.Get("traceparent"))
	spans := recorder.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, "harvest.run", spans[0].Name())
}

func TestExportOptionsEmptyEndpoint(t *testing.T) {
	opts, err := ExportOptions(context.Background(), "")
	require.NoError(t, err)
	require.Empty(t, opts)

	_, err = ExportOptions(context.Background(), "not a url")
	require.Error(t, err)
}

func TestExportOptionsShipsSpansToCollector(t *testing.T) {
	var posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == DefaultTracesPath {
			posts.Add(1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	opts, err := ExportOptions(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Len(t, opts, 1)

	tp, err := InitTracerProvider(context.Background(), "harvester-test", opts...)
	require.NoError(t, err)
	_, span := Tracer().Start(context.Background(), "harvest.crawl")
	span.End()

	// Shutdown flushes the batcher.
	require.NoError(t, tp.Shutdown(context.Background()))
	require.Equal(t, int32(1), posts.Load())
}
