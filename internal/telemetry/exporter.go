package telemetry

import (
	"context"
	"fmt"
	"net/url"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// DefaultTracesPath is the OTLP/HTTP path used when the endpoint has none.
const DefaultTracesPath = "/v1/traces"

// ExportOptions returns the provider options that batch spans to an OTLP/HTTP
// collector at endpoint, e.g. "http://otel-collector:4318". An empty endpoint
// returns no options and spans stay in process.
func ExportOptions(ctx context.Context, endpoint string) ([]sdktrace.TracerProviderOption, error) {
	if endpoint == "" {
		return nil, nil
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid otlp endpoint %q", endpoint)
	}
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpointURL(endpoint)}
	if u.Path == "" || u.Path == "/" {
		opts = append(opts, otlptracehttp.WithURLPath(DefaultTracesPath))
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}
	return []sdktrace.TracerProviderOption{sdktrace.WithBatcher(exporter)}, nil
}
