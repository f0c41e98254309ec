package graphcache

import (
	"context"

	otel "github.com/arkestra/graphcache/internal/otel"
)

// EnableTelemetry exports mutation and transport spans to an OTLP/gRPC
// collector at endpoint. It returns a shutdown function that flushes pending
// spans. An empty endpoint disables telemetry and the returned shutdown is a
// no-op.
func EnableTelemetry(endpoint, service string) (func(context.Context) error, error) {
	return otel.Setup(endpoint, service)
}
