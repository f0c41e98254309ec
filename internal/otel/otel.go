package otel

import (
	"context"
	"sync"

	eventbus "github.com/arkestra/graphcache/internal/eventbus"
	events "github.com/arkestra/graphcache/internal/events"
	opid "github.com/arkestra/graphcache/internal/opid"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
)

// Setup configures OpenTelemetry and attaches eventbus subscribers.
// If endpoint is empty, no telemetry is configured.
func Setup(endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithInsecure()))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)

	sub := &subscriber{tracer: otel.Tracer("graphcache")}
	sub.register()

	return tp.Shutdown, nil
}

type subscriber struct {
	tracer        trace.Tracer
	mutationSpans sync.Map // opid -> trace.Span
	requestSpans  sync.Map // opid -> trace.Span
}

func (s *subscriber) register() {
	eventbus.Subscribe(func(ctx context.Context, e events.MutationStart) {
		id, _ := opid.FromContext(ctx)
		_, span := s.tracer.Start(ctx, "graphcache.mutation")
		span.SetAttributes(
			attribute.String("graphql.operation.name", e.OperationName),
			attribute.Bool("graphcache.optimistic", e.Optimistic),
		)
		s.mutationSpans.Store(id, span)
	})

	eventbus.Subscribe(func(ctx context.Context, e events.MutationFinish) {
		id, _ := opid.FromContext(ctx)
		v, ok := s.mutationSpans.LoadAndDelete(id)
		if !ok {
			return
		}
		span := v.(trace.Span)
		span.SetAttributes(attribute.Bool("graphcache.rolled_back", e.RolledBack))
		if e.Err != nil {
			span.RecordError(e.Err)
		}
		span.End()
	})

	eventbus.Subscribe(func(ctx context.Context, e events.TransportStart) {
		id, _ := opid.FromContext(ctx)
		parent := ctx
		if v, ok := s.mutationSpans.Load(id); ok {
			parent = trace.ContextWithSpan(ctx, v.(trace.Span))
		}
		_, span := s.tracer.Start(parent, "graphcache.request")
		span.SetAttributes(
			attribute.String("graphcache.transport", e.Kind),
			attribute.String("graphql.operation.name", e.OperationName),
			attribute.String("net.peer.name", e.URL),
		)
		s.requestSpans.Store(id, span)
	})

	eventbus.Subscribe(func(ctx context.Context, e events.TransportFinish) {
		id, _ := opid.FromContext(ctx)
		v, ok := s.requestSpans.LoadAndDelete(id)
		if !ok {
			return
		}
		span := v.(trace.Span)
		span.SetAttributes(attribute.Int("graphql.error_count", e.ErrorCount))
		if e.Err != nil {
			span.RecordError(e.Err)
		}
		span.End()
	})
}
