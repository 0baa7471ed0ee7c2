package tracing

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/halim/warden/internal/config"
)

var (
	initOnce    sync.Once
	providerMu  sync.RWMutex
	provider    *sdktrace.TracerProvider
	providerErr error
)

// Init installs the process-wide tracer provider. The sample ratio comes
// from configuration; child spans follow their parent's sampling decision.
// Repeated calls are no-ops returning the first outcome.
func Init(serviceName, serviceVersion string, cfg config.TracingConfig) error {
	initOnce.Do(func() {
		res, err := resource.New(
			context.Background(),
			resource.WithAttributes(
				semconv.ServiceName(serviceName),
				semconv.ServiceVersion(serviceVersion),
			),
		)
		if err != nil {
			providerErr = err
			return
		}

		tp := sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
			sdktrace.WithResource(res),
		)

		providerMu.Lock()
		provider = tp
		providerMu.Unlock()

		otel.SetTracerProvider(tp)
	})

	return providerErr
}

// Shutdown flushes and stops the tracer provider installed by Init.
func Shutdown(ctx context.Context) error {
	providerMu.RLock()
	tp := provider
	providerMu.RUnlock()
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

// StartSpan starts a span carrying the turn identity: the conversation and
// turn IDs already present in ctx become span attributes, and the span's
// trace ID is written back into ctx for log correlation.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	if conversationID := GetConversationID(ctx); conversationID != "" {
		attrs = append(attrs, attribute.String("conversation_id", conversationID))
	}
	if turnID := GetTurnID(ctx); turnID != "" {
		attrs = append(attrs, attribute.String("turn_id", turnID))
	}

	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, spanName, trace.WithAttributes(attrs...))

	if GetTraceID(ctx) == "" {
		if sc := span.SpanContext(); sc.IsValid() {
			ctx = WithTraceID(ctx, sc.TraceID().String())
		}
	}

	return ctx, span
}
