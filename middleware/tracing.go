package middleware

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dshills/fluxkit/dispatch"
)

// tracerName identifies spans created by this package.
const tracerName = "github.com/dshills/fluxkit/middleware"

// TracingOption configures the tracing middleware.
type TracingOption func(*tracingConfig)

type tracingConfig struct {
	tracer trace.Tracer
}

// WithTracerProvider sets the provider used to create the tracer. The
// global provider is used by default.
func WithTracerProvider(tp trace.TracerProvider) TracingOption {
	return func(c *tracingConfig) {
		if tp != nil {
			c.tracer = tp.Tracer(tracerName)
		}
	}
}

// Tracing opens a span around the downstream chain and handler execution.
// The span is named after the dispatched action's Go type and records any
// error propagating back up the chain.
func Tracing(opts ...TracingOption) dispatch.MiddlewareFunc {
	cfg := tracingConfig{tracer: otel.Tracer(tracerName)}
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(ctx context.Context, mc *dispatch.Context) error {
		actionType := fmt.Sprintf("%T", mc.Action())

		ctx, span := cfg.tracer.Start(ctx, "fluxkit.dispatch "+actionType,
			trace.WithAttributes(
				attribute.String("fluxkit.action.type", actionType),
			),
		)
		defer span.End()

		err := mc.Next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return err
	}
}
