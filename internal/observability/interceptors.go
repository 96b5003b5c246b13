package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/signalsfoundry/agentsim/internal/logging"
)

// RequestIDMetadataKey is the incoming metadata key copied onto RPC logs
// and spans.
const RequestIDMetadataKey = "x-request-id"

// LoggingUnaryServerInterceptor puts a logger on every RPC context. The
// logger carries the simulator's run_id, the full method name and the
// caller's x-request-id when one was sent.
func LoggingUnaryServerInterceptor(base logging.Logger, runID string) grpc.UnaryServerInterceptor {
	if base == nil {
		base = logging.Noop()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		fields := []logging.Field{logging.String("rpc.method", info.FullMethod)}
		if runID != "" {
			ctx = logging.ContextWithRunID(ctx, runID)
			fields = append(fields, logging.String("run_id", runID))
		}
		if id := requestIDFromMetadata(ctx); id != "" {
			fields = append(fields, logging.String("request_id", id))
		}
		l := base.With(fields...)
		ctx = logging.ContextWithLogger(ctx, l)

		resp, err := handler(ctx, req)
		if err != nil {
			l.Warn(ctx, "rpc failed", logging.Err(err))
		} else {
			l.Debug(ctx, "rpc served")
		}
		return resp, err
	}
}

// SpanAttributesUnaryServerInterceptor decorates the span started by the
// otelgrpc stats handler with the request ID and, on failure, the error.
func SpanAttributesUnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		span := trace.SpanFromContext(ctx)
		if id := requestIDFromMetadata(ctx); id != "" {
			span.SetAttributes(attribute.String("request.id", id))
		}
		if runID := logging.RunIDFromContext(ctx); runID != "" {
			span.SetAttributes(attribute.String("sim.run_id", runID))
		}
		resp, err := handler(ctx, req)
		if err != nil {
			span.RecordError(err)
		}
		return resp, err
	}
}

func requestIDFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if vals := md.Get(RequestIDMetadataKey); len(vals) > 0 {
		return vals[0]
	}
	return ""
}
