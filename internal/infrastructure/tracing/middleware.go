package tracing

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// HTTPMiddleware creates Gin middleware that opens a span per request.
func HTTPMiddleware(tracer *Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if trace := TraceID(c.GetHeader("X-Trace-ID")); trace != "" {
			ctx = context.WithValue(ctx, traceKey, trace)
		}
		if parent := SpanID(c.GetHeader("X-Span-ID")); parent != "" {
			ctx = context.WithValue(ctx, spanKey, parent)
		}

		// Route pattern over raw path, so /sessions/AB12CD and
		// /sessions/XY34EF share one span name.
		name := c.FullPath()
		if name == "" {
			name = c.Request.URL.Path
		}

		span, ctx := tracer.StartSpan(ctx, name)
		span.SetTag("http.method", c.Request.Method)
		span.SetTag("http.url", c.Request.URL.String())
		span.SetTag("http.host", c.Request.Host)

		c.Request = c.Request.WithContext(ctx)

		// Echo trace identity so callers can correlate their logs.
		c.Header("X-Trace-ID", string(span.TraceID))
		c.Header("X-Span-ID", string(span.SpanID))

		c.Next()

		status := c.Writer.Status()
		span.SetStatus(status)
		span.SetTag("http.status", strconv.Itoa(status))
		if len(c.Errors) > 0 {
			span.SetError(c.Errors.Last())
		}

		span.Finish()
		tracer.Submit(span)
	}
}

// GRPCUnaryInterceptor traces unary calls.
func GRPCUnaryInterceptor(tracer *Tracer) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		span, ctx := tracer.StartSpan(withIncomingTrace(ctx), info.FullMethod)
		span.SetTag("rpc.system", "grpc")
		span.SetTag("rpc.method", info.FullMethod)

		resp, err := handler(ctx, req)
		finishRPC(tracer, span, err)
		return resp, err
	}
}

// GRPCStreamInterceptor traces streaming calls, carrying the trace
// context to the handler through a wrapped stream.
func GRPCStreamInterceptor(tracer *Tracer) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		span, ctx := tracer.StartSpan(withIncomingTrace(ss.Context()), info.FullMethod)
		span.SetTag("rpc.system", "grpc")
		span.SetTag("rpc.method", info.FullMethod)
		span.SetTag("rpc.streaming", "true")

		err := handler(srv, &tracedServerStream{ServerStream: ss, ctx: ctx})
		finishRPC(tracer, span, err)
		return err
	}
}

// finishRPC closes out an RPC span with the handler outcome.
func finishRPC(tracer *Tracer, span *Span, err error) {
	if err != nil {
		span.SetError(err)
	} else {
		span.SetStatus(200)
	}
	span.Finish()
	tracer.Submit(span)
}

// withIncomingTrace lifts trace identity out of gRPC metadata.
func withIncomingTrace(ctx context.Context) context.Context {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx
	}
	if vals := md.Get("x-trace-id"); len(vals) > 0 && vals[0] != "" {
		ctx = context.WithValue(ctx, traceKey, TraceID(vals[0]))
	}
	if vals := md.Get("x-span-id"); len(vals) > 0 && vals[0] != "" {
		ctx = context.WithValue(ctx, spanKey, SpanID(vals[0]))
	}
	return ctx
}

// tracedServerStream carries the trace context through a handled stream.
type tracedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *tracedServerStream) Context() context.Context {
	return s.ctx
}
