/*
Package tracing provides lightweight request tracing for the bridge.

# Overview

This package tracks a request across the bridge's surfaces (HTTP API,
WebSocket gateway, gRPC health service) with trace and span identifiers.
It follows OpenTelemetry concepts with a minimal implementation that
emits spans through the structured logger.

# Features

- Identity propagation over HTTP headers and gRPC metadata
- Span creation with parent-child relationships
- Fresh trace IDs minted at the edge when none arrive
- Drop-in middleware for Gin and the gRPC server
- Buffered, non-blocking span collection with drain on close

# Usage

	// One tracer per process
	tracer := tracing.New("bridge", logger)
	defer tracer.Close()

	// Span per routed request
	router.Use(tracing.HTTPMiddleware(tracer))

	// gRPC server interceptors
	server := grpc.NewServer(
		grpc.UnaryInterceptor(tracing.GRPCUnaryInterceptor(tracer)),
		grpc.StreamInterceptor(tracing.GRPCStreamInterceptor(tracer)),
	)

	// Spans by hand where middleware cannot reach
	span, ctx := tracer.StartSpan(ctx, "operation")
	defer func() {
		span.Finish()
		tracer.Submit(span)
	}()

	span.SetTag("key", "value")

# Trace Format

Propagation rides two headers:
- X-Trace-ID: Unique identifier for the entire request flow
- X-Span-ID: Identifier for the current operation

Responses echo both headers so callers can correlate their own logs.
*/
package tracing
