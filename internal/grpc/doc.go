// Package grpc hosts the bridge's gRPC surface: the standard
// grpc.health.v1 service answered from live registry state.
//
// Service names:
//   - "" reports the bridge itself
//   - "session/<id>" reports one session: SERVING while the child accepts
//     input, NOT_SERVING after it exits, SERVICE_UNKNOWN when absent
//
// Check answers once; unknown services are a NotFound error. Watch
// streams the status on every change and tolerates services that do not
// exist yet, so orchestrators can probe sessions they are about to
// create. Server wraps grpc.Server with keepalive, tracing interceptors,
// and a bounded graceful stop (open Watch streams never drain on their
// own).
//
// Example Usage:
//
//	srv := grpc.NewServer(registry, metrics, tracer, logger)
//	lis, _ := net.Listen("tcp", ":50052")
//	go srv.Serve(lis)
//	defer srv.Stop()
package grpc
