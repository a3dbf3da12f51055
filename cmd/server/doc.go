// Package main is the entry point for the AgentBridge server.
//
// The bridge keeps one long-lived interactive child process per session
// and connects remote chat front-ends to it over REST and WebSocket,
// with optional webhook push delivery.
//
// Architecture:
//
//	Front-end (chat client) → HTTP/WS API → Session Registry → Child process
//	                                      → Webhook sink (optional)
//
// Surfaces:
//   - REST API for session lifecycle, commands, and history
//   - WebSocket streaming of grouped output batches
//   - gRPC health probes per session
//   - Prometheus metrics and rate limiting
//
// Configuration comes from BRIDGE_* environment variables; the -port,
// -grpc-port, -process, -workdir, and -dev flags override individual
// values for local runs.
//
// Usage:
//
//	./server -port 8000 -process claude -workdir /workspace
//	./server -dev              (colored console logs)
//
// SIGINT and SIGTERM trigger graceful shutdown.
package main
