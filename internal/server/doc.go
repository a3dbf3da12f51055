// Package server assembles and runs the bridge.
//
// It wires and owns:
//   - HTTP routing with Gin (REST control plane + WebSocket stream)
//   - Middleware stack (recovery, tracing, metrics, CORS, rate limits)
//   - gRPC health listener
//   - Session registry, event bus, and optional webhook dispatcher
//
// Lifecycle:
//  1. Read configuration (environment first, flags override)
//  2. Build the zap logger for the configured mode
//  3. Wire registry, bus, gateway, handlers, and sinks
//  4. Run: start sweeps and dispatch, serve HTTP and gRPC under an
//     errgroup until the context is canceled
//  5. Shutdown in dependency order: stop intake, terminate sessions
//     while sinks still observe the final events, close bus and tracer
//
// The HTTP listener is capped at Server.MaxConns concurrent connections.
// A bus watcher keeps the session gauges and batch counters current.
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	srv, err := server.New(cfg, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer stop()
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package server
