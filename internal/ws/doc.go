// Package ws provides the WebSocket gateway for observing sessions.
//
// Each connection observes exactly one session: the gateway subscribes
// to that session's bus events and streams chunk batches as the output
// buffer flushes them. Observers may push commands back; delivery runs
// through the registry so history and activity tracking stay accurate.
//
// A session holds at most one attached observer. A newer connection for
// the same session supersedes the current one, which is closed.
//
// Features:
//   - Automatic connection upgrade from HTTP (GET /stream?session_id=X)
//   - Ordered chunk batch delivery with batch ids
//   - Slow-consumer eviction instead of back-pressure on the pipeline
//   - Protocol-level ping/pong keepalive
//
// Message Types (Client → Server):
//   - command: Send text to the session's child process
//   - ping: Application-level keep-alive
//
// Message Types (Server → Client):
//   - connected: Attachment confirmed
//   - output: One chunk batch
//   - ack: Command verdict (accepted true/false)
//   - exited: Child process died
//   - terminated: Session removed
//   - pong: Answer to an application-level ping
//   - error: Malformed or unknown inbound frame
//
// Example Usage:
//
//	gateway := ws.NewGateway(registry, bus, metrics, logger)
//	router.GET("/stream", gateway.HandleStream)
package ws
