// Package events provides the in-process notification bus.
//
// Components publish lifecycle and output notifications here instead of
// calling each other back directly, which keeps producers (registry,
// process controller, output buffer) decoupled from delivery surfaces
// (WebSocket gateway, webhook sink).
//
// Features:
//   - Non-blocking publish: a slow subscriber loses events, never stalls
//     the producer
//   - Global subscriptions (every event) and per-session subscriptions
//   - Bounded per-subscriber queues with drop-and-log on overflow
//   - UUID event ids for log correlation, ULID batch ids for ordering
//
// Event Kinds:
//   - session.created: a session was registered and its process started
//   - session.terminated: a session was removed
//   - process.exited: the child process died on its own
//   - output.chunks: one ordered chunk batch from a buffer flush
//
// Example Usage:
//
//	bus := events.New(logger)
//	ch, cancel := bus.SubscribeSession(sid)
//	defer cancel()
//
//	bus.Publish(events.NewOutputEvent(sid, chunks))
//	ev := <-ch
package events
