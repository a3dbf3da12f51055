// Package http provides the REST control plane for the bridge.
//
// This package implements all HTTP endpoints using the Gin framework:
// session lifecycle, command submission, output and history retrieval,
// transcript export, and workspace inspection.
//
// Endpoints:
//   - Health: / and /health
//   - Sessions: /sessions, /sessions/:id, /sessions/:id/command,
//     /sessions/:id/restart
//   - Output: /sessions/:id/output, /sessions/:id/history,
//     /sessions/:id/transcript
//   - Workspace: /sessions/:id/workspace
//   - Stats: /stats
//
// Session ids are validated before lookup, so malformed ids return 400
// and unknown ids 404. Commands sent to a dead session return 409 with
// accepted=false rather than an error, mirroring the registry's
// best-effort send semantics. Transcripts are encoded with sonic and
// gzip-compressed when the client accepts it.
//
// Example Usage:
//
//	handlers := http.NewHandlers(registry, metrics, logger)
//	router.POST("/sessions", handlers.CreateSession)
//	router.POST("/sessions/:id/command", handlers.SendCommand)
package http
