// Package logging wraps uber/zap for the bridge's structured logs.
//
// Every long-lived component of the bridge takes a *Logger and scopes it
// with Named (component) or WithSession (one session's traffic), so a
// single session can be followed across the registry, its buffer, the
// process controller, and the delivery surfaces by filtering on the
// session_id field.
//
// Two encoder modes:
//   - Production: ISO8601 JSON for machine parsing, stacktraces off
//   - Development: colored console output for human readability
//
// Levels follow zap (debug, info, warn, error, fatal). Construction
// helpers:
//   - New(cfg): explicit configuration, errors on a bad level
//   - NewDefault / NewDevelopment: canned configs, no-op on failure
//   - NewNop: discards everything; used throughout the tests
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	slog := logger.Named("session").WithSession("AB12CD")
//	slog.Info("Child restarted", zap.Int("pid", pid))
package logging
