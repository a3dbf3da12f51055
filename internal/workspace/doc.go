// Package workspace handles session working directories.
//
// Three concerns live here:
//   - Validator: checks a requested directory against the configured
//     allowlist of doublestar globs before a session may use it
//   - Overrides: the optional per-workspace .bridge.toml file that tunes
//     session timeout, flush interval, and buffer strategy for sessions
//     created in that directory
//   - Inspect: a bounded recursive listing (path, size, mtime, MIME)
//     served by the workspace REST endpoint
package workspace
