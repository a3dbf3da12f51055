// Package process owns one child process per controller: spawn, line-framed
// stream readers, serialized stdin writes, liveness polling, and graceful
// termination with a forced-kill backstop.
package process
