package process

import "errors"

var (
	// ErrNotFound reports a command that could not be located.
	ErrNotFound = errors.New("process: executable not found")

	// ErrStreamClosed reports a write to a dead or closed stdin.
	ErrStreamClosed = errors.New("process: stdin closed")

	// ErrAlreadyRunning reports Start on a live controller.
	ErrAlreadyRunning = errors.New("process: already running")

	// ErrNotStarted reports an operation before any successful Start.
	ErrNotStarted = errors.New("process: not started")
)
