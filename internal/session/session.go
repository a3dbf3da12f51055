package session

import (
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentBridge/internal/buffer"
	"github.com/GriffinCanCode/AgentBridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentBridge/internal/process"
	"github.com/GriffinCanCode/AgentBridge/internal/shared/id"
	"github.com/GriffinCanCode/AgentBridge/internal/text/chunk"
)

// Status is the lifecycle state of a session. Terminated is terminal.
type Status string

const (
	StatusInactive   Status = "inactive"
	StatusActive     Status = "active"
	StatusTerminated Status = "terminated"
)

// Session binds one child process to its output pipeline and history.
// Sessions are built and owned by the Registry; ID and WorkingDir never
// change after construction.
type Session struct {
	ID         id.SessionID
	WorkingDir string

	controller *process.Controller
	buffer     *buffer.Buffer
	timeout    time.Duration
	maxCmd     int
	maxOut     int
	logger     *logging.Logger

	mu           sync.Mutex
	status       Status
	createdAt    time.Time
	lastActivity time.Time
	commands     []string
	output       []chunk.Chunk
	transport    io.Closer
	restarting   bool
}

// Snapshot is a point-in-time, copyable view of a session.
type Snapshot struct {
	ID           id.SessionID `json:"id"`
	Status       Status       `json:"status"`
	CreatedAt    time.Time    `json:"created_at"`
	LastActivity time.Time    `json:"last_activity"`
	CommandCount int          `json:"command_count"`
	OutputCount  int          `json:"output_count"`
	WorkingDir   string       `json:"working_directory"`
	Active       bool         `json:"is_active"`
	PID          int          `json:"pid,omitempty"`
}

// IsActive reports whether the session accepts commands: status active
// and the child actually running.
func (s *Session) IsActive() bool {
	s.mu.Lock()
	active := s.status == StatusActive
	s.mu.Unlock()
	return active && s.controller.IsRunning()
}

// IsExpired reports whether the sweep should reclaim the session. A
// terminated session is always expired.
func (s *Session) IsExpired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusTerminated {
		return true
	}
	return time.Since(s.lastActivity) > s.timeout
}

// SendCommand forwards text to the child's stdin. The command enters the
// history only when the write succeeded.
func (s *Session) SendCommand(text string) bool {
	if !s.IsActive() {
		return false
	}
	if err := s.controller.SendInput(text); err != nil {
		s.logger.Warn("Command delivery failed", zap.Error(err))
		return false
	}

	s.mu.Lock()
	s.commands = append(s.commands, text)
	if excess := len(s.commands) - s.maxCmd; excess > 0 && s.maxCmd > 0 {
		copy(s.commands, s.commands[excess:])
		s.commands = s.commands[:s.maxCmd]
	}
	s.lastActivity = time.Now()
	s.mu.Unlock()
	return true
}

// Restart replaces the child with a fresh one, keeping id and history.
func (s *Session) Restart() bool {
	s.mu.Lock()
	if s.status == StatusTerminated {
		s.mu.Unlock()
		return false
	}
	s.restarting = true
	s.mu.Unlock()

	err := s.controller.Restart()

	s.mu.Lock()
	s.restarting = false
	if err != nil {
		s.status = StatusInactive
		s.mu.Unlock()
		s.logger.Error("Child restart failed", zap.Error(err))
		return false
	}
	s.status = StatusActive
	s.lastActivity = time.Now()
	s.mu.Unlock()

	s.logger.Info("Child restarted", zap.Int("pid", s.controller.PID()))
	return true
}

// RecordOutput appends a flushed chunk batch to the bounded output
// history. Output counts as activity for expiry purposes.
func (s *Session) RecordOutput(chunks []chunk.Chunk) {
	if len(chunks) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.output = append(s.output, chunks...)
	if excess := len(s.output) - s.maxOut; excess > 0 && s.maxOut > 0 {
		copy(s.output, s.output[excess:])
		s.output = s.output[:s.maxOut]
	}
	s.lastActivity = time.Now()
}

// Commands returns up to n most recent commands, oldest first.
func (s *Session) Commands(n int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || n > len(s.commands) {
		n = len(s.commands)
	}
	out := make([]string, n)
	copy(out, s.commands[len(s.commands)-n:])
	return out
}

// Output returns up to n most recent output chunks, oldest first.
func (s *Session) Output(n int) []chunk.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || n > len(s.output) {
		n = len(s.output)
	}
	out := make([]chunk.Chunk, n)
	copy(out, s.output[len(s.output)-n:])
	return out
}

// Attach makes h the session's primary transport and returns the handle
// it displaced, which the caller should close. Attaching the current
// handle again returns nil.
func (s *Session) Attach(h io.Closer) io.Closer {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.transport
	s.transport = h
	if prev == h {
		return nil
	}
	return prev
}

// Detach clears the attachment only if h is still the current transport,
// so a superseded handle cannot knock out its replacement.
func (s *Session) Detach(h io.Closer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transport == h {
		s.transport = nil
	}
}

// BufferStats exposes the session's buffer counters for monitoring.
func (s *Session) BufferStats() buffer.Stats {
	return s.buffer.Stats()
}

// Snapshot captures the session state for API responses.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		ID:           s.ID,
		Status:       s.status,
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
		CommandCount: len(s.commands),
		OutputCount:  len(s.output),
		WorkingDir:   s.WorkingDir,
	}
	s.mu.Unlock()

	snap.Active = snap.Status == StatusActive && s.controller.IsRunning()
	snap.PID = s.controller.PID()
	return snap
}

// markActive flips the session live after a successful start. It never
// resurrects a terminated session: a child can exit between start and
// this call.
func (s *Session) markActive() {
	s.mu.Lock()
	if s.status != StatusTerminated {
		s.status = StatusActive
	}
	s.mu.Unlock()
}

func (s *Session) markTerminated() {
	s.mu.Lock()
	s.status = StatusTerminated
	s.mu.Unlock()
}

// noteExit records a child exit seen by the controller callback and
// reports whether it should be surfaced. Exits that are part of a
// restart stay silent.
func (s *Session) noteExit() bool {
	s.mu.Lock()
	if s.restarting {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()

	if s.controller.IsRunning() {
		// A replacement child is already up; this exit was the old one.
		return false
	}
	s.markTerminated()
	return true
}

// detachTransport removes and returns the current attachment.
func (s *Session) detachTransport() io.Closer {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.transport
	s.transport = nil
	return h
}
