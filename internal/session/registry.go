package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentBridge/internal/buffer"
	"github.com/GriffinCanCode/AgentBridge/internal/events"
	"github.com/GriffinCanCode/AgentBridge/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentBridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentBridge/internal/process"
	"github.com/GriffinCanCode/AgentBridge/internal/shared/id"
	"github.com/GriffinCanCode/AgentBridge/internal/text/chunk"
	"github.com/GriffinCanCode/AgentBridge/internal/text/normalize"
	"github.com/GriffinCanCode/AgentBridge/internal/workspace"
)

// ErrClosed reports a create against a registry that already shut down.
var ErrClosed = errors.New("session: registry closed")

// Stats summarizes the registry for monitoring endpoints.
type Stats struct {
	Total  int `json:"total_sessions"`
	Active int `json:"active_sessions"`
}

// Registry owns every live session. One mutex guards the session map and
// the reservation set; nothing blocking runs while it is held.
type Registry struct {
	cfg        *config.Config
	bus        *events.Bus
	classifier normalize.Classifier
	chunker    *chunk.Chunker
	validator  *workspace.Validator
	strategy   buffer.Strategy
	logger     *logging.Logger

	mu       sync.Mutex
	sessions map[id.SessionID]*Session
	reserved map[id.SessionID]struct{}
	closed   bool
	started  bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRegistry builds a registry from validated configuration. A nil
// classifier falls back to the built-in keyword rules; a nil bus gets a
// private one so publishes never need guarding.
func NewRegistry(cfg *config.Config, bus *events.Bus, classifier normalize.Classifier, logger *logging.Logger) (*Registry, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if bus == nil {
		bus = events.New(nil)
	}
	if classifier == nil {
		classifier = normalize.DefaultRules()
	}

	validator, err := workspace.NewValidator(cfg.Session.WorkdirGlobs())
	if err != nil {
		return nil, err
	}
	strategy, err := buffer.ParseStrategy(cfg.Buffer.Strategy)
	if err != nil {
		return nil, err
	}

	return &Registry{
		cfg:        cfg,
		bus:        bus,
		classifier: classifier,
		chunker:    chunk.New(cfg.Chunker.TransportLimit, cfg.Chunker.WorkingLimit),
		validator:  validator,
		strategy:   strategy,
		logger:     logger.Named("session"),
		sessions:   make(map[id.SessionID]*Session),
		reserved:   make(map[id.SessionID]struct{}),
	}, nil
}

// Start launches the periodic expiry sweep.
func (r *Registry) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.closed {
		return
	}
	r.started = true

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.loop(ctx, r.done)
}

// Close stops the sweep, then terminates every session serially. One
// failing termination does not block the others. Idempotent.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	for _, s := range r.refs() {
		r.terminate(s.ID, "shutdown")
	}
	r.logger.Info("Registry closed")
}

// Create allocates an id, starts a child bound to workdir, and registers
// the session only once the child is running. The id is reserved before
// the spawn so concurrent creates can never collide.
func (r *Registry) Create(workdir string) (*Session, error) {
	if workdir == "" {
		workdir = r.cfg.Process.WorkingDir
	}
	if err := r.validator.Validate(workdir); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	sid := id.UniqueSessionID(func(candidate id.SessionID) bool {
		if _, live := r.sessions[candidate]; live {
			return true
		}
		_, held := r.reserved[candidate]
		return held
	})
	r.reserved[sid] = struct{}{}
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.reserved, sid)
		r.mu.Unlock()
	}()

	bufCfg, timeout := r.sessionSettings(workdir)
	slog := r.logger.WithSession(sid.String())

	var s *Session
	buf := buffer.New(sid, bufCfg, r.classifier, r.chunker, func(chunks []chunk.Chunk) {
		s.RecordOutput(chunks)
		r.bus.Publish(events.NewOutputEvent(sid, chunks))
	}, r.logger)

	ctl := process.New(process.Config{
		Command: r.cfg.Process.Command,
		Args:    r.cfg.Process.ProcessArgs(),
		Dir:     workdir,
		UsePTY:  r.cfg.Process.UsePTY,
	}, func(line string, _ process.Stream) {
		buf.Add(line)
	}, slog)

	now := time.Now()
	s = &Session{
		ID:           sid,
		WorkingDir:   workdir,
		controller:   ctl,
		buffer:       buf,
		timeout:      timeout,
		maxCmd:       r.cfg.Session.MaxCommandHistory,
		maxOut:       r.cfg.Session.MaxOutputHistory,
		logger:       slog,
		status:       StatusInactive,
		createdAt:    now,
		lastActivity: now,
	}
	ctl.SetOnExit(func(exitErr error) { r.handleExit(s, exitErr) })

	buf.Start()
	if err := ctl.Start(); err != nil {
		buf.Stop()
		return nil, err
	}
	s.markActive()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		ctl.Terminate()
		buf.Stop()
		return nil, ErrClosed
	}
	r.sessions[sid] = s
	total := len(r.sessions)
	r.mu.Unlock()

	r.logger.Info("Session created",
		zap.String("session_id", sid.String()),
		zap.String("workdir", workdir),
		zap.Int("pid", ctl.PID()),
		zap.Int("total", total))

	r.bus.Publish(events.Event{Kind: events.SessionCreated, SessionID: sid})
	return s, nil
}

// sessionSettings folds per-workdir overrides into the configured buffer
// settings and idle timeout. Malformed overrides are logged and ignored.
func (r *Registry) sessionSettings(workdir string) (buffer.Config, time.Duration) {
	bufCfg := buffer.Config{
		Strategy:           r.strategy,
		FlushInterval:      r.cfg.Buffer.FlushInterval,
		MaxBufferSize:      r.cfg.Buffer.MaxBufferSize,
		PendingThreshold:   r.cfg.Buffer.PendingThreshold,
		BurstThreshold:     r.cfg.Buffer.BurstThreshold,
		BurstWindow:        r.cfg.Buffer.BurstWindow,
		CollapseDuplicates: r.cfg.Buffer.CollapseDuplicates,
	}
	timeout := r.cfg.Session.Timeout

	ov, err := workspace.LoadOverrides(workdir)
	if err != nil {
		r.logger.Warn("Ignoring malformed workspace overrides",
			zap.String("workdir", workdir), zap.Error(err))
		return bufCfg, timeout
	}
	if ov == nil {
		return bufCfg, timeout
	}

	if ov.SessionTimeout > 0 {
		timeout = ov.SessionTimeout
	}
	if ov.FlushInterval > 0 {
		bufCfg.FlushInterval = ov.FlushInterval
	}
	if ov.BufferStrategy != "" {
		if strat, err := buffer.ParseStrategy(ov.BufferStrategy); err != nil {
			r.logger.Warn("Ignoring override buffer strategy",
				zap.String("workdir", workdir), zap.Error(err))
		} else {
			bufCfg.Strategy = strat
		}
	}
	return bufCfg, timeout
}

// handleExit runs on the controller's monitor goroutine whenever a child
// exits. Restart-driven exits stay silent.
func (r *Registry) handleExit(s *Session, exitErr error) {
	if !s.noteExit() {
		return
	}
	reason := "exited"
	if exitErr != nil {
		reason = exitErr.Error()
	}
	r.bus.Publish(events.Event{Kind: events.ProcessExited, SessionID: s.ID, Reason: reason})
}

// Get returns the live session for sid.
func (r *Registry) Get(sid id.SessionID) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sid]
	return s, ok
}

// Count reports the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sessions snapshots every registered session, oldest first.
func (r *Registry) Sessions() []Snapshot {
	refs := r.refs()
	snaps := make([]Snapshot, 0, len(refs))
	for _, s := range refs {
		snaps = append(snaps, s.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool {
		if snaps[i].CreatedAt.Equal(snaps[j].CreatedAt) {
			return snaps[i].ID < snaps[j].ID
		}
		return snaps[i].CreatedAt.Before(snaps[j].CreatedAt)
	})
	return snaps
}

// Stats counts registered and active sessions.
func (r *Registry) Stats() Stats {
	refs := r.refs()
	st := Stats{Total: len(refs)}
	for _, s := range refs {
		if s.IsActive() {
			st.Active++
		}
	}
	return st
}

// SendCommand forwards text to the session's child. It reports false for
// unknown ids and for sessions whose child is not running.
func (r *Registry) SendCommand(sid id.SessionID, text string) bool {
	s, ok := r.Get(sid)
	if !ok {
		return false
	}
	return s.SendCommand(text)
}

// Restart replaces the session's child with a fresh one.
func (r *Registry) Restart(sid id.SessionID) bool {
	s, ok := r.Get(sid)
	if !ok {
		return false
	}
	return s.Restart()
}

// Terminate tears the session down and removes it. The second call for
// the same id reports false.
func (r *Registry) Terminate(sid id.SessionID) bool {
	return r.terminate(sid, "terminated")
}

// terminate claims the session under the lock, then operates on it with
// the lock released. Claiming makes the call idempotent: only one caller
// ever holds the reference.
func (r *Registry) terminate(sid id.SessionID, reason string) bool {
	r.mu.Lock()
	s, ok := r.sessions[sid]
	if ok {
		delete(r.sessions, sid)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}

	if err := s.controller.Terminate(); err != nil {
		r.logger.Warn("Process termination failed",
			zap.String("session_id", sid.String()), zap.Error(err))
	}
	s.buffer.Stop()
	s.markTerminated()
	if h := s.detachTransport(); h != nil {
		h.Close()
	}

	r.logger.Info("Session terminated",
		zap.String("session_id", sid.String()),
		zap.String("reason", reason))
	r.bus.Publish(events.Event{Kind: events.SessionTerminated, SessionID: sid, Reason: reason})
	return true
}

// loop drives the expiry sweep until the registry closes.
func (r *Registry) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.cfg.Session.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

// sweep terminates sessions idle past their timeout, through the same
// path explicit termination takes.
func (r *Registry) sweep() {
	for _, s := range r.refs() {
		if s.IsExpired() {
			r.terminate(s.ID, "expired")
		}
	}
}

// refs copies the session references under a brief lock so callers can
// iterate without holding it.
func (r *Registry) refs() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}
