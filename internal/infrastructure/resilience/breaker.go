package resilience

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests")
)

// State is the phase a breaker is in.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

// String names the state for logs and status payloads.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Settings tunes a Breaker. Zero values fall back to the defaults
// applied in New.
type Settings struct {
	// MaxRequests caps concurrent probes while half-open and is the
	// success streak required to close again
	MaxRequests uint32
	// Interval is how long closed-state counts stay relevant before
	// they are cleared
	Interval time.Duration
	// Timeout is how long the breaker stays open before probing
	Timeout time.Duration
	// ReadyToTrip is consulted after each closed-state failure
	ReadyToTrip func(counts Counts) bool
	// OnStateChange observes every transition, and runs under the
	// breaker lock
	OnStateChange func(name string, from State, to State)
}

// Counts tallies request outcomes within the current window or probe
// phase.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// Breaker guards a delivery target that may go unhealthy for a while,
// failing fast while open instead of stacking up doomed attempts.
type Breaker struct {
	name     string
	settings Settings

	mu     sync.Mutex
	state  State
	counts Counts

	// gen bumps on every transition and closed-interval rollover; a
	// request settles only when the generation it was admitted under is
	// still current, so stale results cannot corrupt fresh counts.
	gen uint64

	// deadline is the next count reset while closed and the half-open
	// entry time while open. Half-open holds no deadline; it leaves only
	// when a probe settles.
	deadline time.Time
}

// New builds a closed Breaker named after the target it guards.
func New(name string, settings Settings) *Breaker {
	if settings.MaxRequests == 0 {
		settings.MaxRequests = 1
	}
	if settings.Interval == 0 {
		settings.Interval = 60 * time.Second
	}
	if settings.Timeout == 0 {
		settings.Timeout = 30 * time.Second
	}
	if settings.ReadyToTrip == nil {
		settings.ReadyToTrip = func(counts Counts) bool {
			return counts.ConsecutiveFailures >= 3
		}
	}

	return &Breaker{
		name:     name,
		settings: settings,
		state:    StateClosed,
		deadline: time.Now().Add(settings.Interval),
	}
}

// Name reports which target this breaker guards.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state, applying any due time-driven
// transition first.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh(time.Now())
	return b.state
}

// Counts returns a snapshot of the current tallies.
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Do runs the given request if the circuit breaker accepts it. A panic
// inside the request counts as a failure before re-panicking.
func (b *Breaker) Do(req func() error) error {
	gen, err := b.admit(time.Now())
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			b.settle(gen, false)
			panic(r)
		}
	}()

	err = req()
	b.settle(gen, err == nil)
	return err
}

// admit decides whether a request may run and registers it.
func (b *Breaker) admit(now time.Time) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refresh(now)

	switch b.state {
	case StateOpen:
		return b.gen, ErrCircuitOpen
	case StateHalfOpen:
		if b.counts.Requests >= b.settings.MaxRequests {
			return b.gen, ErrTooManyRequests
		}
	}

	b.counts.Requests++
	return b.gen, nil
}

// settle records a request outcome. Results from a superseded generation
// are dropped.
func (b *Breaker) settle(gen uint64, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.refresh(now)
	if gen != b.gen {
		return
	}

	if ok {
		b.counts.TotalSuccesses++
		b.counts.ConsecutiveSuccesses++
		b.counts.ConsecutiveFailures = 0
		if b.state == StateHalfOpen && b.counts.ConsecutiveSuccesses >= b.settings.MaxRequests {
			b.transition(StateClosed, now)
		}
		return
	}

	switch b.state {
	case StateClosed:
		b.counts.TotalFailures++
		b.counts.ConsecutiveFailures++
		b.counts.ConsecutiveSuccesses = 0
		if b.settings.ReadyToTrip(b.counts) {
			b.transition(StateOpen, now)
		}
	case StateHalfOpen:
		// One failed probe sends the breaker straight back to open.
		b.transition(StateOpen, now)
	}
}

// refresh applies time-driven movement: closed counts expire on the
// interval, an elapsed open timeout starts the half-open probe phase.
func (b *Breaker) refresh(now time.Time) {
	switch b.state {
	case StateClosed:
		if now.After(b.deadline) {
			b.counts = Counts{}
			b.gen++
			b.deadline = now.Add(b.settings.Interval)
		}
	case StateOpen:
		if now.After(b.deadline) {
			b.transition(StateHalfOpen, now)
		}
	}
}

// transition moves to a new state, resetting counts and notifying the
// callback. Callers hold the lock.
func (b *Breaker) transition(to State, now time.Time) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.counts = Counts{}
	b.gen++

	switch to {
	case StateClosed:
		b.deadline = now.Add(b.settings.Interval)
	case StateOpen:
		b.deadline = now.Add(b.settings.Timeout)
	default:
		b.deadline = time.Time{}
	}

	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.name, from, to)
	}
}
