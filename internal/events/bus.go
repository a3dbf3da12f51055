package events

import (
	"sync"
	"time"

	"github.com/GriffinCanCode/AgentBridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentBridge/internal/shared/id"
	"github.com/GriffinCanCode/AgentBridge/internal/text/chunk"
	"go.uber.org/zap"
)

// Kind names a bus notification type.
type Kind string

// Notification kinds published by the bridge.
const (
	SessionCreated    Kind = "session.created"
	SessionTerminated Kind = "session.terminated"
	ProcessExited     Kind = "process.exited"
	OutputChunks      Kind = "output.chunks"
)

// DefaultQueueSize bounds each subscriber queue.
const DefaultQueueSize = 256

// Batch is one ordered chunk delivery produced by a buffer flush.
// The ULID id lets consumers reorder deliveries lexicographically.
type Batch struct {
	ID     id.BatchID    `json:"batch_id"`
	Chunks []chunk.Chunk `json:"chunks"`
}

// Event is a single bus notification.
type Event struct {
	ID        id.EventID   `json:"event_id"`
	Kind      Kind         `json:"kind"`
	SessionID id.SessionID `json:"session_id"`
	Timestamp time.Time    `json:"timestamp"`
	Reason    string       `json:"reason,omitempty"`
	Batch     *Batch       `json:"batch,omitempty"`
}

// NewOutputEvent builds an output.chunks notification carrying one
// freshly-stamped batch.
func NewOutputEvent(sid id.SessionID, chunks []chunk.Chunk) Event {
	return Event{
		Kind:      OutputChunks,
		SessionID: sid,
		Batch:     &Batch{ID: id.NewBatchID(), Chunks: chunks},
	}
}

// Bus fans events out to subscribers without ever blocking publishers.
type Bus struct {
	logger *logging.Logger

	mu        sync.RWMutex
	closed    bool
	nextToken uint64
	global    map[uint64]chan Event
	sessions  map[id.SessionID]map[uint64]chan Event
}

// New creates an event bus.
func New(logger *logging.Logger) *Bus {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Bus{
		logger:   logger.Named("events"),
		global:   make(map[uint64]chan Event),
		sessions: make(map[id.SessionID]map[uint64]chan Event),
	}
}

// Subscribe registers a subscriber receiving every event. The cancel
// func detaches the subscriber and closes its channel; calling it more
// than once is harmless.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, DefaultQueueSize)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	token := b.nextToken
	b.nextToken++
	b.global[token] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.global[token]; !ok {
			return
		}
		delete(b.global, token)
		close(ch)
	}
	return ch, cancel
}

// SubscribeSession registers a subscriber receiving only events for one
// session. Semantics match Subscribe.
func (b *Bus) SubscribeSession(sid id.SessionID) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, DefaultQueueSize)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	token := b.nextToken
	b.nextToken++
	subs, ok := b.sessions[sid]
	if !ok {
		subs = make(map[uint64]chan Event)
		b.sessions[sid] = subs
	}
	subs[token] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs, ok := b.sessions[sid]
		if !ok {
			return
		}
		if _, ok := subs[token]; !ok {
			return
		}
		delete(subs, token)
		if len(subs) == 0 {
			delete(b.sessions, sid)
		}
		close(ch)
	}
	return ch, cancel
}

// Publish stamps missing event metadata and fans the event out. A
// subscriber whose queue is full loses the event with a warning log;
// the publisher is never delayed.
func (b *Bus) Publish(ev Event) {
	if ev.ID == "" {
		ev.ID = id.NewEventID()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, ch := range b.global {
		b.offer(ch, ev)
	}
	if ev.SessionID != "" {
		for _, ch := range b.sessions[ev.SessionID] {
			b.offer(ch, ev)
		}
	}
}

// offer attempts a non-blocking send. Callers hold at least a read lock
// so no channel close can race the send.
func (b *Bus) offer(ch chan Event, ev Event) {
	select {
	case ch <- ev:
	default:
		b.logger.Warn("subscriber queue full, dropping event",
			zap.String("event_id", ev.ID.String()),
			zap.String("kind", string(ev.Kind)),
			zap.String("session_id", ev.SessionID.String()),
		)
	}
}

// Close detaches every subscriber and closes their channels. Publishes
// after Close are discarded.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true

	for token, ch := range b.global {
		delete(b.global, token)
		close(ch)
	}
	for sid, subs := range b.sessions {
		for token, ch := range subs {
			delete(subs, token)
			close(ch)
		}
		delete(b.sessions, sid)
	}
}
