package buffer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/GriffinCanCode/AgentBridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentBridge/internal/shared/id"
	"github.com/GriffinCanCode/AgentBridge/internal/text/chunk"
	"github.com/GriffinCanCode/AgentBridge/internal/text/normalize"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
)

// Strategy selects flush timing behavior.
type Strategy string

// Buffering strategies.
const (
	Immediate Strategy = "immediate"
	Lines     Strategy = "lines"
	Window    Strategy = "window"
	Smart     Strategy = "smart"
)

// ParseStrategy maps a configuration string to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(Smart):
		return Smart, nil
	case string(Immediate):
		return Immediate, nil
	case string(Lines):
		return Lines, nil
	case string(Window):
		return Window, nil
	}
	return "", fmt.Errorf("unknown buffer strategy %q", s)
}

// Poll cadence for the background loop.
const (
	idlePoll  = 500 * time.Millisecond
	burstPoll = 100 * time.Millisecond
)

// Grouping bounds applied during flush.
const (
	maxGroupGap  = 3 * time.Second
	maxGroupSize = 20
)

// promptWords mark interactive-prompt-like lines that must reach the
// observer before the child blocks on input.
var promptWords = []string{"?", "enter", "continue", "press", "confirm"}

// Meta carries per-line analysis recorded at ingest time.
type Meta struct {
	RawLength int  `json:"raw_length"`
	HadANSI   bool `json:"had_ansi"`
	Repeated  int  `json:"repeated"`
}

// Line is one ingested output line after normalization.
type Line struct {
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID id.SessionID   `json:"session_id"`
	Type      normalize.Type `json:"type"`
	Meta      Meta           `json:"meta"`
}

// Sink receives one ordered chunk batch per flushed group set.
type Sink func(chunks []chunk.Chunk)

// Config tunes a Buffer. Zero values fall back to defaults.
type Config struct {
	Strategy           Strategy
	FlushInterval      time.Duration
	MaxBufferSize      int
	PendingThreshold   int
	BurstThreshold     int
	BurstWindow        time.Duration
	CollapseDuplicates bool
}

func (c Config) withDefaults() Config {
	if c.Strategy == "" {
		c.Strategy = Smart
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 2 * time.Second
	}
	if c.MaxBufferSize <= 0 {
		c.MaxBufferSize = 50
	}
	if c.PendingThreshold <= 0 {
		c.PendingThreshold = 20
	}
	if c.BurstThreshold <= 0 {
		c.BurstThreshold = 5
	}
	if c.BurstWindow <= 0 {
		c.BurstWindow = 2 * time.Second
	}
	return c
}

// Stats is a point-in-time view of buffer state.
type Stats struct {
	SessionID    id.SessionID  `json:"session_id"`
	TotalLines   int           `json:"total_lines"`
	PendingLines int           `json:"pending_lines"`
	LastFlush    time.Time     `json:"last_flush"`
	FlushEvery   time.Duration `json:"flush_interval"`
	Burst        bool          `json:"burst_mode"`
	Consecutive  int           `json:"consecutive_similar"`
	Strategy     Strategy      `json:"buffer_strategy"`
}

// Buffer aggregates one session's output lines into chunk batches.
type Buffer struct {
	cfg        Config
	sessionID  id.SessionID
	classifier normalize.Classifier
	chunker    *chunk.Chunker
	sink       Sink
	logger     *logging.Logger

	// flushMu serializes flushes end to end so batches reach the sink
	// in swap order.
	flushMu sync.Mutex

	mu        sync.Mutex
	ring      []Line
	pending   []Line
	lastFlush time.Time

	consecutive int
	lastType    normalize.Type
	lastTypeAt  time.Time
	burst       bool
	burstUntil  time.Time
	lastHash    [32]byte
	haveHash    bool

	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a buffer for one session. A nil classifier falls back to
// the built-in rules; a nil chunker uses default limits; a nil sink
// discards batches.
func New(sid id.SessionID, cfg Config, classifier normalize.Classifier, chunker *chunk.Chunker, sink Sink, logger *logging.Logger) *Buffer {
	if classifier == nil {
		classifier = normalize.DefaultRules()
	}
	if chunker == nil {
		chunker = chunk.New(chunk.DefaultTransportLimit, chunk.DefaultWorkingLimit)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Buffer{
		cfg:        cfg.withDefaults(),
		sessionID:  sid,
		classifier: classifier,
		chunker:    chunker,
		sink:       sink,
		logger:     logger.Named("buffer").WithSession(sid.String()),
		lastFlush:  time.Now(),
	}
}

// Start launches the background flush loop. Calling it twice, or after
// Stop, is a no-op.
func (b *Buffer) Start() {
	b.mu.Lock()
	if b.started || b.stopped {
		b.mu.Unlock()
		return
	}
	b.started = true
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.done = make(chan struct{})
	b.mu.Unlock()

	b.logger.Debug("buffer loop starting", zap.String("strategy", string(b.cfg.Strategy)))
	go b.loop(ctx)
}

// Stop cancels the loop and performs one final flush; nothing buffered
// is lost. Safe to call more than once and without a prior Start.
func (b *Buffer) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	cancel, done := b.cancel, b.done
	b.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	b.Flush()
}

// Add ingests one raw line, classifying it from content.
func (b *Buffer) Add(content string) {
	b.AddTyped(content, normalize.TypeNormal)
}

// AddTyped ingests a line with a caller-assigned type. TypeNormal is
// reclassified from content, so it is equivalent to Add.
func (b *Buffer) AddTyped(content string, typ normalize.Type) {
	if content == "" {
		return
	}

	decoded := normalize.DecodeBytes([]byte(content))
	clean := normalize.Strip(decoded)
	if typ == normalize.TypeNormal {
		typ = b.classifier.Classify(clean)
	}

	now := time.Now()
	line := Line{
		Content:   clean,
		Timestamp: now,
		SessionID: b.sessionID,
		Type:      typ,
		Meta:      Meta{RawLength: len(content), HadANSI: clean != decoded, Repeated: 1},
	}

	var hash [32]byte
	if b.cfg.CollapseDuplicates {
		hash = blake2b.Sum256([]byte(clean))
	}

	b.mu.Lock()
	if b.cfg.CollapseDuplicates && b.haveHash && hash == b.lastHash && len(b.pending) > 0 {
		b.pending[len(b.pending)-1].Meta.Repeated++
		b.pending[len(b.pending)-1].Timestamp = now
		if n := len(b.ring); n > 0 {
			b.ring[n-1].Meta.Repeated++
			b.ring[n-1].Timestamp = now
		}
	} else {
		b.lastHash = hash
		b.haveHash = b.cfg.CollapseDuplicates
		b.ring = append(b.ring, line)
		if len(b.ring) > b.cfg.MaxBufferSize {
			copy(b.ring, b.ring[1:])
			b.ring = b.ring[:b.cfg.MaxBufferSize]
		}
		b.pending = append(b.pending, line)
	}
	b.updateBurstLocked(typ, now)
	trigger := b.flushTriggerLocked(line, now)
	b.mu.Unlock()

	if trigger {
		b.Flush()
	}
}

// updateBurstLocked tracks consecutive same-type lines; runs past the
// threshold inside the window put the buffer in burst mode until lines
// stop arriving.
func (b *Buffer) updateBurstLocked(typ normalize.Type, now time.Time) {
	if typ == b.lastType && now.Sub(b.lastTypeAt) <= b.cfg.BurstWindow {
		b.consecutive++
	} else {
		b.consecutive = 1
		b.lastType = typ
	}
	b.lastTypeAt = now

	if b.consecutive > b.cfg.BurstThreshold {
		if !b.burst {
			b.logger.Debug("entering burst mode", zap.String("type", string(typ)))
		}
		b.burst = true
		b.burstUntil = now.Add(b.cfg.BurstWindow * 5 / 2)
	}
}

// flushTriggerLocked evaluates the per-line immediate-flush conditions.
func (b *Buffer) flushTriggerLocked(line Line, now time.Time) bool {
	if b.cfg.Strategy == Immediate {
		return true
	}
	if line.Type == normalize.TypeError || line.Type == normalize.TypeSuccess {
		return true
	}
	if promptLike(line.Content) {
		return true
	}
	if len(b.pending) > b.cfg.PendingThreshold {
		return true
	}
	if b.cfg.Strategy == Lines && len(b.pending) >= b.cfg.PendingThreshold {
		return true
	}
	return now.Sub(b.lastFlush) > 2*b.cfg.FlushInterval
}

// promptLike reports content that suggests the child is waiting on input.
func promptLike(content string) bool {
	lower := strings.ToLower(content)
	for _, w := range promptWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

func (b *Buffer) loop(ctx context.Context) {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(b.pollInterval()):
		}

		b.mu.Lock()
		due := len(b.pending) > 0 && time.Since(b.lastFlush) >= b.cfg.FlushInterval
		b.mu.Unlock()
		if due {
			b.Flush()
		}
	}
}

func (b *Buffer) pollInterval() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.burst && time.Now().After(b.burstUntil) {
		b.burst = false
	}
	if b.burst && b.cfg.Strategy == Smart {
		return burstPoll
	}
	return idlePoll
}

// Flush drains pending lines, groups them, and delivers one ordered
// chunk batch to the sink. Empty pending is a no-op. Concurrent calls
// are serialized so batches arrive in swap order.
func (b *Buffer) Flush() {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	lines := b.pending
	b.pending = nil
	b.haveHash = false
	b.lastFlush = time.Now()
	b.mu.Unlock()

	var batch []chunk.Chunk
	for _, group := range groupLines(lines) {
		content := combine(group)
		if strings.TrimSpace(content) == "" {
			continue
		}
		batch = append(batch, b.chunker.Format(content, groupType(group))...)
	}
	if len(batch) == 0 {
		return
	}

	b.logger.Debug("flushed",
		zap.Int("lines", len(lines)),
		zap.Int("chunks", len(batch)),
	)
	if b.sink != nil {
		b.sink(batch)
	}
}

// Recent returns up to count most recent retained lines, oldest first.
func (b *Buffer) Recent(count int) []Line {
	if count <= 0 {
		count = 10
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if count > len(b.ring) {
		count = len(b.ring)
	}
	out := make([]Line, count)
	copy(out, b.ring[len(b.ring)-count:])
	return out
}

// Stats reports current buffer state.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		SessionID:    b.sessionID,
		TotalLines:   len(b.ring),
		PendingLines: len(b.pending),
		LastFlush:    b.lastFlush,
		FlushEvery:   b.cfg.FlushInterval,
		Burst:        b.burst,
		Consecutive:  b.consecutive,
		Strategy:     b.cfg.Strategy,
	}
}

// Clear discards all retained and pending lines without flushing.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ring = nil
	b.pending = nil
	b.haveHash = false
	b.logger.Info("buffer cleared")
}
