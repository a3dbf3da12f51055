package buffer

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/GriffinCanCode/AgentBridge/internal/text/chunk"
	"github.com/GriffinCanCode/AgentBridge/internal/text/normalize"
)

type sinkRecorder struct {
	mu      sync.Mutex
	batches [][]chunk.Chunk
}

func (r *sinkRecorder) sink(chunks []chunk.Chunk) {
	r.mu.Lock()
	defer r.mu.Unlock()
	batch := make([]chunk.Chunk, len(chunks))
	copy(batch, chunks)
	r.batches = append(r.batches, batch)
}

func (r *sinkRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

// all returns every delivered chunk in delivery order.
func (r *sinkRecorder) all() []chunk.Chunk {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []chunk.Chunk
	for _, b := range r.batches {
		out = append(out, b...)
	}
	return out
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, desc string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func TestAddStripsAndClassifiesErrorLine(t *testing.T) {
	rec := &sinkRecorder{}
	b := New("TEST01", Config{}, nil, nil, rec.sink, nil)

	// Error lines flush immediately, no loop needed.
	b.Add("\x1b[31mError: disk full\x1b[0m")

	if rec.count() != 1 {
		t.Fatalf("batches = %d, want 1", rec.count())
	}
	chunks := rec.all()
	if len(chunks) != 1 {
		t.Fatalf("chunks = %d, want 1", len(chunks))
	}
	c := chunks[0]
	if c.Type != normalize.TypeError {
		t.Errorf("type = %q, want error", c.Type)
	}
	if c.Content != "Error: disk full" {
		t.Errorf("content = %q", c.Content)
	}
	if strings.Contains(c.Content, "\x1b") {
		t.Error("escape bytes leaked into chunk content")
	}
}

func TestFlushPreservesLineOrder(t *testing.T) {
	rec := &sinkRecorder{}
	b := New("TEST02", Config{}, nil, nil, rec.sink, nil)

	var want []string
	for i := 0; i < 500; i++ {
		line := fmt.Sprintf("line %03d", i)
		want = append(want, line)
		b.Add(line)
	}
	b.Flush()

	chunks := rec.all()
	if len(chunks) < 2 {
		t.Fatalf("chunks = %d, want at least 2", len(chunks))
	}
	var got []string
	for _, c := range chunks {
		if len(c.Content) > chunk.DefaultTransportLimit {
			t.Errorf("chunk length %d exceeds limit", len(c.Content))
		}
		for _, l := range strings.Split(c.Content, "\n") {
			if strings.TrimSpace(l) != "" {
				got = append(got, l)
			}
		}
	}
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Errorf("reassembled %d lines, want %d in original order", len(got), len(want))
	}
}

func TestStopFlushesPending(t *testing.T) {
	rec := &sinkRecorder{}
	b := New("TEST03", Config{}, nil, nil, rec.sink, nil)

	b.Add("alpha one")
	b.Add("bravo two")
	b.Stop()

	chunks := rec.all()
	if len(chunks) != 1 {
		t.Fatalf("chunks = %d, want 1", len(chunks))
	}
	if chunks[0].Content != "alpha one\nbravo two" {
		t.Errorf("content = %q", chunks[0].Content)
	}

	// Second stop has nothing left to emit.
	b.Stop()
	if rec.count() != 1 {
		t.Errorf("batches after double stop = %d, want 1", rec.count())
	}
}

func TestStopOnEmptyEmitsNothing(t *testing.T) {
	rec := &sinkRecorder{}
	b := New("TEST04", Config{}, nil, nil, rec.sink, nil)

	b.Stop()
	b.Stop()
	if rec.count() != 0 {
		t.Errorf("batches = %d, want 0", rec.count())
	}
}

func TestFlushEmptyIsNoop(t *testing.T) {
	rec := &sinkRecorder{}
	b := New("TEST05", Config{}, nil, nil, rec.sink, nil)

	b.Flush()
	b.Flush()
	if rec.count() != 0 {
		t.Errorf("batches = %d, want 0", rec.count())
	}
}

func TestImmediateStrategyFlushesEveryLine(t *testing.T) {
	rec := &sinkRecorder{}
	b := New("TEST06", Config{Strategy: Immediate}, nil, nil, rec.sink, nil)

	b.Add("alpha one")
	b.Add("bravo two")
	b.Add("charlie three")

	if rec.count() != 3 {
		t.Errorf("batches = %d, want 3", rec.count())
	}
}

func TestPendingThresholdTriggersFlush(t *testing.T) {
	rec := &sinkRecorder{}
	b := New("TEST07", Config{}, nil, nil, rec.sink, nil)

	for i := 0; i < 21; i++ {
		b.Add(fmt.Sprintf("line %03d", i))
	}

	// The 21st line pushed pending past the threshold.
	if rec.count() != 1 {
		t.Fatalf("batches = %d, want 1", rec.count())
	}
	b.Flush()
	if rec.count() != 1 {
		t.Errorf("flush after trigger re-emitted: batches = %d", rec.count())
	}
}

func TestPromptLineTriggersFlush(t *testing.T) {
	rec := &sinkRecorder{}
	b := New("TEST08", Config{}, nil, nil, rec.sink, nil)

	b.Add("Do you want to proceed? (y/n)")

	if rec.count() != 1 {
		t.Errorf("batches = %d, want 1", rec.count())
	}
}

func TestExplicitTypeIsTrusted(t *testing.T) {
	rec := &sinkRecorder{}
	b := New("TEST09", Config{}, nil, nil, rec.sink, nil)

	b.AddTyped("all good here", normalize.TypeWarning)
	b.Flush()

	chunks := rec.all()
	if len(chunks) != 1 {
		t.Fatalf("chunks = %d, want 1", len(chunks))
	}
	if chunks[0].Type != normalize.TypeWarning {
		t.Errorf("type = %q, want warning", chunks[0].Type)
	}
	if chunks[0].Content != "all good here" {
		t.Errorf("content = %q", chunks[0].Content)
	}
}

func TestAddEmptyIgnored(t *testing.T) {
	rec := &sinkRecorder{}
	b := New("TEST10", Config{}, nil, nil, rec.sink, nil)

	b.Add("")
	b.Flush()

	if rec.count() != 0 {
		t.Errorf("batches = %d, want 0", rec.count())
	}
	if got := b.Stats().TotalLines; got != 0 {
		t.Errorf("total lines = %d, want 0", got)
	}
}

func TestCollapseDuplicates(t *testing.T) {
	rec := &sinkRecorder{}
	b := New("TEST11", Config{CollapseDuplicates: true}, nil, nil, rec.sink, nil)

	b.Add("packet received")
	b.Add("packet received")
	b.Add("packet received")
	b.Add("transfer idle")
	b.Flush()

	chunks := rec.all()
	if len(chunks) != 1 {
		t.Fatalf("chunks = %d, want 1", len(chunks))
	}
	if !strings.Contains(chunks[0].Content, "packet received (repeated 3 times)") {
		t.Errorf("missing repeat marker: %q", chunks[0].Content)
	}
	if strings.Count(chunks[0].Content, "packet received") != 1 {
		t.Errorf("duplicates not collapsed: %q", chunks[0].Content)
	}
	if !strings.Contains(chunks[0].Content, "transfer idle") {
		t.Errorf("distinct line lost: %q", chunks[0].Content)
	}
}

func TestDuplicatesKeptByDefault(t *testing.T) {
	rec := &sinkRecorder{}
	b := New("TEST12", Config{}, nil, nil, rec.sink, nil)

	b.Add("packet received")
	b.Add("packet received")
	b.Flush()

	chunks := rec.all()
	if len(chunks) != 1 {
		t.Fatalf("chunks = %d, want 1", len(chunks))
	}
	if got := strings.Count(chunks[0].Content, "packet received"); got != 2 {
		t.Errorf("occurrences = %d, want 2", got)
	}
}

func TestBurstDetection(t *testing.T) {
	rec := &sinkRecorder{}
	b := New("TEST13", Config{BurstThreshold: 2}, nil, nil, rec.sink, nil)

	for i := 0; i < 4; i++ {
		b.Add(fmt.Sprintf("line %d", i))
	}

	st := b.Stats()
	if !st.Burst {
		t.Error("burst mode not entered")
	}
	if st.Consecutive != 4 {
		t.Errorf("consecutive = %d, want 4", st.Consecutive)
	}
}

func TestRecentRingEviction(t *testing.T) {
	b := New("TEST14", Config{MaxBufferSize: 5}, nil, nil, nil, nil)

	for i := 0; i < 8; i++ {
		b.Add(fmt.Sprintf("line %d", i))
	}

	recent := b.Recent(10)
	if len(recent) != 5 {
		t.Fatalf("recent = %d lines, want 5", len(recent))
	}
	if recent[0].Content != "line 3" || recent[4].Content != "line 7" {
		t.Errorf("window = %q .. %q, want line 3 .. line 7", recent[0].Content, recent[4].Content)
	}
	if recent[0].SessionID != "TEST14" {
		t.Errorf("session id = %q", recent[0].SessionID)
	}

	last := b.Recent(2)
	if len(last) != 2 || last[1].Content != "line 7" {
		t.Errorf("recent(2) = %+v", last)
	}
}

func TestClearDiscardsPending(t *testing.T) {
	rec := &sinkRecorder{}
	b := New("TEST15", Config{}, nil, nil, rec.sink, nil)

	b.Add("alpha one")
	b.Add("bravo two")
	b.Clear()
	b.Flush()

	if rec.count() != 0 {
		t.Errorf("batches = %d, want 0", rec.count())
	}
	if len(b.Recent(10)) != 0 {
		t.Error("ring not cleared")
	}
}

func TestLoopFlushesOnInterval(t *testing.T) {
	rec := &sinkRecorder{}
	b := New("TEST16", Config{FlushInterval: 50 * time.Millisecond}, nil, nil, rec.sink, nil)

	b.Start()
	b.Start() // second start is a no-op
	defer b.Stop()

	b.Add("alpha one")
	b.Add("bravo two")

	waitFor(t, 3*time.Second, func() bool { return rec.count() >= 1 }, "interval flush")

	chunks := rec.all()
	if chunks[0].Content != "alpha one\nbravo two" {
		t.Errorf("content = %q", chunks[0].Content)
	}
}

func TestStats(t *testing.T) {
	b := New("TEST17", Config{}, nil, nil, nil, nil)

	st := b.Stats()
	if st.Strategy != Smart {
		t.Errorf("strategy = %q, want smart", st.Strategy)
	}
	if st.FlushEvery != 2*time.Second {
		t.Errorf("flush interval = %v", st.FlushEvery)
	}
	if st.SessionID != "TEST17" {
		t.Errorf("session id = %q", st.SessionID)
	}

	b.Add("alpha one")
	b.Add("bravo two")
	st = b.Stats()
	if st.PendingLines != 2 || st.TotalLines != 2 {
		t.Errorf("pending = %d total = %d, want 2/2", st.PendingLines, st.TotalLines)
	}
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in      string
		want    Strategy
		wantErr bool
	}{
		{"", Smart, false},
		{"smart", Smart, false},
		{" SMART ", Smart, false},
		{"immediate", Immediate, false},
		{"lines", Lines, false},
		{"window", Window, false},
		{"bogus", "", true},
	}
	for _, tt := range tests {
		got, err := ParseStrategy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseStrategy(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseStrategy(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
