package monitoring

import (
	"sort"
	"sync"

	"gonum.org/v1/gonum/stat"
)

// defaultWindowSize bounds the rolling sample when no capacity is given.
const defaultWindowSize = 512

// Window is a fixed-capacity rolling sample of observations. Once full,
// new observations overwrite the oldest ones.
type Window struct {
	mu      sync.Mutex
	samples []float64
	next    int
}

// NewWindow creates a window holding up to capacity samples.
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = defaultWindowSize
	}
	return &Window{samples: make([]float64, 0, capacity)}
}

// Observe adds one sample.
func (w *Window) Observe(v float64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.samples) < cap(w.samples) {
		w.samples = append(w.samples, v)
		return
	}
	w.samples[w.next] = v
	w.next = (w.next + 1) % len(w.samples)
}

// Count reports how many samples the window currently holds.
func (w *Window) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.samples)
}

// Summary reports count, mean and standard quantiles of the window.
type Summary struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Max   float64 `json:"max"`
}

// Summary computes the current statistics. An empty window reports zeros.
func (w *Window) Summary() Summary {
	w.mu.Lock()
	sorted := make([]float64, len(w.samples))
	copy(sorted, w.samples)
	w.mu.Unlock()

	if len(sorted) == 0 {
		return Summary{}
	}
	sort.Float64s(sorted)

	return Summary{
		Count: len(sorted),
		Mean:  stat.Mean(sorted, nil),
		P50:   stat.Quantile(0.5, stat.Empirical, sorted, nil),
		P95:   stat.Quantile(0.95, stat.Empirical, sorted, nil),
		P99:   stat.Quantile(0.99, stat.Empirical, sorted, nil),
		Max:   sorted[len(sorted)-1],
	}
}
