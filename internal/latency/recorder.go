// Package latency keeps the rolling end-to-end latency window.
package latency

import (
	"math"
	"sort"
	"sync"

	"dictamic/internal/domain"
)

// DefaultCapacity is the number of samples kept before the oldest is evicted.
const DefaultCapacity = 200

// Recorder is a fixed-capacity ring of latency samples in milliseconds.
type Recorder struct {
	mu       sync.Mutex
	samples  []float64
	next     int
	full     bool
	last     float64
	observer func(ms float64)
}

func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Recorder{samples: make([]float64, capacity)}
}

// Observe registers fn to be called with every accepted sample.
func (r *Recorder) Observe(fn func(ms float64)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observer = fn
}

// Add records one sample. Negative and non-finite values are ignored.
func (r *Recorder) Add(ms float64) {
	if ms < 0 || math.IsNaN(ms) || math.IsInf(ms, 0) {
		return
	}

	r.mu.Lock()
	r.samples[r.next] = ms
	r.next = (r.next + 1) % len(r.samples)
	if r.next == 0 {
		r.full = true
	}
	r.last = ms
	observer := r.observer
	r.mu.Unlock()

	if observer != nil {
		observer(ms)
	}
}

// Summary reports the last sample and p50/p95. All fields are nil when empty.
func (r *Recorder) Summary() domain.LatencySummary {
	r.mu.Lock()
	n := r.next
	if r.full {
		n = len(r.samples)
	}
	window := make([]float64, n)
	copy(window, r.samples[:n])
	last := r.last
	r.mu.Unlock()

	if n == 0 {
		return domain.LatencySummary{}
	}

	sort.Float64s(window)
	p50 := percentile(window, 50)
	p95 := percentile(window, 95)
	return domain.LatencySummary{Last: &last, P50: &p50, P95: &p95, Count: n}
}

// percentile is nearest-rank: the sample at ceil(p/100 * n) in 1-based order.
func percentile(sorted []float64, p float64) float64 {
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx > len(sorted)-1 {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
