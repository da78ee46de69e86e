package telemetry

import (
	"math"
	"sort"
)

// LatencyStats summarizes the input-to-output latency of every closed turn
// of one stage. All values are milliseconds.
type LatencyStats struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// Aggregator accumulates latency samples for one stage. Min, max and average
// are maintained with running accumulators; percentiles are computed over the
// full historical sample list by sorting on demand. Turns finalize at
// conversational cadence, so the O(n log n) sort per closed turn is cheap.
type Aggregator struct {
	samples []float64
	sum     float64
	min     float64
	max     float64
}

// NewAggregator returns an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		min: math.Inf(1),
		max: math.Inf(-1),
	}
}

// Record appends one sample in milliseconds.
func (a *Aggregator) Record(ms float64) {
	a.samples = append(a.samples, ms)
	a.sum += ms
	if ms < a.min {
		a.min = ms
	}
	if ms > a.max {
		a.max = ms
	}
}

// Count returns the number of recorded samples.
func (a *Aggregator) Count() int {
	return len(a.samples)
}

// Stats computes the summary over all recorded samples. The zero value is
// returned when nothing has been recorded.
func (a *Aggregator) Stats() LatencyStats {
	n := len(a.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, a.samples)
	sort.Float64s(sorted)

	return LatencyStats{
		Min: a.min,
		Max: a.max,
		Avg: a.sum / float64(n),
		P50: sorted[percentileIndex(50, n)],
		P95: sorted[percentileIndex(95, n)],
		P99: sorted[percentileIndex(99, n)],
	}
}

// percentileIndex implements the nearest-rank rule:
// index = ceil((p/100) * n) - 1, clamped to [0, n-1].
func percentileIndex(p float64, n int) int {
	idx := int(math.Ceil(p/100*float64(n))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return idx
}

// gapRingSize bounds the rolling inter-chunk latency window.
const gapRingSize = 100

// GapRing is a fixed-size ring of the most recent gaps between consecutive
// output chunks, independent of turns. It backs a coarse "is this stage
// streaming smoothly" average and never feeds the percentile engine.
type GapRing struct {
	buf  [gapRingSize]float64
	next int
	n    int
}

// Add records one inter-chunk gap in milliseconds.
func (r *GapRing) Add(ms float64) {
	r.buf[r.next] = ms
	r.next = (r.next + 1) % gapRingSize
	if r.n < gapRingSize {
		r.n++
	}
}

// Average returns the rolling mean of the retained gaps, 0 when empty.
func (r *GapRing) Average() float64 {
	if r.n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < r.n; i++ {
		sum += r.buf[i]
	}
	return sum / float64(r.n)
}

// Len returns how many gaps are currently retained.
func (r *GapRing) Len() int {
	return r.n
}
