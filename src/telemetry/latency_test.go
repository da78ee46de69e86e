package telemetry

import (
	"testing"
)

func TestAggregatorStats(t *testing.T) {
	t.Parallel()

	a := NewAggregator()
	for _, ms := range []float64{10, 20, 30, 40, 50} {
		a.Record(ms)
	}

	stats := a.Stats()
	if stats.Min != 10 {
		t.Errorf("Min = %v, want 10", stats.Min)
	}
	if stats.Max != 50 {
		t.Errorf("Max = %v, want 50", stats.Max)
	}
	if stats.Avg != 30 {
		t.Errorf("Avg = %v, want 30", stats.Avg)
	}
	// Nearest-rank over 5 samples: p50 -> index 2, p95/p99 -> index 4.
	if stats.P50 != 30 {
		t.Errorf("P50 = %v, want 30", stats.P50)
	}
	if stats.P95 != 50 {
		t.Errorf("P95 = %v, want 50", stats.P95)
	}
	if stats.P99 != 50 {
		t.Errorf("P99 = %v, want 50", stats.P99)
	}
}

func TestAggregatorEmpty(t *testing.T) {
	t.Parallel()

	stats := NewAggregator().Stats()
	if stats != (LatencyStats{}) {
		t.Errorf("empty aggregator stats = %+v, want zero value", stats)
	}
}

func TestAggregatorSingleSample(t *testing.T) {
	t.Parallel()

	a := NewAggregator()
	a.Record(42)

	stats := a.Stats()
	for name, got := range map[string]float64{
		"Min": stats.Min, "Max": stats.Max, "Avg": stats.Avg,
		"P50": stats.P50, "P95": stats.P95, "P99": stats.P99,
	} {
		if got != 42 {
			t.Errorf("%s = %v, want 42", name, got)
		}
	}
}

func TestAggregatorUnsortedInput(t *testing.T) {
	t.Parallel()

	a := NewAggregator()
	for _, ms := range []float64{50, 10, 40, 20, 30} {
		a.Record(ms)
	}

	stats := a.Stats()
	if stats.P50 != 30 {
		t.Errorf("P50 = %v, want 30", stats.P50)
	}
	if stats.Min != 10 || stats.Max != 50 {
		t.Errorf("Min/Max = %v/%v, want 10/50", stats.Min, stats.Max)
	}
}

func TestPercentileIndex(t *testing.T) {
	t.Parallel()

	tests := []struct {
		p    float64
		n    int
		want int
	}{
		{50, 5, 2},
		{95, 5, 4},
		{99, 5, 4},
		{50, 1, 0},
		{99, 1, 0},
		{50, 2, 0},
		{95, 100, 94},
		{99, 100, 98},
		{100, 10, 9},
	}
	for _, tt := range tests {
		if got := percentileIndex(tt.p, tt.n); got != tt.want {
			t.Errorf("percentileIndex(%v, %d) = %d, want %d", tt.p, tt.n, got, tt.want)
		}
	}
}

func TestGapRingAverage(t *testing.T) {
	t.Parallel()

	var r GapRing
	if r.Average() != 0 {
		t.Errorf("empty ring Average = %v, want 0", r.Average())
	}

	r.Add(10)
	r.Add(20)
	r.Add(30)
	if got := r.Average(); got != 20 {
		t.Errorf("Average = %v, want 20", got)
	}
	if r.Len() != 3 {
		t.Errorf("Len = %d, want 3", r.Len())
	}
}

func TestGapRingEvictsOldest(t *testing.T) {
	t.Parallel()

	var r GapRing
	for i := 1; i <= 150; i++ {
		r.Add(float64(i))
	}

	if r.Len() != gapRingSize {
		t.Fatalf("Len = %d, want %d", r.Len(), gapRingSize)
	}
	// Values 51..150 remain, averaging 100.5.
	if got := r.Average(); got != 100.5 {
		t.Errorf("Average = %v, want 100.5", got)
	}
}
