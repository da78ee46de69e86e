package audio

import (
	"math"
	"testing"
)

func TestResampleOutputLength(t *testing.T) {
	t.Parallel()

	// 1000 samples at 48kHz down to 16kHz: ratio 3, floor(1000/3) = 333.
	input := make([]int16, 1000)
	out := Resample(input, 48000, 16000)
	if len(out) != 333 {
		t.Errorf("len = %d, want 333", len(out))
	}
}

func TestResampleIdentity(t *testing.T) {
	t.Parallel()

	input := []int16{1, -2, 3, -4}
	out := Resample(input, 16000, 16000)
	if len(out) != len(input) {
		t.Fatalf("len = %d, want %d", len(out), len(input))
	}
	for i := range input {
		if out[i] != input[i] {
			t.Fatalf("out[%d] = %d, want %d", i, out[i], input[i])
		}
	}
}

func TestResampleInterpolates(t *testing.T) {
	t.Parallel()

	// Upsampling 2x reads source positions 0, 0.5, 1, 1.5, ...
	input := []int16{0, 100, 200, 300}
	out := Resample(input, 8000, 16000)
	if len(out) != 8 {
		t.Fatalf("len = %d, want 8", len(out))
	}
	want := []int16{0, 50, 100, 150, 200, 250, 300, 300}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("out[%d] = %d, want %d", i, out[i], want[i])
		}
	}
}

func TestResampleDownsamplePicksInterpolatedPositions(t *testing.T) {
	t.Parallel()

	// Downsampling 3x reads source positions 0, 3, 6, ... exactly.
	input := []int16{0, 10, 20, 30, 40, 50, 60, 70, 80}
	out := Resample(input, 48000, 16000)
	want := []int16{0, 30, 60}
	if len(out) != len(want) {
		t.Fatalf("len = %d, want %d", len(out), len(want))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("out[%d] = %d, want %d", i, out[i], want[i])
		}
	}
}

func TestResampleClampsExtremes(t *testing.T) {
	t.Parallel()

	input := []int16{math.MaxInt16, math.MaxInt16, math.MinInt16, math.MinInt16}
	out := Resample(input, 8000, 16000)
	for i, s := range out {
		if s > math.MaxInt16 || s < math.MinInt16 {
			t.Errorf("out[%d] = %d outside int16 range", i, s)
		}
	}
	if out[0] != math.MaxInt16 {
		t.Errorf("out[0] = %d, want %d", out[0], math.MaxInt16)
	}
}

func TestBytesToPCMRejectsOddLength(t *testing.T) {
	t.Parallel()

	if _, err := BytesToPCM([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for odd-length buffer")
	}
}

func TestResampleBytesRoundTrip(t *testing.T) {
	t.Parallel()

	pcm := []int16{100, 200, 300, 400, 500, 600}
	out, err := ResampleBytes(PCMToBytes(pcm), 48000, 16000)
	if err != nil {
		t.Fatalf("ResampleBytes: %v", err)
	}
	samples, err := BytesToPCM(out)
	if err != nil {
		t.Fatalf("BytesToPCM: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("len = %d, want 2", len(samples))
	}
	if samples[0] != 100 || samples[1] != 400 {
		t.Errorf("samples = %v, want [100 400]", samples)
	}
}

func TestCalculateRMS(t *testing.T) {
	t.Parallel()

	if got := CalculateRMS(nil); got != 0 {
		t.Errorf("RMS of empty = %v, want 0", got)
	}
	if got := CalculateRMS([]int16{0, 0, 0}); got != 0 {
		t.Errorf("RMS of silence = %v, want 0", got)
	}
	if got := CalculateRMS([]int16{1000, -1000, 1000, -1000}); got != 1000 {
		t.Errorf("RMS of square wave = %v, want 1000", got)
	}
}
