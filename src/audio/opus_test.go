package audio

import "testing"

func TestNewOpusDecoder(t *testing.T) {
	t.Parallel()

	dec, err := NewOpusDecoder(16000)
	if err != nil {
		t.Fatalf("NewOpusDecoder(16000) error: %v", err)
	}
	if dec == nil {
		t.Fatal("NewOpusDecoder(16000) returned nil decoder")
	}
}

func TestNewOpusDecoderRejectsBadRate(t *testing.T) {
	t.Parallel()

	for _, rate := range []int{0, -8000} {
		if _, err := NewOpusDecoder(rate); err == nil {
			t.Errorf("NewOpusDecoder(%d) accepted an invalid rate", rate)
		}
	}
}
