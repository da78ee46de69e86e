package audio

import (
	"fmt"

	"github.com/pion/opus"
)

// opusFrameBytes is one 20ms frame at 48kHz mono s16le, the packet size
// browsers produce for realtime capture.
const opusFrameBytes = 960 * 2

// OpusDecoder turns compressed Opus packets into raw mono s16le PCM at the
// target rate. The pipeline consumes it as an opaque bytes-in, PCM-out
// transform ahead of the speech gate.
type OpusDecoder struct {
	dec        opus.Decoder
	out        []byte
	targetRate int
}

// NewOpusDecoder creates a decoder emitting PCM at targetRate.
func NewOpusDecoder(targetRate int) (*OpusDecoder, error) {
	if targetRate <= 0 {
		return nil, fmt.Errorf("opus decoder: invalid target rate %d", targetRate)
	}
	return &OpusDecoder{
		dec:        opus.NewDecoder(),
		out:        make([]byte, opusFrameBytes),
		targetRate: targetRate,
	}, nil
}

// Decode decompresses one Opus packet. Opus decodes at 48kHz; the result is
// resampled down to the configured target rate.
func (d *OpusDecoder) Decode(packet []byte) ([]byte, error) {
	_, _, err := d.dec.Decode(packet, d.out)
	if err != nil {
		return nil, fmt.Errorf("opus decode: %w", err)
	}

	pcm, err := ResampleBytes(d.out, 48000, d.targetRate)
	if err != nil {
		return nil, err
	}
	copied := make([]byte, len(pcm))
	copy(copied, pcm)
	return copied, nil
}
