// Package audio holds the pure signal transforms applied inside stage
// implementations: PCM conversion, linear resampling, voice activity
// detection and speech-gated buffering.
package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// BytesToPCM converts little-endian bytes to int16 PCM samples.
func BytesToPCM(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("invalid PCM data length: %d", len(data))
	}
	pcm := make([]int16, len(data)/2)
	for i := 0; i < len(pcm); i++ {
		pcm[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return pcm, nil
}

// PCMToBytes converts int16 PCM samples to little-endian bytes.
func PCMToBytes(pcm []int16) []byte {
	data := make([]byte, len(pcm)*2)
	for i, val := range pcm {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(val))
	}
	return data
}

// Resample converts mono int16 PCM from sourceRate to targetRate using
// linear interpolation. Output sample i reads source position i*ratio where
// ratio = sourceRate/targetRate, interpolating between the floor and ceiling
// samples by the fractional part and clamping to the 16-bit signed range.
// Output length is floor(len(input) / ratio). Identity when rates match.
func Resample(input []int16, sourceRate, targetRate int) []int16 {
	if sourceRate == targetRate {
		return input
	}

	ratio := float64(sourceRate) / float64(targetRate)
	outputLen := int(float64(len(input)) / ratio)
	output := make([]int16, outputLen)

	for i := 0; i < outputLen; i++ {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		var sample float64
		if srcIdx+1 < len(input) {
			s0 := float64(input[srcIdx])
			s1 := float64(input[srcIdx+1])
			sample = s0 + (s1-s0)*frac
		} else if srcIdx < len(input) {
			sample = float64(input[srcIdx])
		}

		output[i] = clampInt16(sample)
	}

	return output
}

// ResampleBytes is Resample over raw little-endian PCM buffers.
func ResampleBytes(data []byte, sourceRate, targetRate int) ([]byte, error) {
	if sourceRate == targetRate {
		return data, nil
	}
	pcm, err := BytesToPCM(data)
	if err != nil {
		return nil, err
	}
	return PCMToBytes(Resample(pcm, sourceRate, targetRate)), nil
}

func clampInt16(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// CalculateRMS returns the root-mean-square energy of a sample frame.
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples)))
}
