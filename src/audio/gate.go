package audio

import "bytes"

// SpeechGate accumulates raw PCM frames while the detector reports speech
// and releases one consolidated buffer when the utterance ends. Frames
// outside an utterance are discarded; frames inside one are never lost, so
// the downstream transcriber always sees whole utterances.
type SpeechGate struct {
	det    SpeechDetector
	buf    bytes.Buffer
	active bool
}

func NewSpeechGate(det SpeechDetector) *SpeechGate {
	return &SpeechGate{det: det}
}

// Push feeds one PCM frame through the gate. It returns a non-nil utterance
// buffer exactly once per detected utterance, on the frame where the
// detector signals speech end.
func (g *SpeechGate) Push(frame []byte) ([]byte, error) {
	samples, err := BytesToPCM(frame)
	if err != nil {
		return nil, err
	}

	_, started, ended := g.det.ProcessFrame(samples)

	if started {
		g.buf.Reset()
		g.active = true
	}

	if g.active {
		g.buf.Write(frame)
	}

	if ended && g.active {
		g.active = false
		utterance := make([]byte, g.buf.Len())
		copy(utterance, g.buf.Bytes())
		g.buf.Reset()
		return utterance, nil
	}

	return nil, nil
}

// Flush releases any partial utterance at end of input. Returns nil when
// the gate is idle.
func (g *SpeechGate) Flush() []byte {
	if !g.active || g.buf.Len() == 0 {
		g.active = false
		g.buf.Reset()
		return nil
	}
	g.active = false
	utterance := make([]byte, g.buf.Len())
	copy(utterance, g.buf.Bytes())
	g.buf.Reset()
	g.det.Reset()
	return utterance
}

// Active reports whether an utterance is currently being buffered.
func (g *SpeechGate) Active() bool {
	return g.active
}
