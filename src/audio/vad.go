package audio

// SpeechDetector reports voice activity for consecutive PCM frames. The
// speech gate consumes this interface; the energy detector below is the
// default implementation, and callers may substitute their own.
type SpeechDetector interface {
	// ProcessFrame classifies one frame and returns the current speaking
	// state plus edge signals for speech start and end.
	ProcessFrame(samples []int16) (speaking, started, ended bool)

	// Reset clears detector state between utterances.
	Reset()
}

// VADConfig holds configuration for energy-based voice activity detection.
type VADConfig struct {
	EnergyThreshold float64 // RMS energy threshold for speech
	SilenceFrames   int     // consecutive quiet frames that end an utterance
}

// DefaultVADConfig returns thresholds tuned for 16kHz 20ms frames.
func DefaultVADConfig() VADConfig {
	return VADConfig{
		EnergyThreshold: 500.0,
		SilenceFrames:   25, // 500ms of silence at 20ms frames
	}
}

// EnergyDetector is an RMS-threshold voice activity detector.
type EnergyDetector struct {
	cfg            VADConfig
	silenceCounter int
	speaking       bool
}

func NewEnergyDetector(cfg VADConfig) *EnergyDetector {
	if cfg.EnergyThreshold <= 0 {
		cfg.EnergyThreshold = DefaultVADConfig().EnergyThreshold
	}
	if cfg.SilenceFrames <= 0 {
		cfg.SilenceFrames = DefaultVADConfig().SilenceFrames
	}
	return &EnergyDetector{cfg: cfg}
}

func (d *EnergyDetector) ProcessFrame(samples []int16) (speaking, started, ended bool) {
	rms := CalculateRMS(samples)

	if rms > d.cfg.EnergyThreshold {
		d.silenceCounter = 0
		if !d.speaking {
			d.speaking = true
			started = true
		}
	} else {
		d.silenceCounter++
		if d.speaking && d.silenceCounter >= d.cfg.SilenceFrames {
			d.speaking = false
			d.silenceCounter = 0
			ended = true
		}
	}

	return d.speaking, started, ended
}

func (d *EnergyDetector) Reset() {
	d.silenceCounter = 0
	d.speaking = false
}
