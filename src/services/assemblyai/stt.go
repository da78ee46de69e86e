package assemblyai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"

	"github.com/meander-labs/voicetrace/src/audio"
	"github.com/meander-labs/voicetrace/src/connection"
	"github.com/meander-labs/voicetrace/src/frames"
	"github.com/meander-labs/voicetrace/src/processors"
)

const defaultEndpoint = "wss://streaming.assemblyai.com/v3/ws"

// STTService transcribes audio through the AssemblyAI universal-streaming
// API. Audio frames are resampled to the session rate and written to the
// socket; Turn messages come back as TranscriptionFrames. The socket itself
// is opened lazily on the first utterance and replaced lazily after a
// failure.
type STTService struct {
	*processors.BaseProcessor
	cfg    STTConfig
	client *connection.Client
	gate   *audio.SpeechGate
	inRate int
}

// STTConfig holds configuration for AssemblyAI streaming.
type STTConfig struct {
	APIKey string

	// SampleRate the session is negotiated at. Default 16000.
	SampleRate int

	// Detector, when set, gates audio so that only complete utterances are
	// sent. Each utterance becomes one terminated streaming session, which
	// forces an end-of-turn transcript per utterance.
	Detector audio.SpeechDetector

	// Endpoint overrides the streaming URL. Used by tests.
	Endpoint string
}

// NewSTTService creates an AssemblyAI STT stage.
func NewSTTService(cfg STTConfig) *STTService {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}

	s := &STTService{cfg: cfg}
	if cfg.Detector != nil {
		s.gate = audio.NewSpeechGate(cfg.Detector)
	}
	s.BaseProcessor = processors.NewBaseProcessor("AssemblyAISTT", s)

	params := url.Values{}
	params.Set("sample_rate", fmt.Sprintf("%d", cfg.SampleRate))
	params.Set("format_turns", "true")

	s.client = connection.New(connection.Config{
		Name: "assemblyai",
		Dialer: &connection.WebSocketDialer{
			URL:    fmt.Sprintf("%s?%s", cfg.Endpoint, params.Encode()),
			Header: http.Header{"Authorization": {cfg.APIKey}},
		},
		OnMessage: s.handleMessage,
		Terminate: func() (int, []byte) {
			return websocket.TextMessage, []byte(`{"type":"Terminate"}`)
		},
	})
	return s
}

func (s *STTService) HandleFrame(ctx context.Context, frame frames.Frame, direction frames.FrameDirection) error {
	switch f := frame.(type) {
	case *frames.StartFrame:
		s.inRate = f.SampleRate
		return s.PushFrame(frame, direction)

	case *frames.AudioFrame:
		return s.handleAudio(ctx, f)

	case *frames.EndFrame:
		if s.gate != nil {
			if tail := s.gate.Flush(); len(tail) > 0 {
				s.sendUtterance(ctx, tail)
			}
		}
		if err := s.client.Flush(ctx); err != nil {
			s.Log().Warn().Err(err).Msg("flush on shutdown")
		}
		return s.PushFrame(frame, direction)

	case *frames.CancelFrame:
		if err := s.client.Close(); err != nil {
			s.Log().Warn().Err(err).Msg("close on cancel")
		}
		return s.PushFrame(frame, direction)

	default:
		return s.PushFrame(frame, direction)
	}
}

func (s *STTService) handleAudio(ctx context.Context, f *frames.AudioFrame) error {
	pcm := f.Data
	if f.SampleRate != 0 && f.SampleRate != s.cfg.SampleRate {
		var err error
		pcm, err = audio.ResampleBytes(pcm, f.SampleRate, s.cfg.SampleRate)
		if err != nil {
			return s.PushFrame(frames.NewErrorFrame(err), frames.Upstream)
		}
	}

	if s.gate == nil {
		// Ungated mode streams continuously over one long-lived session.
		if err := s.client.Send(ctx, websocket.BinaryMessage, pcm); err != nil {
			s.Log().Warn().Err(err).Msg("audio send failed")
		}
		return nil
	}

	utterance, err := s.gate.Push(pcm)
	if err != nil {
		return s.PushFrame(frames.NewErrorFrame(err), frames.Upstream)
	}
	if utterance != nil {
		s.sendUtterance(ctx, utterance)
	}
	return nil
}

// sendUtterance writes one complete utterance and terminates the session so
// AssemblyAI flushes a final Turn transcript for it. The next utterance
// reconnects lazily through Send.
func (s *STTService) sendUtterance(ctx context.Context, pcm []byte) {
	if err := s.client.Send(ctx, websocket.BinaryMessage, pcm); err != nil {
		s.Log().Warn().Err(err).Int("bytes", len(pcm)).Msg("utterance dropped")
		return
	}
	if err := s.client.Flush(ctx); err != nil {
		s.Log().Warn().Err(err).Msg("utterance flush")
	}
}

// turnMessage is the subset of the v3 streaming protocol we act on.
type turnMessage struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
	EndOfTurn  bool   `json:"end_of_turn"`
	ID         string `json:"id,omitempty"`
}

func (s *STTService) handleMessage(messageType int, data []byte) {
	if messageType != websocket.TextMessage {
		return
	}

	var msg turnMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.Log().Debug().Err(err).Msg("unparseable streaming message")
		return
	}

	switch msg.Type {
	case "Begin":
		s.Log().Debug().Str("session", msg.ID).Msg("streaming session began")
	case "Turn":
		if msg.Transcript == "" {
			return
		}
		s.Log().Debug().Bool("final", msg.EndOfTurn).Str("transcript", msg.Transcript).Msg("transcription")
		if err := s.PushFrame(frames.NewTranscriptionFrame(msg.Transcript, msg.EndOfTurn), frames.Downstream); err != nil {
			s.Log().Warn().Err(err).Msg("push transcription")
		}
	case "Termination":
		s.Log().Debug().Msg("streaming session terminated")
	default:
		s.Log().Debug().Str("type", msg.Type).Msg("ignoring streaming message")
	}
}
