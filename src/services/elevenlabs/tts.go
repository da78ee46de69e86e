package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/meander-labs/voicetrace/src/audio"
	"github.com/meander-labs/voicetrace/src/connection"
	"github.com/meander-labs/voicetrace/src/frames"
	"github.com/meander-labs/voicetrace/src/processors"
)

const defaultEndpoint = "wss://api.elevenlabs.io/v1/text-to-speech"

// TTSService synthesizes speech through the ElevenLabs multi-stream
// websocket. Incoming TextFrames are written to one synthesis context as
// they arrive; base64 audio chunks come back as TTSAudioFrames resampled to
// the pipeline rate. The socket opens lazily on the first text chunk and a
// lost session is replaced lazily by the next one.
type TTSService struct {
	*processors.BaseProcessor
	cfg       TTSConfig
	client    *connection.Client
	voiceRate int
	outRate   int

	// ctxMu guards contextID: openContext rewrites it on reconnect while the
	// previous session's read loop may still be delivering messages.
	ctxMu     sync.Mutex
	contextID string
}

// TTSConfig holds configuration for ElevenLabs.
type TTSConfig struct {
	APIKey       string
	VoiceID      string
	Model        string // e.g. "eleven_turbo_v2_5"
	OutputFormat string // pcm_16000, pcm_22050, pcm_24000, pcm_44100 (default pcm_24000)

	// Endpoint overrides the API base URL. Used by tests.
	Endpoint string
}

// NewTTSService creates an ElevenLabs TTS stage.
func NewTTSService(cfg TTSConfig) *TTSService {
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "pcm_24000"
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}

	s := &TTSService{
		cfg:       cfg,
		voiceRate: formatSampleRate(cfg.OutputFormat),
	}
	s.BaseProcessor = processors.NewBaseProcessor("ElevenLabsTTS", s)

	s.client = connection.New(connection.Config{
		Name: "elevenlabs",
		Dialer: &connection.WebSocketDialer{
			URL: fmt.Sprintf("%s/%s/multi-stream-input?model_id=%s&output_format=%s",
				cfg.Endpoint, cfg.VoiceID, cfg.Model, cfg.OutputFormat),
			Header: http.Header{"xi-api-key": {cfg.APIKey}},
		},
		OnOpen:    s.openContext,
		OnMessage: s.handleMessage,
		Terminate: func() (int, []byte) {
			return websocket.TextMessage, []byte(`{"close_socket":true}`)
		},
	})
	return s
}

func (s *TTSService) setContextID(id string) {
	s.ctxMu.Lock()
	s.contextID = id
	s.ctxMu.Unlock()
}

func (s *TTSService) currentContextID() string {
	s.ctxMu.Lock()
	defer s.ctxMu.Unlock()
	return s.contextID
}

// openContext initializes a fresh synthesis context on every new session.
func (s *TTSService) openContext(c connection.Conn) error {
	id := uuid.New().String()
	s.setContextID(id)
	init, err := json.Marshal(map[string]any{
		"text":       " ",
		"context_id": id,
		"voice_settings": map[string]any{
			"stability":        0.5,
			"similarity_boost": 0.75,
		},
	})
	if err != nil {
		return err
	}
	return c.WriteMessage(websocket.TextMessage, init)
}

func (s *TTSService) HandleFrame(ctx context.Context, frame frames.Frame, direction frames.FrameDirection) error {
	switch f := frame.(type) {
	case *frames.StartFrame:
		s.outRate = f.SampleRate
		return s.PushFrame(frame, direction)

	case *frames.TextFrame:
		if f.Text == "" {
			return nil
		}
		if err := s.sendJSON(ctx, map[string]any{
			"text":       f.Text,
			"context_id": s.currentContextID(),
		}); err != nil {
			s.Log().Warn().Err(err).Msg("text chunk dropped")
		}
		return nil

	case *frames.AgentResponseEndFrame:
		// Force synthesis of whatever text is still buffered remotely.
		if err := s.sendJSON(ctx, map[string]any{
			"text":       "",
			"context_id": s.currentContextID(),
			"flush":      true,
		}); err != nil {
			s.Log().Warn().Err(err).Msg("flush request dropped")
		}
		return s.PushFrame(frame, direction)

	case *frames.EndFrame:
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

// sendJSON marshals and writes one protocol message. The first message of a
// session triggers the lazy connect, which runs openContext before the
// message itself goes out.
func (s *TTSService) sendJSON(ctx context.Context, msg map[string]any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.client.Send(ctx, websocket.TextMessage, payload)
}

// audioMessage is the subset of the synthesis response we act on.
type audioMessage struct {
	Audio     string `json:"audio"`
	IsFinal   bool   `json:"isFinal"`
	ContextID string `json:"contextId"`
}

func (s *TTSService) handleMessage(messageType int, data []byte) {
	if messageType != websocket.TextMessage {
		return
	}

	var msg audioMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.Log().Debug().Err(err).Msg("unparseable synthesis message")
		return
	}
	if msg.IsFinal {
		return
	}
	if msg.ContextID != "" && msg.ContextID != s.currentContextID() {
		s.Log().Debug().Str("context", msg.ContextID).Msg("ignoring stale context audio")
		return
	}
	if msg.Audio == "" {
		return
	}

	pcm, err := base64.StdEncoding.DecodeString(msg.Audio)
	if err != nil {
		s.Log().Warn().Err(err).Msg("bad base64 audio chunk")
		return
	}

	rate := s.voiceRate
	if s.outRate != 0 && s.outRate != s.voiceRate {
		resampled, err := audio.ResampleBytes(pcm, s.voiceRate, s.outRate)
		if err != nil {
			s.Log().Warn().Err(err).Msg("resample synthesis audio")
			return
		}
		pcm, rate = resampled, s.outRate
	}

	if err := s.PushFrame(frames.NewTTSAudioFrame(pcm, rate), frames.Downstream); err != nil {
		s.Log().Warn().Err(err).Msg("push synthesis audio")
	}
}

func formatSampleRate(format string) int {
	switch format {
	case "pcm_16000":
		return 16000
	case "pcm_22050":
		return 22050
	case "pcm_44100":
		return 44100
	default:
		return 24000
	}
}
