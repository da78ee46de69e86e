package transports

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/meander-labs/voicetrace/src/audio"
	"github.com/meander-labs/voicetrace/src/frames"
	"github.com/meander-labs/voicetrace/src/observability"
	"github.com/meander-labs/voicetrace/src/processors"
)

// WebSocketTransport is the pipeline's front door: one websocket endpoint
// that accepts caller audio and returns synthesized audio plus transcript
// events. Binary messages carry audio (raw s16le PCM, or Opus packets when
// configured); text messages carry JSON control and event payloads.
//
// One session is active at a time. A session maps to one pipeline run: the
// upgrade pushes a StartFrame, the disconnect or an explicit end message
// pushes an EndFrame.
type WebSocketTransport struct {
	cfg        Config
	log        zerolog.Logger
	inputProc  *inputProcessor
	outputProc *outputProcessor
	server     *http.Server
	upgrader   websocket.Upgrader

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// Config holds the transport listen and codec settings.
type Config struct {
	Addr string // e.g. ":8080"
	Path string // default "/session"

	// Codec of inbound binary audio: "pcm" (default) or "opus".
	Codec string

	// SampleRate of the pipeline. Inbound Opus is decoded and resampled to
	// this rate; inbound PCM is assumed to already be at it.
	SampleRate int
}

// controlMessage is the inbound JSON control surface.
type controlMessage struct {
	Type string `json:"type"`
}

// eventMessage is the outbound JSON event surface.
type eventMessage struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Final bool   `json:"final,omitempty"`
	Tool  string `json:"tool,omitempty"`
}

// NewWebSocketTransport creates the transport and its input/output stages.
func NewWebSocketTransport(cfg Config) *WebSocketTransport {
	if cfg.Path == "" {
		cfg.Path = "/session"
	}
	if cfg.Codec == "" {
		cfg.Codec = "pcm"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}

	t := &WebSocketTransport{
		cfg: cfg,
		log: observability.Component("transport"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	t.inputProc = newInputProcessor(t)
	t.outputProc = newOutputProcessor(t)
	return t
}

// Input returns the processor that feeds caller audio into the pipeline.
func (t *WebSocketTransport) Input() processors.FrameProcessor { return t.inputProc }

// Output returns the processor that writes pipeline output to the caller.
func (t *WebSocketTransport) Output() processors.FrameProcessor { return t.outputProc }

// Start listens until ctx is cancelled. It blocks, so callers usually run it
// in its own goroutine.
func (t *WebSocketTransport) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc(t.cfg.Path, t.handleSession)

	t.server = &http.Server{Addr: t.cfg.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		t.server.Shutdown(context.Background())
	}()

	t.log.Info().Str("addr", t.cfg.Addr).Str("path", t.cfg.Path).Str("codec", t.cfg.Codec).Msg("transport listening")
	if err := t.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("transport server: %w", err)
	}
	return nil
}

func (t *WebSocketTransport) handleSession(w http.ResponseWriter, r *http.Request) {
	t.mu.Lock()
	if t.conn != nil {
		t.mu.Unlock()
		http.Error(w, "session already active", http.StatusConflict)
		return
	}
	t.mu.Unlock()

	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.log.Warn().Err(err).Msg("upgrade failed")
		return
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.conn = nil
		t.mu.Unlock()
		conn.Close()
	}()

	t.log.Info().Str("remote", conn.RemoteAddr().String()).Msg("session established")
	t.inputProc.runSession(conn)
}

// send writes one message to the active session, if any.
func (t *WebSocketTransport) send(messageType int, data []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return nil
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return conn.WriteMessage(messageType, data)
}

func (t *WebSocketTransport) sendEvent(ev eventMessage) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := t.send(websocket.TextMessage, payload); err != nil {
		t.log.Warn().Err(err).Str("type", ev.Type).Msg("event send failed")
	}
}

// inputProcessor is the pipeline source fed by the websocket read loop.
type inputProcessor struct {
	*processors.BaseProcessor
	transport *WebSocketTransport
	decoder   *audio.OpusDecoder
}

func newInputProcessor(t *WebSocketTransport) *inputProcessor {
	p := &inputProcessor{transport: t}
	p.BaseProcessor = processors.NewBaseProcessor("TransportInput", p)
	return p
}

func (p *inputProcessor) HandleFrame(ctx context.Context, frame frames.Frame, direction frames.FrameDirection) error {
	return p.PushFrame(frame, direction)
}

// runSession reads the socket until it closes, translating messages into
// frames. It runs on the connection's goroutine.
func (p *inputProcessor) runSession(conn *websocket.Conn) {
	if p.transport.cfg.Codec == "opus" {
		dec, err := audio.NewOpusDecoder(p.transport.cfg.SampleRate)
		if err != nil {
			p.Log().Error().Err(err).Msg("opus decoder init")
			return
		}
		p.decoder = dec
	}

	p.QueueFrame(frames.NewStartFrame(p.transport.cfg.SampleRate), frames.Downstream)

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				p.Log().Warn().Err(err).Msg("session read error")
			}
			p.QueueFrame(frames.NewEndFrame(), frames.Downstream)
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			pcm := payload
			if p.decoder != nil {
				pcm, err = p.decoder.Decode(payload)
				if err != nil {
					p.Log().Debug().Err(err).Msg("dropping undecodable packet")
					continue
				}
			}
			p.QueueFrame(frames.NewAudioFrame(pcm, p.transport.cfg.SampleRate, 1), frames.Downstream)

		case websocket.TextMessage:
			var ctl controlMessage
			if err := json.Unmarshal(payload, &ctl); err != nil {
				p.Log().Debug().Err(err).Msg("unparseable control message")
				continue
			}
			if ctl.Type == "end" {
				p.QueueFrame(frames.NewEndFrame(), frames.Downstream)
				return
			}
			p.Log().Debug().Str("type", ctl.Type).Msg("ignoring control message")
		}
	}
}

// outputProcessor is the pipeline sink that writes results back to the
// caller: audio as binary, transcripts and agent events as JSON text.
type outputProcessor struct {
	*processors.BaseProcessor
	transport *WebSocketTransport
}

func newOutputProcessor(t *WebSocketTransport) *outputProcessor {
	p := &outputProcessor{transport: t}
	p.BaseProcessor = processors.NewBaseProcessor("TransportOutput", p)
	return p
}

func (p *outputProcessor) HandleFrame(ctx context.Context, frame frames.Frame, direction frames.FrameDirection) error {
	switch f := frame.(type) {
	case *frames.TTSAudioFrame:
		if err := p.transport.send(websocket.BinaryMessage, f.Data); err != nil {
			p.Log().Warn().Err(err).Msg("audio send failed")
		}
	case *frames.TranscriptionFrame:
		p.transport.sendEvent(eventMessage{Type: "transcription", Text: f.Text, Final: f.Final})
	case *frames.TextFrame:
		p.transport.sendEvent(eventMessage{Type: "agent_text", Text: f.Text})
	case *frames.ToolCallFrame:
		p.transport.sendEvent(eventMessage{Type: "tool_call", Tool: f.Tool})
	case *frames.ToolResultFrame:
		p.transport.sendEvent(eventMessage{Type: "tool_result", Tool: f.Tool, Text: f.Result})
	case *frames.AgentResponseEndFrame:
		p.transport.sendEvent(eventMessage{Type: "agent_end"})
	}
	return p.PushFrame(frame, direction)
}
