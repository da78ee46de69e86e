package observer

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/meander-labs/voicetrace/src/telemetry"
)

// WebSocketSink broadcasts telemetry events as JSON to every connected
// visualizer client. Each client has a bounded send queue; a client that
// cannot keep up loses events instead of stalling the pipeline.
type WebSocketSink struct {
	upgrader websocket.Upgrader
	clients  map[string]*wsClient
	mu       sync.RWMutex
	log      zerolog.Logger
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

const clientQueueSize = 256

// NewWebSocketSink creates a sink ready to be mounted on an HTTP mux.
func NewWebSocketSink() *WebSocketSink {
	return &WebSocketSink{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*wsClient),
		log:     log.With().Str("component", "observer").Logger(),
	}
}

// ServeHTTP upgrades visualizer connections.
func (s *WebSocketSink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("upgrade failed")
		return
	}

	c := &wsClient{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, clientQueueSize),
		done: make(chan struct{}),
	}

	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()

	s.log.Info().Str("client", c.id).Msg("visualizer connected")

	go s.writeLoop(c)
	go s.readLoop(c)
}

// Emit marshals the event once and enqueues it to every client.
func (s *WebSocketSink) Emit(ev telemetry.Event) {
	s.mu.RLock()
	if len(s.clients) == 0 {
		s.mu.RUnlock()
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		s.mu.RUnlock()
		s.log.Warn().Err(err).Msg("event marshal failed")
		return
	}
	for _, c := range s.clients {
		select {
		case c.send <- payload:
		default:
			// Client queue full; drop rather than block the pipeline.
		}
	}
	s.mu.RUnlock()
}

// Close disconnects all clients.
func (s *WebSocketSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.clients {
		close(c.done)
		c.conn.Close()
		delete(s.clients, id)
	}
}

func (s *WebSocketSink) writeLoop(c *wsClient) {
	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.drop(c)
				return
			}
		}
	}
}

// readLoop drains client messages so pings are handled and detects closes.
func (s *WebSocketSink) readLoop(c *wsClient) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			s.drop(c)
			return
		}
	}
}

func (s *WebSocketSink) drop(c *wsClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c.id]; !ok {
		return
	}
	delete(s.clients, c.id)
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	c.conn.Close()
	s.log.Info().Str("client", c.id).Msg("visualizer disconnected")
}
