// Package connection implements the reconnectable socket lifecycle shared by
// every stage that talks to an external streaming processor. A client owns at
// most one socket at a time, connects lazily on first use, drops payloads it
// cannot deliver, and drains with a bounded timeout on shutdown.
package connection

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/meander-labs/voicetrace/src/observability"
)

// State is the connection lifecycle state.
type State int32

const (
	Disconnected State = iota
	Connecting
	Open
	Draining
	Closed
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Draining:
		return "draining"
	case Closed:
		return "closed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

var (
	// ErrNotConnected is returned when a payload is dropped because no
	// session could be established. Payload loss is deliberate: a stale
	// retry is worse than a dropped frame in a real-time stream.
	ErrNotConnected = errors.New("connection: not connected")

	// ErrConnectTimeout is returned when no session was established within
	// the connect bound.
	ErrConnectTimeout = errors.New("connection: connect timeout")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("connection: closed")
)

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultFlushTimeout   = 3 * time.Second
)

// Conn is the minimal socket surface the client needs. *websocket.Conn
// satisfies it; tests substitute fakes.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer establishes one socket session.
type Dialer interface {
	DialContext(ctx context.Context) (Conn, error)
}

// WebSocketDialer dials a fixed URL with optional headers.
type WebSocketDialer struct {
	URL    string
	Header http.Header
}

func (d *WebSocketDialer) DialContext(ctx context.Context) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, d.URL, d.Header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Config configures one resilient connection client.
type Config struct {
	// Name identifies the remote service in logs and metrics.
	Name string

	Dialer Dialer

	// ConnectTimeout bounds one connection attempt. Default 10s.
	ConnectTimeout time.Duration

	// FlushTimeout bounds the drain wait after the terminate signal.
	// Default 3s.
	FlushTimeout time.Duration

	// OnOpen, if set, runs right after a session opens, before any queued
	// senders proceed. Used for protocol handshakes.
	OnOpen func(c Conn) error

	// OnMessage receives every remote message, serialized on a single
	// goroutine per session.
	OnMessage func(messageType int, data []byte)

	// Terminate returns the protocol-specific end-of-stream signal sent by
	// Flush. Nil means close without a terminate message.
	Terminate func() (messageType int, data []byte)
}

// Client owns exactly one socket session at a time and manages the
// Disconnected -> Connecting -> Open -> (Draining -> Closed) | Failed
// lifecycle. It never reconnects proactively; a failed session is replaced
// lazily by the next Send.
type Client struct {
	cfg Config
	log zerolog.Logger

	mu          sync.Mutex
	state       State
	conn        Conn
	connectDone chan struct{} // non-nil while one attempt is in flight
	connectErr  error
	readerDone  chan struct{} // closed when the session's reader exits

	writeMu sync.Mutex
}

// New creates a client in the Disconnected state. No socket is opened until
// the first Send.
func New(cfg Config) *Client {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = DefaultFlushTimeout
	}
	return &Client{
		cfg:   cfg,
		state: Disconnected,
		log:   log.With().Str("connection", cfg.Name).Logger(),
	}
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Send delivers one payload, establishing a session first if necessary.
// Delivery is best effort: when no session can be established within the
// connect bound the payload is dropped, logged, and the error returned. Send
// never blocks longer than the attempt's own timeout.
func (c *Client) Send(ctx context.Context, messageType int, payload []byte) error {
	if err := c.ensure(ctx); err != nil {
		c.log.Warn().Err(err).Int("bytes", len(payload)).Msg("payload dropped")
		observability.RecordDroppedPayload(c.cfg.Name)
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		observability.RecordDroppedPayload(c.cfg.Name)
		return ErrNotConnected
	}

	c.writeMu.Lock()
	err := conn.WriteMessage(messageType, payload)
	c.writeMu.Unlock()
	if err != nil {
		c.lost(err)
		return fmt.Errorf("connection %s: write: %w", c.cfg.Name, err)
	}
	return nil
}

// ensure resolves to an Open session or an error. At most one connection
// attempt is in flight per client; concurrent callers await the same attempt
// instead of racing a second socket.
func (c *Client) ensure(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case Open:
		c.mu.Unlock()
		return nil
	case Closed:
		c.mu.Unlock()
		return ErrClosed
	case Connecting:
		done := c.connectDone
		c.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.state == Open {
			return nil
		}
		if c.connectErr != nil {
			return c.connectErr
		}
		return ErrNotConnected
	case Draining:
		// A flush owns the session until it finishes; dialing now would
		// leave two live handles. The payload is dropped and the next Send
		// reconnects after the drain resets to Disconnected.
		c.mu.Unlock()
		return ErrNotConnected
	}

	// Disconnected or Failed: start a fresh attempt.
	done := make(chan struct{})
	c.state = Connecting
	c.connectDone = done
	c.connectErr = nil
	c.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	conn, err := c.cfg.Dialer.DialContext(dialCtx)
	cancel()

	if err == nil && c.cfg.OnOpen != nil {
		if openErr := c.cfg.OnOpen(conn); openErr != nil {
			conn.Close()
			conn, err = nil, openErr
		}
	}

	c.mu.Lock()
	defer func() {
		close(done)
		c.connectDone = nil
		c.mu.Unlock()
	}()

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %v", ErrConnectTimeout, c.cfg.ConnectTimeout)
		}
		c.state = Failed
		c.conn = nil
		c.connectErr = err
		observability.RecordConnectAttempt(c.cfg.Name, "error")
		c.log.Warn().Err(err).Msg("connect failed")
		return err
	}

	c.state = Open
	c.conn = conn
	c.readerDone = make(chan struct{})
	go c.readLoop(conn, c.readerDone)
	observability.RecordConnectAttempt(c.cfg.Name, "ok")
	c.log.Info().Msg("connected")
	return nil
}

// Flush sends the terminate signal and waits for the remote to close the
// session or the flush timeout to elapse, whichever comes first, then
// force-closes and resets to Disconnected. Returns within
// max(remote close latency, flush timeout).
func (c *Client) Flush(ctx context.Context) error {
	c.mu.Lock()
	if c.conn == nil || c.state != Open {
		if c.state != Closed {
			c.state = Disconnected
		}
		c.mu.Unlock()
		return nil
	}
	c.state = Draining
	conn := c.conn
	readerDone := c.readerDone
	c.mu.Unlock()

	if c.cfg.Terminate != nil {
		messageType, data := c.cfg.Terminate()
		c.writeMu.Lock()
		if err := conn.WriteMessage(messageType, data); err != nil {
			c.writeMu.Unlock()
			c.log.Warn().Err(err).Msg("terminate signal failed")
			c.forceClose(Disconnected)
			return nil
		}
		c.writeMu.Unlock()
	}

	timer := time.NewTimer(c.cfg.FlushTimeout)
	defer timer.Stop()
	select {
	case <-readerDone:
		c.log.Debug().Msg("remote closed during drain")
	case <-timer.C:
		c.log.Debug().Dur("timeout", c.cfg.FlushTimeout).Msg("drain timed out")
	case <-ctx.Done():
	}

	c.forceClose(Disconnected)
	return nil
}

// Close tears the client down immediately. Subsequent sends fail with
// ErrClosed.
func (c *Client) Close() error {
	c.forceClose(Closed)
	return nil
}

// lost handles a mid-stream write failure: the handle is cleared so the next
// Send lazily reconnects. In-flight payloads are not retried.
func (c *Client) lost(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	if c.state != Closed {
		c.state = Failed
	}
	c.log.Warn().Err(err).Msg("connection lost")
}

func (c *Client) forceClose(next State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	if c.state != Closed || next == Closed {
		c.state = next
	}
}

// readLoop serializes all remote deliveries for one session onto a single
// goroutine. An unsolicited close or read error clears the handle so the
// next Send triggers a fresh connect.
func (c *Client) readLoop(conn Conn, done chan struct{}) {
	defer close(done)
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
				if c.state == Open {
					c.state = Disconnected
					c.log.Info().Err(err).Msg("remote closed session")
				}
			}
			c.mu.Unlock()
			return
		}
		if c.cfg.OnMessage != nil {
			c.cfg.OnMessage(messageType, data)
		}
	}
}
