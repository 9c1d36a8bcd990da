// Package realtime maintains the kiosk's live event stream for one customer
// session. The connection is reference-counted by attached handlers: the
// first handler opens it, removing the last one closes it. A dropped
// transport reconnects on a flat interval until the handler set empties or
// Disconnect is called.
package realtime

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Smart-Cart-System/cart-kiosk/pkg/protocol"
)

// DefaultReconnectWait is the flat delay between reconnect attempts.
// Customer sessions are short-lived, so there is no exponential backoff.
const DefaultReconnectWait = 3 * time.Second

// State describes the channel's connection lifecycle.
type State string

const (
	StateDisconnected     State = "disconnected"
	StateConnecting       State = "connecting"
	StateOpen             State = "open"
	StateReconnectPending State = "reconnect-pending"
)

// Handler receives every decoded frame in arrival order.
type Handler func(msg protocol.Message)

type handlerEntry struct {
	id string
	fn Handler
}

// Channel is one logical stream scoped to a single session ID. A Channel is
// terminal after Disconnect; build a fresh one for a new session.
type Channel struct {
	url           string
	reconnectWait time.Duration
	dialer        *websocket.Dialer

	mu             sync.Mutex
	handlers       []handlerEntry
	conn           *websocket.Conn
	state          State
	gen            uint64 // bumped on every teardown; orphans stale dial/read goroutines
	reconnectTimer *time.Timer
	closed         bool
}

// New creates a channel for wsBaseURL (e.g. wss://host) and a session ID.
// No connection is opened until the first handler is added.
func New(wsBaseURL, sessionID string) *Channel {
	return &Channel{
		url:           wsBaseURL + "/ws/" + sessionID,
		reconnectWait: DefaultReconnectWait,
		dialer:        websocket.DefaultDialer,
		state:         StateDisconnected,
	}
}

// NewWithOptions is New with an explicit reconnect interval, used by the
// controller (config-driven) and by tests.
func NewWithOptions(wsBaseURL, sessionID string, reconnectWait time.Duration) *Channel {
	c := New(wsBaseURL, sessionID)
	if reconnectWait > 0 {
		c.reconnectWait = reconnectWait
	}
	return c
}

// AddHandler registers a handler and returns its registration ID. Adding
// the first handler opens the connection. Every AddHandler must be paired
// with exactly one RemoveHandler or the connection leaks.
func (c *Channel) AddHandler(fn Handler) string {
	id := uuid.NewString()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		slog.Warn("realtime: handler added to disposed channel", "url", c.url)
		return id
	}

	c.handlers = append(c.handlers, handlerEntry{id: id, fn: fn})
	if len(c.handlers) == 1 {
		c.connectLocked()
	}
	return id
}

// RemoveHandler deregisters a handler. Removing the last one closes the
// connection and cancels any pending reconnect.
func (c *Channel) RemoveHandler(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, h := range c.handlers {
		if h.id == id {
			c.handlers = append(c.handlers[:i], c.handlers[i+1:]...)
			break
		}
	}
	if len(c.handlers) == 0 && !c.closed {
		c.teardownLocked()
	}
}

// HandlerCount returns the number of registered handlers.
func (c *Channel) HandlerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers)
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect opens the transport if it is not already open or connecting.
// Handlers normally drive this implicitly; Connect exists for callers that
// add handlers before the session endpoint is reachable.
func (c *Channel) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectLocked()
}

// Disconnect is terminal: it closes the transport, cancels any pending
// reconnect, and clears all handlers.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.handlers = nil
	c.teardownLocked()
}

// connectLocked starts a dial unless one is already underway. Caller holds c.mu.
func (c *Channel) connectLocked() {
	if c.closed || c.state == StateConnecting || c.state == StateOpen {
		return
	}
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.state = StateConnecting
	gen := c.gen
	go c.dial(gen)
}

// teardownLocked closes the live connection and cancels reconnection.
// Bumping the generation orphans any in-flight dial or read loop: when it
// reports back it finds a stale generation and stops silently. Caller holds c.mu.
func (c *Channel) teardownLocked() {
	c.gen++
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = StateDisconnected
}

func (c *Channel) dial(gen uint64) {
	conn, resp, err := c.dialer.Dial(c.url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	c.mu.Lock()
	if gen != c.gen || c.closed {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		slog.Warn("realtime: dial failed", "url", c.url, "error", err)
		if len(c.handlers) == 0 {
			c.state = StateDisconnected
		} else {
			c.scheduleReconnectLocked(gen)
		}
		c.mu.Unlock()
		return
	}

	c.conn = conn
	c.state = StateOpen
	c.mu.Unlock()

	slog.Info("realtime: connected", "url", c.url)
	go c.readLoop(gen, conn)
}

func (c *Channel) readLoop(gen uint64, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(gen, err)
			return
		}

		msg, derr := protocol.Decode(data)
		if derr != nil {
			slog.Warn("realtime: dropping malformed frame", "error", derr)
			continue
		}
		c.dispatch(msg)
	}
}

// dispatch delivers one frame to a snapshot of the current handler set.
// A handler that panics is recovered and logged so later handlers still see
// the frame; a handler removed mid-dispatch is simply never called again
// for subsequent frames.
func (c *Channel) dispatch(msg protocol.Message) {
	c.mu.Lock()
	snapshot := make([]handlerEntry, len(c.handlers))
	copy(snapshot, c.handlers)
	c.mu.Unlock()

	for _, h := range snapshot {
		c.deliver(h, msg)
	}
}

func (c *Channel) deliver(h handlerEntry, msg protocol.Message) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("realtime: handler panicked", "handler", h.id, "panic", r)
		}
	}()
	h.fn(msg)
}

// handleClose runs when the read loop observes a transport close.
func (c *Channel) handleClose(gen uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || c.closed {
		return // already torn down
	}

	slog.Warn("realtime: connection closed", "url", c.url, "error", err)
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	if len(c.handlers) == 0 {
		c.state = StateDisconnected
		return
	}
	c.scheduleReconnectLocked(gen)
}

// scheduleReconnectLocked arms the flat-interval reconnect timer. Caller holds c.mu.
func (c *Channel) scheduleReconnectLocked(gen uint64) {
	c.state = StateReconnectPending
	c.reconnectTimer = time.AfterFunc(c.reconnectWait, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if gen != c.gen || c.closed || len(c.handlers) == 0 {
			return
		}
		c.reconnectTimer = nil
		c.state = StateConnecting
		go c.dial(gen)
	})
}
