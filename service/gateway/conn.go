package gateway

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"GateProject/logger"
)

// State is the connection lifecycle. Terminal failure while authenticating
// goes straight to StateClosed; joins, presence and relaying are only valid in
// StateActive.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateActive
	StateDisconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	case StateDisconnecting:
		return "disconnecting"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Identity is resolved from the bearer credential at handshake time and is
// immutable for the lifetime of the connection.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
}

// Conn is one client session owned by this gateway process: a websocket, a
// single-writer outbound queue and the authenticated identity.
type Conn struct {
	ID            string
	CorrelationID string

	ws    *websocket.Conn
	send  chan []byte
	state atomic.Int32

	mu       sync.RWMutex
	identity *Identity

	done     chan struct{}
	doneOnce sync.Once
}

func newConn(id, correlationID string, ws *websocket.Conn, queueSize int) *Conn {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Conn{
		ID:            id,
		CorrelationID: correlationID,
		ws:            ws,
		send:          make(chan []byte, queueSize),
		done:          make(chan struct{}),
	}
}

func (c *Conn) State() State      { return State(c.state.Load()) }
func (c *Conn) setState(s State)  { c.state.Store(int32(s)) }
func (c *Conn) Done() <-chan struct{} { return c.done }

// beginDisconnect moves the connection into StateDisconnecting exactly once;
// the caller that wins runs teardown.
func (c *Conn) beginDisconnect() bool {
	for {
		cur := c.state.Load()
		if State(cur) == StateDisconnecting || State(cur) == StateClosed {
			return false
		}
		if c.state.CompareAndSwap(cur, int32(StateDisconnecting)) {
			return true
		}
	}
}

func (c *Conn) Identity() *Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

func (c *Conn) bindIdentity(id *Identity) {
	c.mu.Lock()
	c.identity = id
	c.mu.Unlock()
}

// Enqueue offers a frame to the writer without blocking. A full queue means a
// slow client; the frame is skipped rather than stalling the sender.
func (c *Conn) Enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// shutdown releases the writer; safe to call more than once.
func (c *Conn) shutdown() {
	c.doneOnce.Do(func() { close(c.done) })
}

// writePump is the single writer goroutine: it drains the send queue and keeps
// the peer alive with pings. On exit it emits a close frame and closes the
// socket.
func (c *Conn) writePump(pingInterval, writeWait time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.Infof("[ws] write err conn=%s err=%v", c.ID, err)
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, []byte("ping"),
				time.Now().Add(writeWait)); err != nil {
				logger.Infof("[ws] ping err conn=%s err=%v", c.ID, err)
				return
			}
		}
	}
}
