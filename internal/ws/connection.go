package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"messaging-service/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pingPeriod     = 30 * time.Second
	sendBufferSize = 128
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("connection buffer exceeded")
)

// Connection wraps a websocket and serializes outbound writes through a
// buffered channel drained by a single write loop.
type Connection struct {
	ID string

	ws     *websocket.Conn
	send   chan []byte
	closed chan struct{}
	once   sync.Once

	mu   sync.RWMutex
	info ConnInfo

	onSlow func(*Connection)
}

// NewConnection builds a Connection; ws may be nil in tests that only read
// the send buffer.
func NewConnection(info ConnInfo, ws *websocket.Conn) *Connection {
	return &Connection{
		ID:     info.ConnID,
		ws:     ws,
		send:   make(chan []byte, sendBufferSize),
		closed: make(chan struct{}),
		info:   info,
	}
}

// Info returns a copy of the connection metadata.
func (c *Connection) Info() ConnInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.info
}

func (c *Connection) setUserID(userID string) {
	c.mu.Lock()
	c.info.UserID = userID
	c.mu.Unlock()
}

// Start launches the write loop. It must be called exactly once.
func (c *Connection) Start() {
	go c.writeLoop()
}

// Send enqueues payload for delivery. A full buffer means the client is not
// keeping up; the connection is closed to keep memory bounded.
func (c *Connection) Send(payload []byte) error {
	select {
	case <-c.closed:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	default:
		if c.onSlow != nil {
			c.onSlow(c)
		}
		// the pusher must not wait on a peer that is not reading
		c.shutdown(websocket.CloseGoingAway, "send buffer full", true)
		return ErrSendBufferFull
	}
}

// SendEvent encodes the event and enqueues it.
func (c *Connection) SendEvent(event models.Event) error {
	payload, err := models.EncodeEvent(event)
	if err != nil {
		return err
	}
	return c.Send(payload)
}

// Close terminates the connection and stops the write loop. Safe to call
// more than once.
func (c *Connection) Close(code int, reason string) {
	c.shutdown(code, reason, false)
}

func (c *Connection) shutdown(code int, reason string, async bool) {
	c.once.Do(func() {
		close(c.closed)
		if c.ws == nil {
			return
		}
		if async {
			go c.closeSocket(code, reason)
			return
		}
		c.closeSocket(code, reason)
	})
}

func (c *Connection) closeSocket(code int, reason string) {
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	_ = c.ws.Close()
}

// Done is closed once the connection is closed.
func (c *Connection) Done() <-chan struct{} {
	return c.closed
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		}
	}
}

func (c *Connection) write(messageType int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, payload)
}
