package ws

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"
)

var ErrBackpressure = errors.New("backpressure")

// Conn wraps a websocket with a buffered outbound queue. TrySend never
// blocks: a full queue is the receiver's problem and reported as
// backpressure.
type Conn struct {
	conn   *websocket.Conn
	send   chan []byte
	device string

	mu     sync.RWMutex
	closed bool
}

func newConn(wsc *websocket.Conn, buffer int, device string) *Conn {
	return &Conn{
		conn:   wsc,
		send:   make(chan []byte, buffer),
		device: device,
	}
}

func (c *Conn) TrySend(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- data:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}
