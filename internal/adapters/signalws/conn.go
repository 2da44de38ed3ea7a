package signalws

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mentorlink/sessiond/internal/core"
	"github.com/mentorlink/sessiond/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

// wsConn is the transport endpoint handed to the room registry. Writes
// go through the buffered send channel and a single writePump, which
// keeps delivery order per recipient equal to enqueue order.
type wsConn struct {
	id       core.ConnID
	identity domain.UserID
	conn     *websocket.Conn
	send     chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func newWSConn(identity domain.UserID, ws *websocket.Conn) *wsConn {
	return &wsConn{
		id:       core.ConnID(uuid.NewString()),
		identity: identity,
		conn:     ws,
		send:     make(chan core.Frame, 32),
	}
}

func (c *wsConn) ID() core.ConnID         { return c.id }
func (c *wsConn) Identity() domain.UserID { return c.identity }

func (c *wsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
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
