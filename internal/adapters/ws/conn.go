package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/Stream/internal/domain"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

// WSConn is an indirection over *websocket.Conn to ease testing.
type WSConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(mt int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// ObserverConn is one WebSocket observer. It implements core.ObserverConnection.
type ObserverConn struct {
	conn WSConn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func NewObserverConn(conn WSConn, buffer int) *ObserverConn {
	if buffer <= 0 {
		buffer = 32
	}
	return &ObserverConn{conn: conn, send: make(chan []byte, buffer)}
}

func (c *ObserverConn) TrySend(ev domain.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return c.trySendRaw(b)
}

func (c *ObserverConn) trySendRaw(b []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- b:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *ObserverConn) Close() {
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
