package registry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/parlorhq/parlor/internal/config"
	"github.com/parlorhq/parlor/pkg/log"
)

var (
	// ErrSendTimeout means the connection did not accept a payload
	// within the bounded send window.
	ErrSendTimeout = errors.New("send timed out")
	// ErrConnectionClosed means the connection is already shut down.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrConnectionNotFound means no such connection is registered.
	ErrConnectionNotFound = errors.New("connection not found")
)

// Connection wraps a single websocket session for one user. A user may
// hold many of these at once; each has its own send queue, pumps, and
// cancellable context so tearing one down never touches its siblings.
type Connection struct {
	ID       string
	Username string

	conn   *websocket.Conn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	cfg    config.WebSocketConfig

	closeOnce sync.Once
}

// NewConnection wraps an upgraded websocket. The connection's lifetime
// is scoped under parent; cancelling parent shuts it down.
func NewConnection(parent context.Context, username string, conn *websocket.Conn, cfg config.WebSocketConfig) *Connection {
	ctx, cancel := context.WithCancel(parent)
	return &Connection{
		ID:       uuid.New().String(),
		Username: username,
		conn:     conn,
		send:     make(chan []byte, 256),
		ctx:      ctx,
		cancel:   cancel,
		cfg:      cfg,
	}
}

// Context is done once the connection is closed.
func (c *Connection) Context() context.Context {
	return c.ctx
}

// Close cancels the connection's context and closes the socket. Safe to
// call more than once.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.conn.Close()
	})
}

// Send queues a payload for the write pump, waiting at most timeout for
// space. A full queue past the deadline reports ErrSendTimeout; the
// caller decides whether that kills the connection.
func (c *Connection) Send(payload []byte, timeout time.Duration) error {
	select {
	case c.send <- payload:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case c.send <- payload:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	case <-timer.C:
		return ErrSendTimeout
	}
}

// SendJSON marshals v and queues it with the configured send timeout.
func (c *Connection) SendJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Send(data, c.cfg.SendTimeout)
}

// ReadPump reads frames until the socket errors or the connection is
// closed, passing each frame to handler in arrival order. It runs on
// the caller's goroutine and closes the connection on exit.
func (c *Connection) ReadPump(handler func([]byte)) {
	defer c.Close()

	c.conn.SetReadLimit(c.cfg.MaxMessageSize)

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.L().Debug().
					Str(log.FieldUsername, c.Username).
					Str(log.FieldConnectionID, c.ID).
					Err(err).
					Msg("websocket read failed")
			}
			return
		}
		handler(message)
	}
}

// WritePump owns all writes to the socket, draining the send queue with
// a write deadline per frame. It exits when the connection closes.
func (c *Connection) WritePump() {
	defer c.Close()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			if err := w.Close(); err != nil {
				return
			}

		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
