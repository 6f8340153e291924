package web

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/referencer/refsync/internal/logger"
	"github.com/referencer/refsync/internal/room"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	defaultPingPeriod     = 54 * time.Second
	defaultMaxMessageSize = 1 << 20
	defaultSendQueueSize  = 256
)

var (
	// ErrClientClosed is returned by Send after the client was closed.
	ErrClientClosed = errors.New("client closed")
	// ErrSendQueueFull is returned by Send when the client cannot keep up.
	// The client is closed when this happens.
	ErrSendQueueFull = errors.New("send queue full")
)

type clientOptions struct {
	pingPeriod     time.Duration
	maxMessageSize int64
	sendQueueSize  int
}

// Client is one WebSocket connection. It implements hub.Conn.
type Client struct {
	conn *websocket.Conn
	opts clientOptions
	log  *logger.Logger

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func newClient(conn *websocket.Conn, opts clientOptions, log *logger.Logger) *Client {
	if opts.pingPeriod <= 0 {
		opts.pingPeriod = defaultPingPeriod
	}
	if opts.maxMessageSize <= 0 {
		opts.maxMessageSize = defaultMaxMessageSize
	}
	if opts.sendQueueSize <= 0 {
		opts.sendQueueSize = defaultSendQueueSize
	}
	return &Client{
		conn: conn,
		opts: opts,
		log:  log,
		send: make(chan []byte, opts.sendQueueSize),
	}
}

// pongWait is the time allowed to read the next pong message from the
// peer. It is longer than the ping period.
func (c *Client) pongWait() time.Duration {
	return c.opts.pingPeriod * 10 / 9
}

// Send queues a frame without blocking.
func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		c.closeLocked()
		return ErrSendQueueFull
	}
}

// Close stops the write pump, which sends a close frame and closes the
// connection. It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	return nil
}

func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// readPump delivers inbound frames to the session until the connection
// fails or is closed.
func (c *Client) readPump(ctx context.Context, sess *room.Session) {
	c.conn.SetReadLimit(c.opts.maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.pongWait()))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.pongWait()))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Warn("WebSocket read error: %v", err)
			}
			return
		}
		if err := sess.Deliver(ctx, message); err != nil {
			c.log.Debug("Stopped reading from %s: %v", sess.ClientID, err)
			return
		}
	}
}

// writePump writes queued frames and keep-alive pings to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.opts.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Debug("Failed to write message: %v", err)
				c.Close()
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}
