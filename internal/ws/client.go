package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrSlowConsumer means the connection's send buffer is full. The registry
// treats it like any other delivery failure: the subscriber is dropped so the
// publisher never stalls behind one slow client.
var ErrSlowConsumer = errors.New("ws: send buffer full")

var errClientClosed = errors.New("ws: client closed")

// Client is one websocket connection's outbound half. Send never blocks;
// frames go through a bounded buffer drained by WritePump, which owns all
// writes to the underlying connection.
type Client struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	writeWait time.Duration
	pingEvery time.Duration
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn, bufferSize int, writeWait, pingEvery time.Duration) *Client {
	return &Client{
		conn:      conn,
		send:      make(chan []byte, bufferSize),
		done:      make(chan struct{}),
		writeWait: writeWait,
		pingEvery: pingEvery,
	}
}

// Send queues a frame for delivery. Returns ErrSlowConsumer when the buffer
// is full and errClientClosed after Close.
func (c *Client) Send(payload []byte) error {
	select {
	case <-c.done:
		return errClientClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Close releases the connection. Idempotent; safe from any goroutine.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// WritePump drains the send buffer onto the wire, pinging on idle. It exits
// when the client closes or a write fails, closing the connection either way.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.pingEvery)
	defer ticker.Stop()
	defer c.Close()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
