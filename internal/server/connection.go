package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/goevery/crawlcast/internal/rpc"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

var ErrConnectionClosed = errors.New("connection closed")

type ConnectionOptions struct {
	// OutboundBuffer is the number of frames queued before Send blocks.
	OutboundBuffer int
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	// PongTimeout must be longer than PingInterval.
	PongTimeout time.Duration
	ReadLimit   int64
}

func DefaultConnectionOptions() ConnectionOptions {
	return ConnectionOptions{
		OutboundBuffer: 16,
		WriteTimeout:   5 * time.Second,
		PingInterval:   30 * time.Second,
		PongTimeout:    60 * time.Second,
		ReadLimit:      1024,
	}
}

// WebSocketConnection adapts a gorilla connection to registry.Connection. All
// frames are written by a single writer goroutine fed from the outbound queue.
type WebSocketConnection struct {
	id       string
	clientIp string
	conn     *websocket.Conn
	clock    clockwork.Clock
	options  ConnectionOptions

	outbound  chan any
	done      chan struct{}
	closeOnce sync.Once
}

func NewWebSocketConnection(
	id string,
	clientIp string,
	conn *websocket.Conn,
	clock clockwork.Clock,
	options ConnectionOptions,
) *WebSocketConnection {
	return &WebSocketConnection{
		id:       id,
		clientIp: clientIp,
		conn:     conn,
		clock:    clock,
		options:  options,
		outbound: make(chan any, options.OutboundBuffer),
		done:     make(chan struct{}),
	}
}

func (c *WebSocketConnection) Id() string {
	return c.id
}

func (c *WebSocketConnection) ClientIp() string {
	return c.clientIp
}

// Send queues a notification for the client. It blocks while the queue is full,
// until ctx is done or the connection closes.
func (c *WebSocketConnection) Send(ctx context.Context, method string, params any) error {
	notification, err := rpc.NewNotification(method, params)
	if err != nil {
		return err
	}

	return c.enqueue(ctx, notification)
}

func (c *WebSocketConnection) Reply(ctx context.Context, response rpc.Response) error {
	return c.enqueue(ctx, response)
}

func (c *WebSocketConnection) enqueue(ctx context.Context, frame any) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.outbound <- frame:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *WebSocketConnection) Close() error {
	return c.closeWith(websocket.CloseNormalClosure, "")
}

// closeWith sends a close frame with the given code and tears the connection
// down. Only the first call has any effect.
func (c *WebSocketConnection) closeWith(code int, reason string) error {
	err := ErrConnectionClosed

	c.closeOnce.Do(func() {
		close(c.done)

		deadline := c.clock.Now().Add(c.options.WriteTimeout)
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)

		err = c.conn.Close()
	})

	return err
}

func (c *WebSocketConnection) writePump(logger *zap.Logger) {
	ticker := c.clock.NewTicker(c.options.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.outbound:
			_ = c.conn.SetWriteDeadline(c.clock.Now().Add(c.options.WriteTimeout))

			if err := c.conn.WriteJSON(frame); err != nil {
				logger.Warn("websocket write failed", zap.Error(err))
				_ = c.Close()

				return
			}
		case <-ticker.Chan():
			deadline := c.clock.Now().Add(c.options.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				logger.Debug("websocket ping failed", zap.Error(err))
				_ = c.Close()

				return
			}
		}
	}
}

func (c *WebSocketConnection) configureReader() {
	c.conn.SetReadLimit(c.options.ReadLimit)
	c.extendReadDeadline()
	c.conn.SetPongHandler(func(string) error {
		c.extendReadDeadline()

		return nil
	})
}

func (c *WebSocketConnection) extendReadDeadline() {
	_ = c.conn.SetReadDeadline(c.clock.Now().Add(c.options.PongTimeout))
}
