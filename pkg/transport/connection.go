package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// MessageHandler is the callback executed for every inbound frame.
type MessageHandler func(ctx context.Context, connID uuid.UUID, msg []byte)

// OnCloseHandler runs exactly once when the connection terminates, with the
// error that caused the closure (nil for a clean shutdown).
type OnCloseHandler func(connID uuid.UUID, err error)

type ConnectionConfig struct {
	// ReadTimeout doubles as the heartbeat window: a peer that sends nothing
	// for this long is considered gone and the connection is torn down.
	ReadTimeout time.Duration
	// SendBuffer is the outbound queue depth per connection.
	SendBuffer int
	// SendTimeout bounds how long a reliable Send may wait on a full
	// outbound queue. A peer that stays alive (keeps the read deadline
	// fresh) while never draining writes would otherwise block its room's
	// worker forever; instead the connection is closed and the client
	// recovers through hydration.
	SendTimeout time.Duration
}

// Connection is a single, thread-safe WebSocket connection with separate
// read and write pumps.
type Connection struct {
	id     uuid.UUID
	conn   *websocket.Conn
	config ConnectionConfig
	send   chan []byte

	onMessage MessageHandler
	onClose   OnCloseHandler

	done      chan struct{}
	wg        *sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	logger *slog.Logger
}

func NewConnection(parentCtx context.Context, wg *sync.WaitGroup, conn *websocket.Conn, config ConnectionConfig, logger *slog.Logger) *Connection {
	id := uuid.New()
	ctx, cancel := context.WithCancel(parentCtx)
	if config.SendBuffer <= 0 {
		config.SendBuffer = 256
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = 10 * time.Second
	}
	// Counted from construction so Close balances the WaitGroup even when
	// the connection is torn down before Run.
	wg.Add(1)

	return &Connection{
		id:     id,
		conn:   conn,
		config: config,
		send:   make(chan []byte, config.SendBuffer),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
		wg:     wg,
		logger: logger.With(slog.String("connID", id.String())),
	}
}

func (c *Connection) Run() {
	go c.readPump()
	go c.writePump()
	c.logger.Info("connection established")
}

// readPump pumps inbound frames to the message handler until the peer goes
// away or the read deadline fires.
func (c *Connection) readPump() {
	var readErr error
	defer func() {
		c.Close(readErr)
	}()

	for {
		readCtx, cancelRead := context.WithTimeout(c.ctx, c.config.ReadTimeout)
		typ, r, err := c.conn.Reader(readCtx)
		if err != nil {
			cancelRead()
			readErr = err
			return
		}
		if typ != websocket.MessageText && typ != websocket.MessageBinary {
			cancelRead()
			continue
		}
		msg, err := io.ReadAll(r)
		cancelRead()
		if err != nil {
			readErr = err
			return
		}
		if c.onMessage != nil {
			c.onMessage(c.ctx, c.id, msg)
		}
	}
}

// writePump drains the send channel into the socket.
func (c *Connection) writePump() {
	var writeErr error
	defer func() {
		c.Close(writeErr)
	}()

	for {
		select {
		case msg := <-c.send:
			if err := c.conn.Write(c.ctx, websocket.MessageText, msg); err != nil {
				writeErr = err
				return
			}
		case <-c.ctx.Done():
			c.conn.Close(websocket.StatusNormalClosure, "shutting down")
			return
		}
	}
}

// Send queues a reliable message. It blocks until the message is queued, the
// connection is gone, or the send timeout elapses; a timeout closes the
// connection, since a consumer that stalls past it is not keeping up and
// must re-hydrate anyway. Safe for concurrent use.
func (c *Connection) Send(msg []byte) {
	select {
	case c.send <- msg:
		return
	case <-c.ctx.Done():
		c.logger.Warn("send on closed connection dropped")
		return
	default:
	}

	timer := time.NewTimer(c.config.SendTimeout)
	defer timer.Stop()
	select {
	case c.send <- msg:
	case <-c.ctx.Done():
		c.logger.Warn("send on closed connection dropped")
	case <-timer.C:
		c.logger.Warn("outbound queue stalled past send timeout; closing connection")
		// Close asynchronously: the close handler tears down rooms, and the
		// caller may be the room worker whose delivery is stalling here.
		go c.Close(errors.New("send timeout: slow consumer"))
	}
}

// TrySend queues a droppable message. It never blocks: when the outbound
// queue is saturated the message is discarded and false is returned. Presence
// events go through here so a slow consumer sheds them first.
func (c *Connection) TrySend(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	case <-c.ctx.Done():
		return false
	default:
		return false
	}
}

// Close tears the connection down exactly once and fires the close handler.
func (c *Connection) Close(err error) {
	c.closeOnce.Do(func() {
		c.logger.Info("connection closing", slog.Any("reason", err))
		// The send channel is never closed: concurrent senders race Close, and
		// cancelling the context is enough to stop both pumps.
		c.cancel()
		c.conn.Close(websocket.StatusNormalClosure, "")
		if c.onClose != nil {
			c.onClose(c.id, err)
		}
		c.wg.Done()
		close(c.done)
	})
}

// Done is closed when the connection is fully terminated.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) ID() uuid.UUID {
	return c.id
}

func (c *Connection) SetOnMessageHandler(h MessageHandler) {
	c.onMessage = h
}

func (c *Connection) SetOnCloseHandler(h OnCloseHandler) {
	c.onClose = h
}
